package roomstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

func testRoom(id string, usernames ...string) *models.Room {
	room := &models.Room{
		RoomID:       id,
		RoomName:     "lunch",
		HostUsername: usernames[0],
		MaxUsers:     4,
		State:        models.RoomStateWaiting,
	}
	for _, u := range usernames {
		room.Participants = append(room.Participants, models.Participant{Username: u, Nickname: u + "-nick"})
		room.Users = append(room.Users, u)
	}
	return room
}

func TestStore_SeedsFromSnapshot(t *testing.T) {
	ctx := context.Background()
	snapshots := snapshot.NewMemoryStore()
	data, err := json.Marshal(testRoom("R1", "alice", "bob"))
	require.NoError(t, err)
	require.NoError(t, snapshots.Save(ctx, SnapshotKey, data))

	s := NewStore(ctx, snapshots)

	room := s.Room()
	require.NotNil(t, room)
	assert.Equal(t, "R1", room.RoomID)
	assert.Equal(t, []string{"alice", "bob"}, room.Users)
	assert.True(t, s.Restored())
}

func TestStore_CorruptSnapshotYieldsAbsent(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"garbage":    "{not json",
		"no room id": `{"roomName":"x"}`,
		"wrong type": `[1,2,3]`,
	} {
		t.Run(name, func(t *testing.T) {
			snapshots := snapshot.NewMemoryStore()
			require.NoError(t, snapshots.Save(ctx, SnapshotKey, []byte(raw)))

			s := NewStore(ctx, snapshots)
			assert.Nil(t, s.Room())
			assert.False(t, s.Restored())
		})
	}
}

func TestStore_SetRoomPersistsAndClearDeletes(t *testing.T) {
	ctx := context.Background()
	snapshots := snapshot.NewMemoryStore()
	s := NewStore(ctx, snapshots)

	require.NoError(t, s.SetRoom(ctx, testRoom("R1", "alice")))
	data, err := snapshots.Load(ctx, SnapshotKey)
	require.NoError(t, err)

	var persisted models.Room
	require.NoError(t, json.Unmarshal(data, &persisted))
	if diff := cmp.Diff(s.Room(), &persisted); diff != "" {
		t.Errorf("persisted snapshot differs from memory (-memory +persisted):\n%s", diff)
	}

	s.SetMenuStatus(&models.MenuStatus{UserSubmitStatus: map[string]bool{"alice": false}})
	s.SetDrawResult(&models.DrawResult{SelectedMenu: []string{"pizza"}, SelectedUsername: RandomSelection})

	assert.True(t, s.Clear(ctx))
	assert.False(t, s.Clear(ctx))

	assert.Nil(t, s.Room())
	assert.Nil(t, s.MenuStatus())
	assert.Nil(t, s.DrawResult())
	assert.False(t, snapshots.Has(SnapshotKey))
}

func TestStore_SetRoomNilDeletesSnapshot(t *testing.T) {
	ctx := context.Background()
	snapshots := snapshot.NewMemoryStore()
	s := NewStore(ctx, snapshots)

	require.NoError(t, s.SetRoom(ctx, testRoom("R1", "alice")))
	require.NoError(t, s.SetRoom(ctx, nil))
	assert.False(t, snapshots.Has(SnapshotKey))
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, snapshot.NewMemoryStore())
	require.NoError(t, s.SetRoom(ctx, testRoom("R1", "alice")))

	room := s.Room()
	room.Participants[0].Nickname = "mutated"
	room.Users[0] = "mallory"

	assert.Equal(t, "alice-nick", s.Room().Participants[0].Nickname)
	assert.Equal(t, "alice", s.Room().Users[0])
}

func TestStore_MenuOptionsAreDeterministic(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, snapshot.NewMemoryStore())
	require.NoError(t, s.SetRoom(ctx, testRoom("R1", "carol", "alice")))

	s.SetMenuStatus(&models.MenuStatus{
		SubmittedMenusByUsers: map[string][]string{
			"alice": {"ramen"},
			"carol": {"pizza", "tacos"},
			"zed":   {"pho"},
			"bob":   {"bibimbap"},
			"empty": {},
		},
		UserSubmitStatus: map[string]bool{"alice": true, "carol": true},
	})

	want := []models.MenuOption{
		{Username: "carol", MenuItems: []string{"pizza", "tacos"}},
		{Username: "alice", MenuItems: []string{"ramen"}},
		{Username: "bob", MenuItems: []string{"bibimbap"}},
		{Username: "zed", MenuItems: []string{"pho"}},
	}
	if diff := cmp.Diff(want, s.MenuOptions()); diff != "" {
		t.Errorf("menu options mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_CanStartDraw(t *testing.T) {
	ctx := context.Background()
	submitted := &models.MenuStatus{
		SubmittedMenusByUsers: map[string][]string{"alice": {"pizza"}, "bob": {"ramen"}},
		UserSubmitStatus:      map[string]bool{"alice": true, "bob": true},
	}
	partial := &models.MenuStatus{
		SubmittedMenusByUsers: map[string][]string{"alice": {"pizza"}},
		UserSubmitStatus:      map[string]bool{"alice": true, "bob": false},
	}

	tests := []struct {
		name   string
		state  models.RoomState
		status *models.MenuStatus
		caller string
		want   bool
	}{
		{"host with everyone submitted", models.RoomStateSubmitted, submitted, "alice", true},
		{"inputting with everyone submitted", models.RoomStateInputting, submitted, "alice", true},
		{"not the host", models.RoomStateSubmitted, submitted, "bob", false},
		{"someone still typing", models.RoomStateInputting, partial, "alice", false},
		{"no menu status yet", models.RoomStateInputting, nil, "alice", false},
		{"draw already running", models.RoomStateStarted, submitted, "alice", false},
		{"still waiting", models.RoomStateWaiting, submitted, "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(ctx, snapshot.NewMemoryStore())
			room := testRoom("R1", "alice", "bob")
			room.State = tt.state
			require.NoError(t, s.SetRoom(ctx, room))
			s.SetMenuStatus(tt.status)

			assert.Equal(t, tt.want, s.CanStartDraw(tt.caller))
		})
	}
}

func TestStore_WatchCoalesces(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, snapshot.NewMemoryStore())
	changes, cancel := s.Watch()
	defer cancel()

	require.NoError(t, s.SetRoom(ctx, testRoom("R1", "alice")))
	s.SetDrawResult(&models.DrawResult{SelectedMenu: []string{"pizza"}})

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("watcher not woken")
	}
	select {
	case <-changes:
		t.Fatal("changes should coalesce into a single wake-up")
	default:
	}

	cancel()
	cancel()
	s.Clear(ctx)
	select {
	case <-changes:
		t.Fatal("cancelled watcher still notified")
	default:
	}
}
