package matchroom_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bobgourmet/go/clients"
	"github.com/mcdev12/bobgourmet/go/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *MatchRoomClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewMatchRoomClient(srv.URL)
	c.SetTokenSource(func() (string, bool) { return "tok", true })
	return c
}

func TestGetRoom_SendsBearerAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/MatchRooms/R1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		json.NewEncoder(w).Encode(models.Room{RoomID: "R1", RoomName: "lunch", State: models.RoomStateWaiting})
	})

	room, err := c.GetRoom(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "lunch", room.RoomName)
}

func TestGetRoom_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetRoom(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, clients.IsNotFound(err))
	assert.False(t, clients.IsServerError(err))
}

func TestJoinRoom_ErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body joinRoomRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body.Password)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"room is full"}`))
	})

	_, err := c.JoinRoom(context.Background(), "R1", "secret")
	assert.Equal(t, "room is full", clients.MessageOf(err, "failed to join room"))
	assert.Equal(t, http.StatusBadRequest, clients.StatusOf(err))
}

func TestLeaveRoom_PlainTextBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/MatchRooms/R1/leave", r.URL.Path)
		w.Write([]byte("Left Room successfully"))
	})

	assert.NoError(t, c.LeaveRoom(context.Background(), "R1"))
}

func TestUnauthorizedHook(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	var hits []string
	c.OnUnauthorized(func(endpoint string) { hits = append(hits, endpoint) })

	_, err := c.GetAllActiveRooms(context.Background())
	assert.True(t, clients.IsUnauthorized(err))

	_, err = c.Login(context.Background(), "alice", "wrong")
	assert.True(t, clients.IsUnauthorized(err))

	assert.Equal(t, []string{MatchRoomsEndpoint}, hits)
}

func TestSubmitMenu(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body models.MenuSubmission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"pizza", "ramen"}, body.Menus)
		json.NewEncoder(w).Encode(models.MenuStatus{
			SubmittedMenusByUsers: map[string][]string{"alice": body.Menus},
			UserSubmitStatus:      map[string]bool{"alice": true},
		})
	})

	status, err := c.SubmitMenu(context.Background(), "R1", []string{"pizza", "ramen"})
	require.NoError(t, err)
	assert.True(t, status.HasSubmitted("alice"))
}

func TestMenuPathEscapesKey(t *testing.T) {
	assert.Equal(t, "/MatchRooms/R1/menus/kimchi%20stew/dislike", menuPath(DislikeEndpoint, "R1", "kimchi stew"))
}

func TestStartDrawAndReset_ReturnRoom(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/MatchRooms/R1/start-draw":
			json.NewEncoder(w).Encode(models.Room{RoomID: "R1", State: models.RoomStateResultViewing})
		case "/api/MatchRooms/R1/reset":
			json.NewEncoder(w).Encode(models.Room{RoomID: "R1", State: models.RoomStateInputting})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	room, err := c.StartDraw(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateResultViewing, room.State)

	room, err = c.ResetRoom(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateInputting, room.State)
}

func TestRecommendMenu_ReturnsStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/MatchRooms/R1/menus/pizza/recommend", r.URL.Path)
		json.NewEncoder(w).Encode(models.MenuStatus{
			MenuVotes: map[string]models.MenuVoteDetails{"pizza": {Recommenders: []string{"bob"}}},
		})
	})

	status, err := c.RecommendMenu(context.Background(), "R1", "pizza")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, status.MenuVotes["pizza"].Recommenders)
}
