package roomflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
	"github.com/mcdev12/bobgourmet/go/internal/realtime"
	"github.com/mcdev12/bobgourmet/go/internal/roomstate"
	"github.com/mcdev12/bobgourmet/go/internal/session"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

type MockRoomAPI struct {
	mock.Mock
}

func (m *MockRoomAPI) GetAllActiveRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]models.Room)
	return rooms, args.Error(1)
}

func (m *MockRoomAPI) CreateRoom(ctx context.Context, req models.CreateRoomRequest) (*models.Room, error) {
	args := m.Called(ctx, req)
	return roomArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) JoinRoom(ctx context.Context, roomID, password string) (*models.Room, error) {
	args := m.Called(ctx, roomID, password)
	return roomArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) LeaveRoom(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *MockRoomAPI) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	return roomArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) SubmitMenu(ctx context.Context, roomID string, menus []string) (*models.MenuStatus, error) {
	args := m.Called(ctx, roomID, menus)
	return statusArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) StartDraw(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	return roomArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) ResetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	return roomArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) RecommendMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error) {
	args := m.Called(ctx, roomID, menuKey)
	return statusArg(args, 0), args.Error(1)
}

func (m *MockRoomAPI) DislikeMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error) {
	args := m.Called(ctx, roomID, menuKey)
	return statusArg(args, 0), args.Error(1)
}

func roomArg(args mock.Arguments, i int) *models.Room {
	room, _ := args.Get(i).(*models.Room)
	return room
}

func statusArg(args mock.Arguments, i int) *models.MenuStatus {
	status, _ := args.Get(i).(*models.MenuStatus)
	return status
}

type fakeGate struct {
	mu          sync.Mutex
	token       string
	username    string
	invalidated int
	listeners   []func(session.Event)
}

func (g *fakeGate) Token() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token, g.token != ""
}

func (g *fakeGate) Valid() bool {
	_, ok := g.Token()
	return ok
}

func (g *fakeGate) Username() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.username
}

func (g *fakeGate) Invalidate(context.Context) {
	g.mu.Lock()
	g.token = ""
	g.invalidated++
	g.mu.Unlock()
	g.emit(session.EventTokenCleared)
}

func (g *fakeGate) Subscribe(fn func(session.Event)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
	return func() {}
}

func (g *fakeGate) emit(ev session.Event) {
	g.mu.Lock()
	fns := append([]func(session.Event){}, g.listeners...)
	g.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeConnector struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	connects    int
	disconnects int
	tokens      []string
	listeners   []realtime.StateListener
}

func (c *fakeConnector) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.tokens = append(c.tokens, token)
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

func (c *fakeConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConnector) OnStateChange(fn realtime.StateListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
	return func() {}
}

func (c *fakeConnector) emit(from, to realtime.State) {
	c.mu.Lock()
	c.connected = to == realtime.Connected
	fns := append([]realtime.StateListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(from, to)
	}
}

func (c *fakeConnector) connectedWith() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.tokens...)
}

func (c *fakeConnector) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeSubscriptions struct {
	mu       sync.Mutex
	err      error
	handlers map[realtime.Topic]realtime.Handler
	removed  []string
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{handlers: make(map[realtime.Topic]realtime.Handler)}
}

func (f *fakeSubscriptions) Subscribe(ctx context.Context, roomID string, kind realtime.Kind, handler realtime.Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	topic := realtime.Topic{RoomID: roomID, Kind: kind}
	f.handlers[topic] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
	}, nil
}

func (f *fakeSubscriptions) UnsubscribeRoom(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for topic := range f.handlers {
		if topic.RoomID == roomID {
			delete(f.handlers, topic)
			n++
		}
	}
	f.removed = append(f.removed, roomID)
	return n
}

// attached reports whether every room topic of roomID is subscribed.
func (f *fakeSubscriptions) attached(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, kind := range realtime.RoomKinds {
		if _, ok := f.handlers[realtime.Topic{RoomID: roomID, Kind: kind}]; !ok {
			return false
		}
	}
	return true
}

func (f *fakeSubscriptions) count(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for topic := range f.handlers {
		if topic.RoomID == roomID {
			n++
		}
	}
	return n
}

func (f *fakeSubscriptions) handler(roomID string, kind realtime.Kind) realtime.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[realtime.Topic{RoomID: roomID, Kind: kind}]
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (n *recordingNotifier) Notify(severity notify.Severity, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notify.Notification{Severity: severity, Message: message})
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Severity.String()+": "+note.Message)
	}
	return out
}

func (n *recordingNotifier) count(severity notify.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.notes {
		if note.Severity == severity {
			c++
		}
	}
	return c
}

type harness struct {
	api       *MockRoomAPI
	gate      *fakeGate
	conn      *fakeConnector
	subs      *fakeSubscriptions
	snapshots *snapshot.MemoryStore
	store     *roomstate.Store
	notes     *recordingNotifier
	svc       *Service
	redirects int
}

// newHarness builds a Service for "alice". A non-nil persisted room is
// written to the snapshot store before the state store is created.
func newHarness(t *testing.T, persisted *models.Room) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		api:       &MockRoomAPI{},
		gate:      &fakeGate{token: "tok-alice", username: "alice"},
		conn:      &fakeConnector{},
		subs:      newFakeSubscriptions(),
		snapshots: snapshot.NewMemoryStore(),
		notes:     &recordingNotifier{},
	}
	if persisted != nil {
		data, err := json.Marshal(persisted)
		require.NoError(t, err)
		require.NoError(t, h.snapshots.Save(ctx, roomstate.SnapshotKey, data))
	}
	h.store = roomstate.NewStore(ctx, h.snapshots)
	h.svc = NewService(h.gate, h.api, h.conn, h.subs, h.store, h.notes,
		WithLoginRedirect(func() { h.redirects++ }))
	t.Cleanup(func() { h.api.AssertExpectations(t) })
	return h
}

func testRoom(id string, usernames ...string) *models.Room {
	room := &models.Room{
		RoomID:       id,
		RoomName:     "lunch " + id,
		HostUsername: usernames[0],
		MaxUsers:     4,
		State:        models.RoomStateWaiting,
	}
	for _, u := range usernames {
		room.Participants = append(room.Participants, models.Participant{Username: u, Nickname: u})
		room.Users = append(room.Users, u)
	}
	return room
}
