// Package roomflow drives room membership on top of the realtime
// connection and the room state store.
package roomflow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
	"github.com/mcdev12/bobgourmet/go/internal/realtime"
	"github.com/mcdev12/bobgourmet/go/internal/roomstate"
	"github.com/mcdev12/bobgourmet/go/internal/session"
)

// SessionGate is the part of the session the flows read and invalidate.
type SessionGate interface {
	Token() (string, bool)
	Valid() bool
	Username() string
	Invalidate(ctx context.Context)
	Subscribe(fn func(session.Event)) func()
}

// RoomAPI is the request layer.
type RoomAPI interface {
	GetAllActiveRooms(ctx context.Context) ([]models.Room, error)
	CreateRoom(ctx context.Context, req models.CreateRoomRequest) (*models.Room, error)
	JoinRoom(ctx context.Context, roomID, password string) (*models.Room, error)
	LeaveRoom(ctx context.Context, roomID string) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SubmitMenu(ctx context.Context, roomID string, menus []string) (*models.MenuStatus, error)
	StartDraw(ctx context.Context, roomID string) (*models.Room, error)
	ResetRoom(ctx context.Context, roomID string) (*models.Room, error)
	RecommendMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error)
	DislikeMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error)
}

// Connector is the connection manager as seen by the flows.
type Connector interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	IsConnected() bool
	OnStateChange(fn realtime.StateListener) func()
}

// Subscriptions is the subscription registry as seen by the flows.
type Subscriptions interface {
	Subscribe(ctx context.Context, roomID string, kind realtime.Kind, handler realtime.Handler) (func(), error)
	UnsubscribeRoom(roomID string) int
}

// Notification texts shown to the user.
const (
	msgRealtimeUnavailable = "Real-time updates unavailable. Please refresh the page."
	msgRoomClosed          = "Room has been closed by the host"
	msgSessionExpired      = "Session expired. Please log in again."
	msgConnectFailed       = "Connection failed. Please check your internet connection."
)

// Option configures a Service.
type Option func(*Service)

// WithLoginRedirect sets the hook called after session expiry teardown.
func WithLoginRedirect(fn func()) Option {
	return func(s *Service) { s.loginRedirect = fn }
}

// Service owns the room lifecycle: joining, leaving, recovery and every
// teardown trigger.
type Service struct {
	gate     SessionGate
	api      RoomAPI
	conn     Connector
	subs     Subscriptions
	store    *roomstate.Store
	router   *roomstate.Router
	notifier notify.Notifier
	recovery *Recovery

	loginRedirect func()

	mu           sync.Mutex
	ctx          context.Context
	stops        []func()
	reconnecting bool
}

func NewService(
	gate SessionGate,
	api RoomAPI,
	conn Connector,
	subs Subscriptions,
	store *roomstate.Store,
	notifier notify.Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		gate:          gate,
		api:           api,
		conn:          conn,
		subs:          subs,
		store:         store,
		notifier:      notifier,
		loginRedirect: func() {},
		ctx:           context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = roomstate.NewRouter(store, gate.Username, notifier)
	s.router.OnClosed(s.handleClosed)
	s.recovery = &Recovery{
		gate:     gate,
		api:      api,
		conn:     conn,
		store:    store,
		attach:   s.attach,
		detach:   s.detach,
		notifier: notifier,
	}
	return s
}

func (s *Service) Store() *roomstate.Store   { return s.store }
func (s *Service) Recovery() *Recovery       { return s.recovery }
func (s *Service) Router() *roomstate.Router { return s.router }

// Start wires session and connection events and reconciles any persisted
// room. Without a valid session the persisted room is dropped.
func (s *Service) Start(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	s.ctx = ctx
	s.stops = append(s.stops,
		s.gate.Subscribe(s.handleSessionEvent),
		s.conn.OnStateChange(s.handleConnectionState),
	)
	s.mu.Unlock()

	if !s.gate.Valid() {
		if s.store.Clear(ctx) {
			log.Info().Msg("no valid session, dropped persisted room")
		}
		return OutcomeNoSession, nil
	}
	return s.recovery.Run(ctx)
}

// Close detaches listeners and closes the connection. The persisted room is
// kept so the next start can recover it.
func (s *Service) Close() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if roomID := s.store.RoomID(); roomID != "" {
		s.subs.UnsubscribeRoom(roomID)
	}
	s.conn.Disconnect()
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Service) handleSessionEvent(ev session.Event) {
	switch ev {
	case session.EventTokenSet:
		go func() {
			ctx := s.context()
			// The manager replaces a connection held for an older token.
			if token, ok := s.gate.Token(); ok {
				if err := s.conn.Connect(ctx, token); err != nil {
					log.Warn().Err(err).Msg("could not connect with the new session")
				}
			}
			if _, err := s.recovery.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("recovery after login failed")
			}
		}()
	case session.EventTokenCleared:
		s.Teardown(context.Background(), "session cleared")
	}
}

// handleConnectionState re-runs recovery once a dropped connection is back.
func (s *Service) handleConnectionState(from, to realtime.State) {
	s.mu.Lock()
	switch to {
	case realtime.Reconnecting:
		s.reconnecting = true
		s.mu.Unlock()
		return
	case realtime.Disconnected:
		s.reconnecting = false
		s.mu.Unlock()
		return
	case realtime.Connected:
		if !s.reconnecting {
			s.mu.Unlock()
			return
		}
		s.reconnecting = false
	default:
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	log.Info().Str("from", from.String()).Msg("connection restored, re-verifying room")
	go func() {
		if _, err := s.recovery.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("recovery after reconnect failed")
		}
	}()
}

// HandleUnauthorized is the request layer's session-expiry hook: full
// teardown, session invalidation, then the login redirect.
func (s *Service) HandleUnauthorized(endpoint string) {
	log.Warn().Str("endpoint", endpoint).Msg("authorization rejected, ending session")
	ctx := context.Background()
	s.Teardown(ctx, "unauthorized")
	s.gate.Invalidate(ctx)
	s.notifier.Notify(notify.SeverityError, msgSessionExpired)
	s.loginRedirect()
}

// Teardown unsubscribes the current room, clears room state and closes the
// connection. Every step is idempotent, so overlapping triggers are safe.
// It reports whether any room state was cleared.
func (s *Service) Teardown(ctx context.Context, reason string) bool {
	roomID := s.store.RoomID()
	if roomID != "" {
		s.subs.UnsubscribeRoom(roomID)
	}
	cleared := s.store.Clear(ctx)
	s.conn.Disconnect()

	if cleared {
		log.Info().Str("room_id", roomID).Str("reason", reason).Msg("room torn down")
	}
	return cleared
}

func (s *Service) handleClosed(roomID string, notice roomstate.ClosedNotice) {
	if current := s.store.RoomID(); current != roomID {
		// Closure for a room we already left; only drop its topics.
		s.subs.UnsubscribeRoom(roomID)
		return
	}
	if s.Teardown(context.Background(), "closed by server") {
		s.notifier.Notify(notify.SeverityError, msgRoomClosed)
	}
}

// attach subscribes every topic of roomID. A connection that never became
// ready degrades to non-realtime mode with a warning rather than failing.
func (s *Service) attach(ctx context.Context, roomID string) error {
	frames := func(body []byte) { s.router.HandleFrameFor(roomID, body) }
	closure := func(body []byte) { s.router.HandleClosure(roomID, body) }
	for _, kind := range realtime.RoomKinds {
		handler := frames
		if kind == realtime.KindRoomClosure {
			handler = closure
		}
		if _, err := s.subs.Subscribe(ctx, roomID, kind, handler); err != nil {
			if errors.Is(err, realtime.ErrNotConnected) {
				log.Warn().Str("room_id", roomID).Msg("realtime connection not ready, continuing without live updates")
				s.notifier.Notify(notify.SeverityWarning, msgRealtimeUnavailable)
			} else {
				log.Error().Err(err).Str("room_id", roomID).Str("kind", string(kind)).Msg("failed to subscribe to room topic")
			}
			return err
		}
	}
	return nil
}

func (s *Service) detach(roomID string) {
	s.subs.UnsubscribeRoom(roomID)
}

// ensureConnected connects with the session token. Failures are reported
// to the user but do not stop the caller.
func (s *Service) ensureConnected(ctx context.Context) error {
	token, ok := s.gate.Token()
	if !ok {
		return ErrNoSession
	}
	if s.conn.IsConnected() {
		return nil
	}
	if err := s.conn.Connect(ctx, token); err != nil {
		log.Warn().Err(err).Msg("could not connect to realtime broker")
		return err
	}
	return nil
}
