package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionConfig holds the reconnect policy
type ConnectionConfig struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// DefaultConnectionConfig returns the fixed 5s reconnect policy.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ReconnectDelay: 5 * time.Second,
		DialTimeout:    30 * time.Second,
	}
}

// StateListener observes state transitions.
type StateListener func(from, to State)

type transition struct{ from, to State }

type dialAttempt struct {
	token string
	done  chan struct{}
	err   error
}

// ConnectionManager owns the single broker connection of a session. Every
// open and close of the transport goes through it.
type ConnectionManager struct {
	transport Transport
	clock     clockwork.Clock
	config    ConnectionConfig

	mu             sync.Mutex
	state          State
	token          string
	conn           Conn
	epoch          uint64
	reconnectTimer clockwork.Timer
	inflight       *dialAttempt

	listenerMu   sync.Mutex
	listeners    map[int]StateListener
	nextListener int
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(transport Transport, clock clockwork.Clock, config ConnectionConfig) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		transport: transport,
		clock:     clock,
		config:    config,
		state:     Disconnected,
		listeners: make(map[int]StateListener),
	}
}

// Connect establishes the transport for token. A repeated call with the
// active token returns immediately, a call with a different token replaces
// the old connection. A first-attempt failure leaves the manager
// Disconnected and is not retried.
func (cm *ConnectionManager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}

	cm.mu.Lock()
	if cm.token == token {
		switch {
		case cm.state == Connected:
			cm.mu.Unlock()
			return nil
		case cm.inflight != nil:
			attempt := cm.inflight
			cm.mu.Unlock()
			return cm.wait(ctx, attempt)
		}
	}

	var stale Conn
	if cm.token != token || cm.state == Reconnecting {
		cm.epoch++
		stale = cm.conn
		cm.conn = nil
		cm.stopReconnectLocked()
	}
	cm.token = token
	epoch := cm.epoch
	attempt := &dialAttempt{token: token, done: make(chan struct{})}
	cm.inflight = attempt
	transitions := cm.setStateLocked(Connecting)
	cm.mu.Unlock()

	cm.emit(transitions)
	if stale != nil {
		log.Info().Msg("closing connection for previous token")
		stale.Close()
	}

	cm.dial(ctx, epoch, attempt, false)
	return attempt.err
}

func (cm *ConnectionManager) wait(ctx context.Context, attempt *dialAttempt) error {
	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs one transport attempt and applies its outcome if epoch is
// still current.
func (cm *ConnectionManager) dial(ctx context.Context, epoch uint64, attempt *dialAttempt, reconnecting bool) {
	if cm.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cm.config.DialTimeout)
		defer cancel()
	}

	conn, err := cm.transport.Dial(ctx, attempt.token)

	cm.mu.Lock()
	if epoch != cm.epoch {
		cm.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		attempt.err = ErrSuperseded
		close(attempt.done)
		return
	}
	if cm.inflight == attempt {
		cm.inflight = nil
	}

	var transitions []transition
	if err != nil {
		if reconnecting && !errors.Is(err, ErrRejected) {
			transitions = cm.setStateLocked(Reconnecting)
			cm.scheduleReconnectLocked(epoch)
			log.Warn().Err(err).Dur("retry_in", cm.config.ReconnectDelay).Msg("reconnect attempt failed")
		} else {
			cm.token = ""
			transitions = cm.setStateLocked(Disconnected)
			log.Error().Err(err).Bool("reconnect", reconnecting).Msg("failed to connect to broker")
		}
		attempt.err = err
	} else {
		cm.conn = conn
		transitions = cm.setStateLocked(Connected)
		go cm.watch(epoch, conn)
		log.Info().Bool("reconnect", reconnecting).Msg("broker connection ready")
	}
	cm.mu.Unlock()

	close(attempt.done)
	cm.emit(transitions)
}

// watch waits for conn to end and schedules a reconnect while a token is
// still set.
func (cm *ConnectionManager) watch(epoch uint64, conn Conn) {
	<-conn.Done()

	cm.mu.Lock()
	if epoch != cm.epoch || cm.conn != conn {
		cm.mu.Unlock()
		return
	}
	cm.conn = nil

	var transitions []transition
	if cm.token != "" {
		transitions = cm.setStateLocked(Reconnecting)
		cm.scheduleReconnectLocked(epoch)
		log.Warn().Err(conn.Err()).Dur("retry_in", cm.config.ReconnectDelay).Msg("broker connection lost, scheduling reconnect")
	} else {
		transitions = cm.setStateLocked(Disconnected)
		log.Info().Err(conn.Err()).Msg("broker connection closed")
	}
	cm.mu.Unlock()

	cm.emit(transitions)
}

func (cm *ConnectionManager) scheduleReconnectLocked(epoch uint64) {
	cm.stopReconnectLocked()
	cm.reconnectTimer = cm.clock.AfterFunc(cm.config.ReconnectDelay, func() {
		cm.reconnect(epoch)
	})
}

func (cm *ConnectionManager) stopReconnectLocked() {
	if cm.reconnectTimer != nil {
		cm.reconnectTimer.Stop()
		cm.reconnectTimer = nil
	}
}

func (cm *ConnectionManager) reconnect(epoch uint64) {
	cm.mu.Lock()
	if epoch != cm.epoch || cm.token == "" || cm.state != Reconnecting {
		cm.mu.Unlock()
		return
	}
	cm.reconnectTimer = nil
	attempt := &dialAttempt{token: cm.token, done: make(chan struct{})}
	cm.inflight = attempt
	transitions := cm.setStateLocked(Connecting)
	cm.mu.Unlock()

	cm.emit(transitions)
	log.Info().Msg("reconnecting to broker")
	cm.dial(context.Background(), epoch, attempt, true)
}

// Disconnect closes the connection, cancels any pending reconnect and
// forgets the token. Safe to call any number of times.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	cm.epoch++
	cm.token = ""
	cm.stopReconnectLocked()
	conn := cm.conn
	cm.conn = nil
	cm.inflight = nil
	transitions := cm.setStateLocked(Disconnected)
	cm.mu.Unlock()

	if conn != nil {
		conn.Close()
		log.Info().Msg("broker connection closed by client")
	}
	cm.emit(transitions)
}

func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state == Connected
}

func (cm *ConnectionManager) State() State {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Subscribe opens a stream on the live connection.
func (cm *ConnectionManager) Subscribe(topic Topic) (Stream, error) {
	cm.mu.Lock()
	conn := cm.conn
	connected := cm.state == Connected
	cm.mu.Unlock()

	if !connected || conn == nil {
		return nil, ErrNotConnected
	}
	s, err := conn.Subscribe(topic)
	if errors.Is(err, ErrConnClosed) {
		return nil, ErrNotConnected
	}
	return s, err
}

// OnStateChange registers fn for every transition. Listeners run outside
// the manager's lock, in transition order for a given caller.
func (cm *ConnectionManager) OnStateChange(fn StateListener) func() {
	cm.listenerMu.Lock()
	id := cm.nextListener
	cm.nextListener++
	cm.listeners[id] = fn
	cm.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cm.listenerMu.Lock()
			delete(cm.listeners, id)
			cm.listenerMu.Unlock()
		})
	}
}

func (cm *ConnectionManager) setStateLocked(next State) []transition {
	if cm.state == next {
		return nil
	}
	t := transition{from: cm.state, to: next}
	cm.state = next
	log.Debug().Str("from", t.from.String()).Str("to", t.to.String()).Msg("connection state changed")
	return []transition{t}
}

func (cm *ConnectionManager) emit(transitions []transition) {
	if len(transitions) == 0 {
		return
	}
	cm.listenerMu.Lock()
	listeners := make([]StateListener, 0, len(cm.listeners))
	for _, fn := range cm.listeners {
		listeners = append(listeners, fn)
	}
	cm.listenerMu.Unlock()

	for _, t := range transitions {
		for _, fn := range listeners {
			fn(t.from, t.to)
		}
	}
}
