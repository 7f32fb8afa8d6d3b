package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handler receives raw message bodies for one topic.
type Handler func(body []byte)

// RegistryConfig bounds how long Subscribe waits for the connection.
type RegistryConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  10,
	}
}

// Subscriber is the part of the ConnectionManager the Registry uses.
type Subscriber interface {
	IsConnected() bool
	Subscribe(topic Topic) (Stream, error)
	OnStateChange(fn StateListener) func()
}

type entry struct {
	topic   Topic
	gen     uint64
	handler Handler
	stream  Stream
}

// Registry keeps at most one subscription per (room, kind) and re-installs
// them after every reconnection.
type Registry struct {
	conn   Subscriber
	clock  clockwork.Clock
	config RegistryConfig

	mu      sync.Mutex
	entries map[Topic]*entry
	gen     uint64

	stopListening func()
}

func NewRegistry(conn Subscriber, clock clockwork.Clock, config RegistryConfig) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Registry{
		conn:    conn,
		clock:   clock,
		config:  config,
		entries: make(map[Topic]*entry),
	}
	r.stopListening = conn.OnStateChange(func(_, to State) {
		if to == Connected {
			r.resubscribeAll()
		}
	})
	return r
}

// Subscribe attaches handler to the room topic of the given kind, waiting
// for the connection if a handshake is still in flight. Subscribing the same
// topic again replaces the handler. The returned func is idempotent and
// becomes a no-op once the handler has been replaced.
func (r *Registry) Subscribe(ctx context.Context, roomID string, kind Kind, handler Handler) (func(), error) {
	if err := r.waitConnected(ctx); err != nil {
		return nil, err
	}
	topic := Topic{RoomID: roomID, Kind: kind}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	if e, ok := r.entries[topic]; ok {
		e.handler = handler
		e.gen = gen
		r.mu.Unlock()
		log.Debug().Str("topic", topic.String()).Msg("subscription handler replaced")
		return r.unsubscribeFunc(topic, gen), nil
	}
	r.mu.Unlock()

	stream, err := r.conn.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	r.mu.Lock()
	if e, ok := r.entries[topic]; ok {
		// A concurrent Subscribe for the same topic won the race.
		e.handler = handler
		e.gen = gen
		r.mu.Unlock()
		stream.Unsubscribe()
		return r.unsubscribeFunc(topic, gen), nil
	}
	e := &entry{topic: topic, gen: gen, handler: handler, stream: stream}
	r.entries[topic] = e
	r.mu.Unlock()

	go r.pump(e, stream)

	log.Info().Str("room_id", roomID).Str("kind", string(kind)).Msg("subscribed to room topic")
	return r.unsubscribeFunc(topic, gen), nil
}

func (r *Registry) waitConnected(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if r.conn.IsConnected() {
			return nil
		}
		if attempt >= r.config.MaxAttempts {
			return ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.config.PollInterval):
		}
	}
}

func (r *Registry) unsubscribeFunc(topic Topic, gen uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e, ok := r.entries[topic]
			if !ok || e.gen != gen {
				r.mu.Unlock()
				return
			}
			delete(r.entries, topic)
			stream := e.stream
			r.mu.Unlock()

			r.release(topic, stream)
		})
	}
}

func (r *Registry) release(topic Topic, stream Stream) {
	if stream == nil {
		return
	}
	if err := stream.Unsubscribe(); err != nil {
		log.Debug().Err(err).Str("topic", topic.String()).Msg("unsubscribe failed, dropping subscription anyway")
	}
}

// UnsubscribeRoom drops every subscription for roomID.
func (r *Registry) UnsubscribeRoom(roomID string) int {
	r.mu.Lock()
	var dropped []*entry
	for topic, e := range r.entries {
		if topic.RoomID == roomID {
			dropped = append(dropped, e)
			delete(r.entries, topic)
		}
	}
	r.mu.Unlock()

	for _, e := range dropped {
		r.release(e.topic, e.stream)
	}
	if len(dropped) > 0 {
		log.Info().Str("room_id", roomID).Int("count", len(dropped)).Msg("unsubscribed from room topics")
	}
	return len(dropped)
}

func (r *Registry) Has(roomID string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[Topic{RoomID: roomID, Kind: kind}]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close detaches from the connection manager and drops all subscriptions.
func (r *Registry) Close() {
	r.stopListening()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Topic]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		r.release(e.topic, e.stream)
	}
}

// pump feeds stream messages to the entry's current handler until the
// stream ends.
func (r *Registry) pump(e *entry, stream Stream) {
	for {
		select {
		case body := <-stream.C():
			r.mu.Lock()
			var handler Handler
			if r.entries[e.topic] == e && e.stream == stream {
				handler = e.handler
			}
			r.mu.Unlock()
			if handler != nil {
				handler(body)
			}
		case <-stream.Done():
			return
		}
	}
}

// resubscribeAll re-installs entries whose stream died with the previous
// connection.
func (r *Registry) resubscribeAll() {
	r.mu.Lock()
	var stale []*entry
	for _, e := range r.entries {
		if e.stream == nil || isDone(e.stream) {
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		stream, err := r.conn.Subscribe(e.topic)
		if err != nil {
			if !errors.Is(err, ErrNotConnected) {
				log.Error().Err(err).Str("topic", e.topic.String()).Msg("failed to re-subscribe after reconnect")
			}
			r.mu.Lock()
			if r.entries[e.topic] == e {
				e.stream = nil
			}
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		if r.entries[e.topic] != e || (e.stream != nil && !isDone(e.stream)) {
			r.mu.Unlock()
			stream.Unsubscribe()
			continue
		}
		e.stream = stream
		r.mu.Unlock()

		go r.pump(e, stream)
		log.Info().Str("topic", e.topic.String()).Msg("re-subscribed after reconnect")
	}
}

func isDone(s Stream) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
