package realtime

import (
	"context"
	"sync"
)

// Transport opens authenticated broker connections.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	// Subscribe starts delivery for topic. Subscribing to a topic nobody
	// publishes on succeeds and simply never delivers.
	Subscribe(topic Topic) (Stream, error)
	// Done is closed when the connection is gone, whether it was closed
	// locally, dropped by the network or failed its heartbeats.
	Done() <-chan struct{}
	// Err reports why Done was closed; nil after a local Close.
	Err() error
	Close() error
}

// Stream delivers message bodies for one subscription.
type Stream interface {
	C() <-chan []byte
	// Done is closed after Unsubscribe or when the connection drops.
	Done() <-chan struct{}
	// Unsubscribe is idempotent and never fails because the connection is
	// already gone.
	Unsubscribe() error
}

const streamBuffer = 64

// stream is the Stream shared by the transports.
type stream struct {
	id     string
	topic  Topic
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	cancel func() error
}

func newStream(id string, topic Topic) *stream {
	return &stream{
		id:    id,
		topic: topic,
		ch:    make(chan []byte, streamBuffer),
		done:  make(chan struct{}),
	}
}

func (s *stream) C() <-chan []byte      { return s.ch }
func (s *stream) Done() <-chan struct{} { return s.done }

// deliver blocks until the body is queued or the stream or connection ends.
func (s *stream) deliver(body []byte, connDone <-chan struct{}) bool {
	select {
	case s.ch <- body:
		return true
	case <-s.done:
		return false
	case <-connDone:
		return false
	}
}

// end marks the stream finished without talking to the broker.
func (s *stream) end() {
	s.once.Do(func() { close(s.done) })
}

func (s *stream) Unsubscribe() error {
	first := false
	s.once.Do(func() {
		close(s.done)
		first = true
	})
	if first && s.cancel != nil {
		return s.cancel()
	}
	return nil
}
