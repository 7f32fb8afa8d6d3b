package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	dials []string
	errs  []error
	conns []*fakeConn
	hold  chan struct{}
}

// failNext queues errors returned by the next dials, in order.
func (t *fakeTransport) failNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, errs...)
}

func (t *fakeTransport) Dial(ctx context.Context, token string) (Conn, error) {
	t.mu.Lock()
	t.dials = append(t.dials, token)
	var err error
	if len(t.errs) > 0 {
		err, t.errs = t.errs[0], t.errs[1:]
	}
	hold := t.hold
	t.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	mu      sync.Mutex
	streams map[string]*stream
	nextID  int
	closed  bool

	done chan struct{}
	once sync.Once
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{streams: make(map[string]*stream), done: make(chan struct{})}
}

func (c *fakeConn) Subscribe(topic Topic) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	c.nextID++
	s := newStream(fmt.Sprintf("fake-%d", c.nextID), topic)
	s.cancel = func() error {
		c.mu.Lock()
		delete(c.streams, s.id)
		c.mu.Unlock()
		return nil
	}
	c.streams[s.id] = s
	return s, nil
}

func (c *fakeConn) publish(topic Topic, body string) int {
	c.mu.Lock()
	var targets []*stream
	for _, s := range c.streams {
		if s.topic == topic {
			targets = append(targets, s)
		}
	}
	c.mu.Unlock()
	for _, s := range targets {
		s.deliver([]byte(body), c.done)
	}
	return len(targets)
}

func (c *fakeConn) subscriptions(topic Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.streams {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// drop simulates the network going away.
func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		streams := c.streams
		c.streams = make(map[string]*stream)
		c.mu.Unlock()
		close(c.done)
		for _, s := range streams {
			s.end()
		}
	})
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(nil)
	return nil
}

// stateRecorder collects transitions reported by OnStateChange.
type stateRecorder struct {
	mu   sync.Mutex
	seen []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, to)
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.seen...)
}

func waitForState(t *testing.T, cm *ConnectionManager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return cm.State() == want }, time.Second, 5*time.Millisecond,
		"connection never reached %s, stuck at %s", want, cm.State())
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
