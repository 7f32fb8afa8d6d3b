package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS relay transport.
type NATSConfig struct {
	URL          string
	Name         string
	PingInterval time.Duration
	MaxPingsOut  int
	Timeout      time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:          url,
		Name:         "bobgourmet-roomsync",
		PingInterval: 10 * time.Second,
		MaxPingsOut:  2,
		Timeout:      10 * time.Second,
	}
}

// NATSTransport consumes room topics relayed onto NATS subjects. The client
// library's own reconnect is disabled so drops surface to the
// ConnectionManager like any other transport.
type NATSTransport struct {
	config NATSConfig
}

func NewNATSTransport(config NATSConfig) *NATSTransport {
	return &NATSTransport{config: config}
}

func (t *NATSTransport) Dial(ctx context.Context, token string) (Conn, error) {
	timeout := t.config.Timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &natsConn{
		streams: make(map[string]*stream),
		done:    make(chan struct{}),
	}

	nc, err := nats.Connect(t.config.URL,
		nats.Name(t.config.Name),
		nats.Token(token),
		nats.NoReconnect(),
		nats.PingInterval(t.config.PingInterval),
		nats.MaxPingsOutstanding(t.config.MaxPingsOut),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats connection lost")
			}
			c.shutdown(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.shutdown(nil)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("nats async error")
		}),
	)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil, fmt.Errorf("connect to NATS at %s: %w", t.config.URL, err)
	}
	c.nc = nc

	log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connection established")
	return c, nil
}

type natsConn struct {
	nc *nats.Conn

	mu      sync.Mutex
	streams map[string]*stream

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (c *natsConn) Subscribe(topic Topic) (Stream, error) {
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}

	s := newStream("nats-"+uuid.NewString(), topic)
	sub, err := c.nc.Subscribe(topic.Subject(), func(msg *nats.Msg) {
		s.deliver(msg.Data, c.done)
	})
	if err != nil {
		s.end()
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrConnClosed
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic.Subject(), err)
	}
	s.cancel = func() error {
		c.mu.Lock()
		delete(c.streams, s.id)
		c.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil &&
			!errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			return fmt.Errorf("unsubscribe %s: %w", topic.Subject(), err)
		}
		return nil
	}

	c.mu.Lock()
	c.streams[s.id] = s
	c.mu.Unlock()

	log.Debug().Str("subject", topic.Subject()).Msg("nats subscribed")
	return s, nil
}

func (c *natsConn) Done() <-chan struct{} { return c.done }

func (c *natsConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *natsConn) Close() error {
	c.nc.Close()
	c.shutdown(nil)
	return nil
}

func (c *natsConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)

		c.mu.Lock()
		streams := c.streams
		c.streams = make(map[string]*stream)
		c.mu.Unlock()
		for _, s := range streams {
			s.end()
		}
	})
}
