package realtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StompConfig holds configuration for STOMP-over-WebSocket connections
type StompConfig struct {
	URL              string
	Host             string
	HeartBeat        time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultStompConfig returns defaults matching the room server's broker.
func DefaultStompConfig(wsURL string) StompConfig {
	return StompConfig{
		URL:              wsURL,
		HeartBeat:        10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

// StompTransport speaks STOMP 1.2 over a WebSocket, one frame per message.
type StompTransport struct {
	config StompConfig
	dialer *websocket.Dialer
}

func NewStompTransport(config StompConfig) *StompTransport {
	return &StompTransport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
	}
}

// Dial opens the socket and performs the CONNECT/CONNECTED exchange.
func (t *StompTransport) Dial(ctx context.Context, token string) (Conn, error) {
	ws, resp, err := t.dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	c := &stompConn{
		ws:      ws,
		config:  t.config,
		streams: make(map[string]*stream),
		done:    make(chan struct{}),
	}
	if err := c.handshake(ctx, t.host(), token); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()

	log.Info().
		Str("url", t.config.URL).
		Dur("heartbeat_out", c.outgoing).
		Dur("heartbeat_in", c.incoming).
		Msg("stomp connection established")
	return c, nil
}

func (t *StompTransport) host() string {
	if t.config.Host != "" {
		return t.config.Host
	}
	if u, err := url.Parse(t.config.URL); err == nil {
		return u.Hostname()
	}
	return "localhost"
}

type stompConn struct {
	ws     *websocket.Conn
	config StompConfig

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]*stream

	outgoing time.Duration
	incoming time.Duration

	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (c *stompConn) handshake(ctx context.Context, host, token string) error {
	hb := strconv.FormatInt(c.config.HeartBeat.Milliseconds(), 10)
	connect := frame.New(frame.CONNECT,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", hb+","+hb,
		"Authorization", "Bearer "+token,
	)
	if err := c.writeFrame(connect); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	deadline := time.Now().Add(c.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetReadDeadline(deadline)

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read CONNECTED: %w", err)
		}
		f, err := decodeFrame(message)
		if err != nil {
			return fmt.Errorf("decode CONNECTED: %w", err)
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			c.negotiateHeartBeat(f.Header.Get("heart-beat"))
			c.ws.SetReadDeadline(c.readDeadline())
			return nil
		case frame.ERROR:
			return fmt.Errorf("%w: %s", ErrRejected, errorMessage(f))
		default:
			return fmt.Errorf("%w: unexpected %s frame during handshake", ErrRejected, f.Command)
		}
	}
}

// negotiateHeartBeat applies the STOMP rule: each side uses the larger of
// what it offers and what the peer wants, and zero disables.
func (c *stompConn) negotiateHeartBeat(server string) {
	sx, sy := parseHeartBeat(server)
	ours := c.config.HeartBeat
	if ours > 0 && sy > 0 {
		c.outgoing = max(ours, sy)
	}
	if ours > 0 && sx > 0 {
		c.incoming = max(ours, sx)
	}
}

func parseHeartBeat(v string) (time.Duration, time.Duration) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

func (c *stompConn) readDeadline() time.Time {
	if c.incoming <= 0 {
		return time.Time{}
	}
	return time.Now().Add(2 * c.incoming)
}

func (c *stompConn) Subscribe(topic Topic) (Stream, error) {
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}

	s := newStream("sub-"+uuid.NewString(), topic)
	s.cancel = func() error { return c.unsubscribe(s) }

	c.mu.Lock()
	c.streams[s.id] = s
	c.mu.Unlock()

	subscribe := frame.New(frame.SUBSCRIBE,
		"id", s.id,
		"destination", topic.Destination(),
		"ack", "auto",
	)
	if err := c.writeFrame(subscribe); err != nil {
		c.mu.Lock()
		delete(c.streams, s.id)
		c.mu.Unlock()
		s.end()
		return nil, fmt.Errorf("send SUBSCRIBE %s: %w", topic.Destination(), err)
	}

	log.Debug().Str("subscription_id", s.id).Str("destination", topic.Destination()).Msg("stomp subscribed")
	return s, nil
}

func (c *stompConn) unsubscribe(s *stream) error {
	c.mu.Lock()
	delete(c.streams, s.id)
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}
	if err := c.writeFrame(frame.New(frame.UNSUBSCRIBE, "id", s.id)); err != nil {
		log.Debug().Err(err).Str("subscription_id", s.id).Msg("UNSUBSCRIBE not sent, connection closing")
	}
	return nil
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends DISCONNECT on a best-effort basis and closes the socket.
func (c *stompConn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.closing.Store(true)
	if err := c.writeFrame(frame.New(frame.DISCONNECT)); err != nil {
		log.Debug().Err(err).Msg("DISCONNECT not sent")
	}
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *stompConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		if !c.closing.Load() {
			c.err = err
		}
		close(c.done)
		c.ws.Close()

		c.mu.Lock()
		streams := c.streams
		c.streams = make(map[string]*stream)
		c.mu.Unlock()
		for _, s := range streams {
			s.end()
		}
	})
}

func (c *stompConn) writeFrame(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return fmt.Errorf("encode %s: %w", f.Command, err)
	}
	return c.write(websocket.TextMessage, buf.Bytes())
}

func (c *stompConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// writePump sends heart-beat newlines while the connection is up.
func (c *stompConn) writePump() {
	if c.outgoing <= 0 {
		return
	}
	ticker := time.NewTicker(c.outgoing)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.TextMessage, []byte("\n")); err != nil {
				log.Warn().Err(err).Msg("failed to send heart-beat")
				c.shutdown(fmt.Errorf("heart-beat write: %w", err))
				return
			}
		}
	}
}

// readPump dispatches MESSAGE frames to their streams. Any read error,
// including a missed heart-beat deadline, ends the connection.
func (c *stompConn) readPump() {
	c.ws.SetReadLimit(c.config.MaxMessageSize)

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !c.closing.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("unexpected stomp socket close")
				}
			}
			c.shutdown(err)
			return
		}
		c.ws.SetReadDeadline(c.readDeadline())

		f, err := decodeFrame(message)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable stomp frame")
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			c.dispatch(f)
		case frame.ERROR:
			msg := errorMessage(f)
			log.Error().Str("message", msg).Msg("stomp broker sent ERROR")
			c.shutdown(fmt.Errorf("broker error: %s", msg))
			return
		case frame.RECEIPT:
		default:
			log.Debug().Str("command", f.Command).Msg("ignoring stomp frame")
		}
	}
}

func (c *stompConn) dispatch(f *frame.Frame) {
	id := f.Header.Get("subscription")
	c.mu.Lock()
	s := c.streams[id]
	c.mu.Unlock()
	if s == nil {
		log.Debug().Str("subscription_id", id).Msg("message for unknown subscription")
		return
	}
	s.deliver(f.Body, c.done)
}

// decodeFrame returns nil, nil for heart-beat messages.
func decodeFrame(message []byte) (*frame.Frame, error) {
	if len(bytes.TrimSpace(bytes.Trim(message, "\x00"))) == 0 {
		return nil, nil
	}
	return frame.NewReader(bytes.NewReader(message)).Read()
}

func errorMessage(f *frame.Frame) string {
	if msg := f.Header.Get("message"); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(f.Body))
}
