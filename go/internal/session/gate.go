// Package session holds the current auth token and the user it belongs to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

const (
	tokenKey = "token"
	userKey  = "user"
)

var (
	ErrNoToken      = errors.New("session: no token")
	ErrInvalidToken = errors.New("session: invalid token")
)

// Event is emitted to subscribers when the session changes.
type Event int

const (
	EventTokenSet Event = iota
	EventTokenCleared
)

func (e Event) String() string {
	if e == EventTokenSet {
		return "token_set"
	}
	return "token_cleared"
}

type claims struct {
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// Gate owns the session token. The signature is not checked here; the server
// does that. The gate only reads the subject and expiry so the client can
// decide whether reconnecting is worth trying.
type Gate struct {
	mu        sync.RWMutex
	store     snapshot.Store
	clock     clockwork.Clock
	token     string
	user      models.User
	expiresAt time.Time
	expiry    clockwork.Timer

	listeners map[int]func(Event)
	nextID    int
}

// NewGate restores a persisted session when its token is still valid and
// removes it otherwise.
func NewGate(ctx context.Context, store snapshot.Store, clock clockwork.Clock) *Gate {
	g := &Gate{
		store:     store,
		clock:     clock,
		listeners: make(map[int]func(Event)),
	}

	raw, err := store.Load(ctx, tokenKey)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to load persisted session token")
		}
		return g
	}

	token := string(raw)
	c, err := parseClaims(token)
	if err != nil || !c.ExpiresAt.Time.After(clock.Now()) {
		log.Info().Msg("persisted session token expired, clearing it")
		g.deletePersisted(ctx)
		return g
	}

	user := models.User{Username: c.Subject, Nickname: c.Nickname}
	if rawUser, err := store.Load(ctx, userKey); err == nil {
		var saved models.User
		if json.Unmarshal(rawUser, &saved) == nil && saved.Username == c.Subject {
			user = saved
		}
	}

	g.mu.Lock()
	g.install(token, user, c.ExpiresAt.Time)
	g.mu.Unlock()

	log.Info().Str("username", user.Username).Time("expires_at", c.ExpiresAt.Time).Msg("session restored")
	return g
}

func parseClaims(token string) (*claims, error) {
	c := &claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing sub or exp claim", ErrInvalidToken)
	}
	return c, nil
}

// SetToken installs a freshly issued token and persists it with the user
// record derived from its claims.
func (g *Gate) SetToken(ctx context.Context, token string) error {
	c, err := parseClaims(token)
	if err != nil {
		return err
	}
	if !c.ExpiresAt.Time.After(g.clock.Now()) {
		return fmt.Errorf("%w: token already expired", ErrInvalidToken)
	}
	user := models.User{Username: c.Subject, Nickname: c.Nickname}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := g.store.Save(ctx, tokenKey, []byte(token)); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := g.store.Save(ctx, userKey, userJSON); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	g.mu.Lock()
	g.install(token, user, c.ExpiresAt.Time)
	g.mu.Unlock()

	log.Info().Str("username", user.Username).Msg("session token set")
	g.emit(EventTokenSet)
	return nil
}

// install must be called with g.mu held.
func (g *Gate) install(token string, user models.User, expiresAt time.Time) {
	if g.expiry != nil {
		g.expiry.Stop()
	}
	g.token = token
	g.user = user
	g.expiresAt = expiresAt
	g.expiry = g.clock.AfterFunc(expiresAt.Sub(g.clock.Now()), func() {
		log.Info().Str("username", user.Username).Msg("session token expired")
		g.invalidateToken(context.Background(), token)
	})
}

// Invalidate forgets the session. It is idempotent; subscribers only hear
// about the first call.
func (g *Gate) Invalidate(ctx context.Context) {
	g.mu.RLock()
	token := g.token
	g.mu.RUnlock()
	if token == "" {
		return
	}
	g.invalidateToken(ctx, token)
}

func (g *Gate) invalidateToken(ctx context.Context, token string) {
	g.mu.Lock()
	if g.token == "" || g.token != token {
		g.mu.Unlock()
		return
	}
	if g.expiry != nil {
		g.expiry.Stop()
		g.expiry = nil
	}
	username := g.user.Username
	g.token = ""
	g.user = models.User{}
	g.expiresAt = time.Time{}
	g.mu.Unlock()

	g.deletePersisted(ctx)
	log.Info().Str("username", username).Msg("session invalidated")
	g.emit(EventTokenCleared)
}

func (g *Gate) deletePersisted(ctx context.Context) {
	if err := g.store.Delete(ctx, tokenKey); err != nil {
		log.Warn().Err(err).Msg("failed to delete persisted token")
	}
	if err := g.store.Delete(ctx, userKey); err != nil {
		log.Warn().Err(err).Msg("failed to delete persisted user")
	}
}

// Token returns the current token, if any.
func (g *Gate) Token() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token, g.token != ""
}

// Valid reports whether a token is present and not yet expired.
func (g *Gate) Valid() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != "" && g.expiresAt.After(g.clock.Now())
}

// User returns the identity behind the current token.
func (g *Gate) User() (models.User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user, g.token != ""
}

// Username is a shorthand for User().Username.
func (g *Gate) Username() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user.Username
}

// Subscribe registers fn for session events and returns a cancel func.
func (g *Gate) Subscribe(fn func(Event)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gate) emit(ev Event) {
	g.mu.RLock()
	fns := make([]func(Event), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
