package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, username string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Nickname: username + "-nick",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(epoch),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestGate_SetTokenPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(epoch)

	g := NewGate(ctx, store, clock)
	assert.False(t, g.Valid())

	token := signToken(t, "alice", epoch.Add(time.Hour))
	require.NoError(t, g.SetToken(ctx, token))
	assert.True(t, g.Valid())
	assert.Equal(t, "alice", g.Username())

	restored := NewGate(ctx, store, clock)
	got, ok := restored.Token()
	require.True(t, ok)
	assert.Equal(t, token, got)
	user, _ := restored.User()
	assert.Equal(t, "alice-nick", user.Nickname)
}

func TestGate_ExpiredPersistedTokenIsCleared(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	require.NoError(t, store.Save(ctx, tokenKey, []byte(signToken(t, "bob", epoch.Add(-time.Minute)))))

	g := NewGate(ctx, store, clockwork.NewFakeClockAt(epoch))

	_, ok := g.Token()
	assert.False(t, ok)
	assert.False(t, store.Has(tokenKey))
}

func TestGate_RejectsGarbage(t *testing.T) {
	g := NewGate(context.Background(), snapshot.NewMemoryStore(), clockwork.NewFakeClockAt(epoch))
	assert.ErrorIs(t, g.SetToken(context.Background(), "not-a-jwt"), ErrInvalidToken)
}

func TestGate_InvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	g := NewGate(ctx, store, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, g.SetToken(ctx, signToken(t, "carol", epoch.Add(time.Hour))))

	var cleared int
	cancel := g.Subscribe(func(ev Event) {
		if ev == EventTokenCleared {
			cleared++
		}
	})
	defer cancel()

	g.Invalidate(ctx)
	g.Invalidate(ctx)

	assert.Equal(t, 1, cleared)
	assert.False(t, g.Valid())
	assert.False(t, store.Has(tokenKey))
	assert.False(t, store.Has(userKey))
}

func TestGate_ExpiryInvalidates(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	g := NewGate(ctx, snapshot.NewMemoryStore(), clock)
	require.NoError(t, g.SetToken(ctx, signToken(t, "dave", epoch.Add(time.Minute))))

	cleared := make(chan struct{}, 1)
	defer g.Subscribe(func(ev Event) {
		if ev == EventTokenCleared {
			cleared <- struct{}{}
		}
	})()

	clock.Advance(time.Minute)

	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("expiry did not invalidate the session")
	}
	_, ok := g.Token()
	assert.False(t, ok)
}
