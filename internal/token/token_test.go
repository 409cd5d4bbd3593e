package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)

	t.Run("reads expiry subject and role", func(t *testing.T) {
		raw := signedToken(t, jwt.MapClaims{"sub": "user-42", "exp": exp.Unix(), "role": "admin"})

		tok, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, tok.Raw)
		assert.Equal(t, "user-42", tok.Subject)
		assert.True(t, tok.ExpiresAt.Equal(exp))
		assert.True(t, tok.Admin)
	})

	t.Run("is_admin flag", func(t *testing.T) {
		tok, err := Parse(signedToken(t, jwt.MapClaims{"is_admin": true}))
		require.NoError(t, err)
		assert.True(t, tok.Admin)
		assert.True(t, tok.ExpiresAt.IsZero())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse("")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("not-a-jwt")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFromResponseOpaqueToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tok, err := FromResponse("opaque-token-value", 900, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), tok.ExpiresAt)

	_, err = FromResponse("opaque-token-value", 0, now)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFromResponseJWTWithoutExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := FromResponse(signedToken(t, jwt.MapClaims{"sub": "u"}), 60, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), tok.ExpiresAt)
}

func TestLifetimeChecks(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		remaining  time.Duration
		expired    bool
		refreshDue bool
	}{
		{name: "fresh", remaining: time.Hour},
		{name: "inside window", remaining: 4 * time.Minute, refreshDue: true},
		{name: "inside threshold", remaining: 30 * time.Second, expired: true, refreshDue: true},
		{name: "past expiry", remaining: -time.Minute, expired: true, refreshDue: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &AccessToken{Raw: "x", ExpiresAt: now.Add(tt.remaining)}
			assert.Equal(t, tt.expired, tok.Expired(now))
			assert.Equal(t, tt.refreshDue, tok.RefreshDue(now))
		})
	}

	noExpiry := &AccessToken{Raw: "x"}
	assert.False(t, noExpiry.Expired(now))
	assert.False(t, noExpiry.RefreshDue(now))
}

func TestBearerAndMasked(t *testing.T) {
	tok := &AccessToken{Raw: "abcdefghijklmnopqrstuvwxyz"}
	assert.Equal(t, "Bearer abcdefghijklmnopqrstuvwxyz", tok.Bearer())
	assert.Equal(t, "abcdef****wxyz", tok.Masked())
	assert.Equal(t, "****", (&AccessToken{Raw: "short"}).Masked())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	original := &AccessToken{Raw: "first"}
	require.NoError(t, store.Save(ctx, original))
	original.Raw = "mutated"

	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", tok.Raw)

	require.NoError(t, store.Clear(ctx))
	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestMemoryStoreConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "a"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Save(ctx, &AccessToken{Raw: "b"})
		}()
		go func() {
			defer wg.Done()
			tok, err := store.Load(ctx)
			assert.NoError(t, err)
			if assert.NotNil(t, tok) {
				assert.Contains(t, []string{"a", "b"}, tok.Raw)
			}
		}()
	}
	wg.Wait()
}
