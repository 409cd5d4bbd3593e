package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStoreKey(t *testing.T) {
	assert.Equal(t, "matchgate:token:default", NewRedisStore(nil, "", "default").Key())
	assert.Equal(t, "bff:alice", NewRedisStore(nil, "bff:", "alice").Key())
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "matchgate:test:", "default")

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "shared", Subject: "user-1", ExpiresAt: expires}))
	assert.True(t, mr.Exists("matchgate:test:default"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "shared", loaded.Raw)
	assert.Equal(t, "user-1", loaded.Subject)
	assert.True(t, expires.Equal(loaded.ExpiresAt))

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("matchgate:test:default"))
	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestRedisStoreKeyExpiresWithToken(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "", "default")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "short", ExpiresAt: now.Add(10 * time.Minute)}))
	assert.Equal(t, 10*time.Minute, mr.TTL(store.Key()))

	mr.FastForward(10*time.Minute + time.Second)
	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok, "the key should be gone once the token expired")
}

func TestRedisStoreTokenWithoutExpiryHasNoTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "", "opaque")

	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "opaque"}))
	assert.Zero(t, mr.TTL(store.Key()))
	assert.True(t, mr.Exists(store.Key()))
}

func TestRedisStoreExpiredTokenIsNotWritten(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "", "default")

	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "fresh", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "stale", ExpiresAt: time.Now().Add(-time.Minute)}))

	assert.False(t, mr.Exists(store.Key()), "an expired token replaces nothing and clears the slot")
	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestRedisStoreNilSaveClears(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "", "default")

	require.NoError(t, store.Save(ctx, &AccessToken{Raw: "t"}))
	require.NoError(t, store.Save(ctx, nil))
	assert.False(t, mr.Exists(store.Key()))
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "", "default")
	require.NoError(t, mr.Set(store.Key(), "{not json"))

	_, err := store.Load(context.Background())
	assert.ErrorContains(t, err, "corrupt")
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisStore(rdb, "", "default")
	mr.Close()

	_, err = store.Load(context.Background())
	assert.ErrorContains(t, err, "failed to read token from redis")
}
