package token

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"time"

	"matchgate/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares one token between processes, e.g. several BFF replicas
// serving the same session profile. Keys expire with the token.
type RedisStore struct {
	rdb redis.Cmdable
	key string
	now func() time.Time
}

// NewRedisStore stores the token for profile under prefix+profile.
func NewRedisStore(rdb redis.Cmdable, prefix, profile string) *RedisStore {
	if prefix == "" {
		prefix = "matchgate:token:"
	}
	return &RedisStore{rdb: rdb, key: prefix + profile, now: time.Now}
}

// Key returns the Redis key holding the token.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) (*AccessToken, error) {
	bs, err := s.rdb.Get(ctx, s.key).Bytes()
	if goerrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeTokenStore, "failed to read token from redis", err).
			WithContext("key", s.key)
	}

	var tok AccessToken
	if err := json.Unmarshal(bs, &tok); err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeInvalidFormat, "stored token is corrupt", err).
			WithContext("key", s.key)
	}
	return &tok, nil
}

func (s *RedisStore) Save(ctx context.Context, tok *AccessToken) error {
	if tok == nil {
		return s.Clear(ctx)
	}

	bs, err := json.Marshal(tok)
	if err != nil {
		return errors.NewStorageError(errors.ErrCodeTokenStore, "failed to encode token", err)
	}

	// zero means no expiry
	var ttl time.Duration
	if !tok.ExpiresAt.IsZero() {
		ttl = tok.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}

	if err := s.rdb.Set(ctx, s.key, bs, ttl).Err(); err != nil {
		return errors.NewStorageError(errors.ErrCodeTokenStore, "failed to write token to redis", err).
			WithContext("key", s.key)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return errors.NewStorageError(errors.ErrCodeTokenStore, "failed to delete token from redis", err).
			WithContext("key", s.key)
	}
	return nil
}
