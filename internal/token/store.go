package token

import (
	"context"
	"sync/atomic"
)

// Store holds the current access token. Load returns nil, nil when no token
// is stored. Implementations must hand readers either the old or the new
// token, never a partial write.
type Store interface {
	Load(ctx context.Context) (*AccessToken, error)
	Save(ctx context.Context, tok *AccessToken) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token in a single atomic slot.
type MemoryStore struct {
	slot atomic.Pointer[AccessToken]
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*AccessToken, error) {
	return s.slot.Load(), nil
}

func (s *MemoryStore) Save(_ context.Context, tok *AccessToken) error {
	if tok == nil {
		s.slot.Store(nil)
		return nil
	}
	cp := *tok
	s.slot.Store(&cp)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.slot.Store(nil)
	return nil
}
