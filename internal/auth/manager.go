package auth

import (
	"context"
	"errors"
	"time"

	matchgateErrors "matchgate/internal/errors"
	"matchgate/internal/telemetry"
	"matchgate/internal/token"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds one refresh round trip.
const DefaultRefreshTimeout = 15 * time.Second

const refreshKey = "refresh"

// Manager owns the stored token and serializes refreshes: concurrent callers
// share one in-flight refresh and all see its outcome. The store is written
// only after the refresh resolves. Manager implements gateway.TokenSource.
type Manager struct {
	store     token.Store
	refresher Refresher
	sink      telemetry.Sink
	logger    *matchgateErrors.Logger
	timeout   time.Duration
	now       func() time.Time

	group singleflight.Group
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

func WithSink(sink telemetry.Sink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

func WithLogger(logger *matchgateErrors.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRefreshTimeout caps how long a shared refresh may take.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. refresher may be nil, in which case
// every refresh fails with ErrNoRefreshCredential.
func NewManager(store token.Store, refresher Refresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		sink:      telemetry.Nop,
		logger:    matchgateErrors.Discard(),
		timeout:   DefaultRefreshTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = telemetry.Nop
	}
	return m
}

// Token returns the stored token, or nil when there is none.
func (m *Manager) Token(ctx context.Context) (*token.AccessToken, error) {
	return m.store.Load(ctx)
}

// Save stores tok, replacing any previous token.
func (m *Manager) Save(ctx context.Context, tok *token.AccessToken) error {
	return m.store.Save(ctx, tok)
}

// Clear removes the stored token.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Refresh joins the in-flight refresh or starts one, and waits for it. The
// shared refresh keeps running when ctx is canceled; only this caller stops
// waiting.
func (m *Manager) Refresh(ctx context.Context) (*token.AccessToken, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*token.AccessToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefreshAsync starts a refresh unless one is already running, and returns
// immediately.
func (m *Manager) RefreshAsync(ctx context.Context) {
	m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
}

func (m *Manager) refresh(ctx context.Context) (*token.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	tok, err := m.fetch(ctx)
	elapsed := time.Since(start)

	if err != nil {
		m.sink.Event(ctx, telemetry.EventTokenRefreshFailed, telemetry.Properties{
			"reason":      failureReason(err),
			"error":       err.Error(),
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		})
		if errors.Is(err, ErrNoRefreshCredential) {
			m.logger.Debug("No refresh credential available")
		} else {
			m.logger.LogError(err, "Token refresh failed")
		}
		return nil, err
	}

	m.sink.Event(ctx, telemetry.EventTokenRefreshSuccess, telemetry.Properties{
		"expires_in_s": tok.Remaining(m.now()).Seconds(),
		"duration_ms":  float64(elapsed.Microseconds()) / 1000,
	})
	m.logger.Debug("Access token refreshed", "token", tok.Masked(), "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (m *Manager) fetch(ctx context.Context) (*token.AccessToken, error) {
	if m.refresher == nil {
		return nil, ErrNoRefreshCredential
	}
	tok, err := m.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNoRefreshCredential
	}
	if err := m.store.Save(ctx, tok); err != nil {
		return nil, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeTokenStore, "failed to store refreshed token", err)
	}
	return tok, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoRefreshCredential):
		return "no_credential"
	case errors.Is(err, ErrRefreshRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Status describes the stored token for display. It never includes the raw token.
func (m *Manager) Status(ctx context.Context) (map[string]any, error) {
	tok, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return map[string]any{"authenticated": false}, nil
	}

	now := m.now()
	status := map[string]any{
		"authenticated": true,
		"subject":       tok.Subject,
		"admin":         tok.Admin,
		"token":         tok.Masked(),
		"expired":       tok.Expired(now),
		"refresh_due":   tok.RefreshDue(now),
	}
	if !tok.ExpiresAt.IsZero() {
		status["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
		status["remaining"] = tok.Remaining(now).Round(time.Second).String()
	}
	return status, nil
}
