package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"matchgate/internal/config"
	"matchgate/internal/telemetry"
	"matchgate/internal/token"
)

// fakeTokens is a TokenSource whose refresh outcome is scripted.
type fakeTokens struct {
	mu        sync.Mutex
	current   *token.AccessToken
	refreshFn func() (*token.AccessToken, error)

	refreshes atomic.Int32
	asyncs    atomic.Int32
	clears    atomic.Int32
}

func (f *fakeTokens) Token(context.Context) (*token.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) Refresh(context.Context) (*token.AccessToken, error) {
	f.refreshes.Add(1)
	if f.refreshFn == nil {
		return nil, token.ErrNoRefreshCredential
	}
	tok, err := f.refreshFn()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.current = tok
	f.mu.Unlock()
	return tok, nil
}

func (f *fakeTokens) RefreshAsync(context.Context) {
	f.asyncs.Add(1)
}

func (f *fakeTokens) Clear(context.Context) error {
	f.clears.Add(1)
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	return nil
}

func validToken(raw string) *token.AccessToken {
	return &token.AccessToken{Raw: raw, ExpiresAt: time.Now().Add(time.Hour)}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.NewRecorder(0)
	desc := NewDescriptor("core", baseURL, 2*time.Second, map[string]string{"X-Client": "matchgate"})
	c, err := New(desc, append([]Option{WithSink(rec)}, opts...)...)
	require.NoError(t, err)
	return c, rec
}

// assertPaired checks one performance event and one outcome event per attempt.
func assertPaired(t *testing.T, rec *telemetry.Recorder, attempts int) {
	t.Helper()
	perf := rec.Named(telemetry.EventPerformance)
	assert.Len(t, perf, attempts)
	for _, e := range perf {
		ms, ok := e.Properties["duration_ms"].(float64)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, ms, 0.0)
	}
	assert.Equal(t, attempts, rec.Count(telemetry.EventAPISuccess)+rec.Count(telemetry.EventAPIError))
}

func TestHappyPath(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jobs": [], "total": 0}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: validToken("access-1")}
	c, rec := newTestClient(t, srv.URL+"/api/v1", WithTokenSource(tokens))

	raw, err := c.Get(context.Background(), "/jobs", WithHeader("X-Request-Signature", "sig"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobs": [], "total": 0}`, string(raw))

	assert.Equal(t, "Bearer access-1", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "matchgate", got.Get("X-Client"))
	assert.Equal(t, "sig", got.Get("X-Request-Signature"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	for name, value := range SecurityHeaders() {
		assert.Equal(t, value, got.Get(name), name)
	}

	assertPaired(t, rec, 1)
	success := rec.Named(telemetry.EventAPISuccess)
	require.Len(t, success, 1)
	assert.Equal(t, 200, success[0].Properties["status"])
	assert.Equal(t, "/jobs", success[0].Properties["endpoint"])
	assert.Equal(t, "GET", success[0].Properties["method"])
	assert.Equal(t, false, success[0].Properties["retried"])
	assert.Equal(t, "GET /jobs", rec.Named(telemetry.EventPerformance)[0].Properties["name"])
	assert.Empty(t, rec.Errors())
	assert.Zero(t, tokens.refreshes.Load())
}

func TestEnvelopeUnwrapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"foo": 1}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	raw, err := c.Get(context.Background(), "/x")
	require.NoError(t, err)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, map[string]int{"foo": 1}, payload)
}

func TestCallerHeadersWinButAuthorizationIsManaged(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, WithTokenSource(&fakeTokens{current: validToken("mine")}))
	_, err := c.Get(context.Background(), "/x",
		WithHeaders(map[string]string{
			"X-Frame-Options": "SAMEORIGIN",
			"X-Client":        "bff",
			"Authorization":   "Bearer forged",
			"X-Request-ID":    "req-123",
		}))
	require.NoError(t, err)

	assert.Equal(t, "SAMEORIGIN", got.Get("X-Frame-Options"))
	assert.Equal(t, "bff", got.Get("X-Client"))
	assert.Equal(t, "Bearer mine", got.Get("Authorization"))
	assert.Equal(t, "req-123", got.Get("X-Request-ID"))
}

func TestExpiredThenRefreshed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail": "Token expired"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id": 1}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   validToken("stale"),
		refreshFn: func() (*token.AccessToken, error) { return validToken("fresh"), nil },
	}
	c, rec := newTestClient(t, srv.URL, WithTokenSource(tokens))

	raw, err := c.Get(context.Background(), "/profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1}`, string(raw))

	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), hits.Load())
	assert.Zero(t, tokens.clears.Load())

	assertPaired(t, rec, 2)
	success := rec.Named(telemetry.EventAPISuccess)
	require.Len(t, success, 1)
	assert.Equal(t, true, success[0].Properties["retried"])
	errs := rec.Named(telemetry.EventAPIError)
	require.Len(t, errs, 1)
	assert.Equal(t, 401, errs[0].Properties["status"])
	assert.Empty(t, rec.Errors())
}

func TestRefreshFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail": "Could not validate credentials"}`)
	}))
	defer srv.Close()

	rejected := errors.New("refresh rejected")
	tokens := &fakeTokens{
		current:   validToken("stale"),
		refreshFn: func() (*token.AccessToken, error) { return nil, rejected },
	}
	c, rec := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/profile")
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindSessionExpired, apiErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Could not validate credentials", apiErr.Detail)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, ActionForceLogout, apiErr.Action())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(1), tokens.clears.Load())

	stored, _ := tokens.Token(context.Background())
	assert.Nil(t, stored)

	assertPaired(t, rec, 1)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "session_expired", rec.Errors()[0].Properties["kind"])
}

func TestSecond401IsNotRetriedAgain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   validToken("stale"),
		refreshFn: func() (*token.AccessToken, error) { return validToken("fresh"), nil },
	}
	c, rec := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Post(context.Background(), "/profile", map[string]string{"name": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientAuthFailure)
	apiErr, _ := AsAPIError(err)
	assert.True(t, apiErr.Retried)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Zero(t, tokens.clears.Load())
	assertPaired(t, rec, 2)
	assert.Len(t, rec.Errors(), 1)
}

func TestRetryReplaysIdenticalBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   validToken("stale"),
		refreshFn: func() (*token.AccessToken, error) { return validToken("fresh"), nil },
	}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Put(context.Background(), "/settings", map[string]any{"notifications": true})
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.JSONEq(t, `{"notifications": true}`, bodies[0])
}

func TestRateLimitedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"detail": "Scrape quota exceeded"}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   validToken("access"),
		refreshFn: func() (*token.AccessToken, error) { return validToken("fresh"), nil },
	}
	c, rec := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Post(context.Background(), "/jobs/scrape", map[string]string{"query": "go"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrTransport)
	apiErr, _ := AsAPIError(err)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
	assert.Equal(t, "Scrape quota exceeded", apiErr.Detail)
	assert.Equal(t, ActionSlowDown, apiErr.Action())

	assert.Equal(t, int32(1), hits.Load())
	assert.Zero(t, tokens.refreshes.Load())
	assertPaired(t, rec, 1)
}

func TestPreflightRefreshWhenNearlyExpired(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   &token.AccessToken{Raw: "old", ExpiresAt: time.Now().Add(30 * time.Second)},
		refreshFn: func() (*token.AccessToken, error) { return validToken("new"), nil },
	}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/profile")
	require.NoError(t, err)
	assert.Equal(t, "Bearer new", seen)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Zero(t, tokens.asyncs.Load())
}

func TestPreflightFailureThen401DoesNotRefreshTwice(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   &token.AccessToken{Raw: "old", ExpiresAt: time.Now().Add(10 * time.Second)},
		refreshFn: func() (*token.AccessToken, error) { return nil, errors.New("refresh endpoint down") },
	}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/profile")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, "Bearer old", seen, "proceeds with the stored token")
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(1), tokens.clears.Load())
}

func TestPreflightRefreshedTokenStillRejected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{
		current:   &token.AccessToken{Raw: "old", ExpiresAt: time.Now().Add(10 * time.Second)},
		refreshFn: func() (*token.AccessToken, error) { return validToken("new"), nil },
	}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/profile")
	assert.ErrorIs(t, err, ErrTransientAuthFailure)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestRefreshWindowTriggersBackgroundRefresh(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: &token.AccessToken{Raw: "current", ExpiresAt: time.Now().Add(3 * time.Minute)}}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/jobs")
	require.NoError(t, err)
	assert.Equal(t, "Bearer current", seen)
	assert.Equal(t, int32(1), tokens.asyncs.Load())
	assert.Zero(t, tokens.refreshes.Load())
}

func TestClockDrivesLifetimeChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{
		current:   &token.AccessToken{Raw: "t", ExpiresAt: expiry},
		refreshFn: func() (*token.AccessToken, error) { return &token.AccessToken{Raw: "t2", ExpiresAt: expiry.Add(time.Hour)}, nil },
	}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens), WithClock(func() time.Time { return expiry.Add(-10 * time.Second) }))

	_, err := c.Get(context.Background(), "/jobs")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestUnauthenticatedWithoutTokenOrCredential(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Values("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail": "Not authenticated"}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	c, _ := newTestClient(t, srv.URL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/profile")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, auth)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestNoTokenSource401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL)
	_, err := c.Get(context.Background(), "/profile")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assertPaired(t, rec, 1)
}

func TestTransportErrorsAreNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	tokens := &fakeTokens{current: validToken("a")}
	c, rec := newTestClient(t, baseURL, WithTokenSource(tokens))

	_, err := c.Get(context.Background(), "/jobs")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, ActionRetryLater, KindOf(err).Action())
	assert.Zero(t, tokens.refreshes.Load())
	assertPaired(t, rec, 1)
	assert.Equal(t, 0, rec.Named(telemetry.EventAPIError)[0].Properties["status"])
}

func TestTimeoutIsTransportFailure(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := telemetry.NewRecorder(0)
	c, err := New(NewDescriptor("llm", srv.URL, 50*time.Millisecond, nil), WithSink(rec))
	require.NoError(t, err)

	_, err = c.Post(context.Background(), "/analyze", map[string]string{"resume": "x"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
	assertPaired(t, rec, 1)
}

func TestCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "/jobs")
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, ActionNone, KindOf(err).Action())
}

func TestEmptyAndInvalidBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/html":
			_, _ = io.WriteString(w, "<html>oops</html>")
		}
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL)

	raw, err := c.Delete(context.Background(), "/empty")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	_, err = c.Get(context.Background(), "/html")
	assert.ErrorIs(t, err, ErrValidation)
	assertPaired(t, rec, 2)
}

func TestServerErrorDetailAndBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message": "database unavailable"}`)
	}))
	defer srv.Close()

	breaker := NewBreaker("core", config.CircuitBreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		MinRequests:      2,
		FailureThreshold: 0.5,
	}, nil)
	c, _ := newTestClient(t, srv.URL, WithBreaker(breaker))
	assert.True(t, c.Healthy())

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "/stats")
		assert.ErrorIs(t, err, ErrHTTPStatus)
		apiErr, _ := AsAPIError(err)
		assert.Equal(t, "database unavailable", apiErr.Detail)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	}

	_, err := c.Get(context.Background(), "/stats")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())
	assert.False(t, c.Healthy())
	assert.Equal(t, "open", c.BreakerStats()["state"])
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	breaker := NewBreaker("core", config.CircuitBreakerConfig{
		Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureThreshold: 0.1,
	}, nil)
	c, _ := newTestClient(t, srv.URL, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "/jobs/missing")
		assert.ErrorIs(t, err, ErrHTTPStatus)
	}
	assert.True(t, c.Healthy())
}

func TestMultipartUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "resume", r.FormValue("kind"))
		assert.Equal(t, []string{"go", "sql"}, r.MultipartForm.Value["skill"])
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "cv.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.7", string(data))
		_, _ = io.WriteString(w, `{"id": "r1"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	raw, err := c.Post(context.Background(), "/resumes/upload", &Multipart{
		Fields: url.Values{"kind": {"resume"}, "skill": {"go", "sql"}},
		Files:  []File{{Name: "cv.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.7")}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "r1"}`, string(raw))
}

func TestUnencodableBodyReportsError(t *testing.T) {
	c, rec := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.Post(context.Background(), "/x", map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Len(t, rec.Errors(), 1)
}

func TestQueryParameters(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.Get(context.Background(), "/jobs", WithQuery(url.Values{"page": {"2"}, "q": {"go dev"}}))
	require.NoError(t, err)
	assert.Equal(t, "page=2&q=go+dev", rawQuery)
}

func TestLimiterThrottlesAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := c.Get(context.Background(), "/jobs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, "/jobs")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDescriptorIsCopied(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Tenant")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	headers := map[string]string{"X-Tenant": "a"}
	desc := NewDescriptor("core", srv.URL, time.Second, headers)
	c, err := New(desc)
	require.NoError(t, err)

	headers["X-Tenant"] = "b"
	desc.DefaultHeaders["X-Tenant"] = "c"
	c.Descriptor().DefaultHeaders["X-Tenant"] = "d"

	_, err = c.Get(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestConcurrentCallsArePairedIndependently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/ok"
			if i%2 == 0 {
				path = "/fail"
			}
			_, _ = c.Get(context.Background(), path)
		}(i)
	}
	wg.Wait()

	assertPaired(t, rec, 20)
	assert.Equal(t, 10, rec.Count(telemetry.EventAPIError))
	assert.Len(t, rec.Errors(), 10)
}

func TestNewRejectsInvalidDescriptor(t *testing.T) {
	_, err := New(NewDescriptor("core", "not a url", time.Second, nil))
	assert.Error(t, err)
}
