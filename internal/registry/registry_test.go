package registry

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchgate/internal/config"
	"matchgate/internal/gateway"
	"matchgate/internal/telemetry"
	"matchgate/internal/token"
)

func testConfig(baseURL string) *config.Config {
	svc := func(path string, timeout time.Duration) config.ServiceConfig {
		return config.ServiceConfig{BaseURL: baseURL + path, Timeout: timeout, Headers: map[string]string{}}
	}
	return &config.Config{
		Services: config.ServicesConfig{
			Core: svc("/core", gateway.CoreTimeout),
			ML:   svc("/ml", gateway.MLTimeout),
			LLM:  svc("/llm", gateway.LLMTimeout),
		},
		Auth: config.AuthConfig{
			Store:        config.StoreMemory,
			Profile:      "default",
			LoginPath:    "/auth/login",
			RegisterPath: "/auth/register",
			LogoutPath:   "/auth/logout",
			RefreshPath:  "/auth/refresh",
		},
		App: config.AppConfig{LogLevel: "info"},
	}
}

func TestNewBuildsEveryService(t *testing.T) {
	reg, err := New(testConfig("http://backend.local"), Deps{})
	require.NoError(t, err)

	assert.Equal(t, []string{"core", "ml", "llm"}, reg.Names())
	for _, name := range reg.Names() {
		client, err := reg.Client(name)
		require.NoError(t, err)
		assert.Equal(t, name, client.Name())
	}
	assert.Equal(t, "http://backend.local/llm", reg.LLM().Descriptor().BasePath)
	assert.Equal(t, gateway.MLTimeout, reg.ML().Descriptor().Timeout)
	assert.Same(t, reg.Core(), mustClient(t, reg, "core"))

	_, err = reg.Client("billing")
	assert.Error(t, err)

	names := reg.Names()
	names[0] = "mutated"
	assert.Equal(t, "core", reg.Names()[0])
}

func mustClient(t *testing.T, reg *Registry, name string) *gateway.Client {
	t.Helper()
	c, err := reg.Client(name)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadDescriptor(t *testing.T) {
	cfg := testConfig("http://backend.local")
	cfg.Services.ML.BaseURL = "ftp://nope"

	_, err := New(cfg, Deps{})
	assert.ErrorContains(t, err, "ml")
}

func TestClientsCarryTokenSourceAndSink(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	store := token.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &token.AccessToken{Raw: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	rec := telemetry.NewRecorder(0)

	reg, err := New(testConfig(srv.URL), Deps{Sink: rec, Tokens: staticTokens{store}})
	require.NoError(t, err)

	_, err = reg.ML().Get(context.Background(), "/health")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth.Load())
	assert.Equal(t, 1, rec.Count(telemetry.EventAPISuccess))
}

type staticTokens struct{ store token.Store }

func (s staticTokens) Token(ctx context.Context) (*token.AccessToken, error) { return s.store.Load(ctx) }
func (s staticTokens) Refresh(context.Context) (*token.AccessToken, error) {
	return nil, token.ErrNoRefreshCredential
}
func (s staticTokens) RefreshAsync(context.Context) {}
func (s staticTokens) Clear(ctx context.Context) error { return s.store.Clear(ctx) }

func TestCircuitBreakerFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Services.LLM.CircuitBreaker = config.CircuitBreakerConfig{
		Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureThreshold: 0.5,
	}
	reg, err := New(cfg, Deps{})
	require.NoError(t, err)
	assert.True(t, reg.Healthy())

	_, err = reg.LLM().Post(context.Background(), "/analyze", map[string]string{"text": "x"})
	assert.ErrorIs(t, err, gateway.ErrHTTPStatus)
	_, err = reg.LLM().Post(context.Background(), "/analyze", map[string]string{"text": "x"})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	assert.False(t, reg.Healthy())
	health := reg.Health()
	llm := health["llm"].(map[string]any)
	assert.Equal(t, false, llm["healthy"])
	core := health["core"].(map[string]any)
	assert.Equal(t, true, core["healthy"])
}

func TestClientRateLimitFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Services.Core.RateLimit = config.ClientRateLimit{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	reg, err := New(cfg, Deps{})
	require.NoError(t, err)

	_, err = reg.Core().Get(context.Background(), "/jobs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = reg.Core().Get(ctx, "/jobs")
	assert.ErrorIs(t, err, gateway.ErrTransport)
}

func TestBuildWiresSessionAndRegistry(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/core/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "rt", Path: "/core/auth", HttpOnly: true})
			_, _ = io.WriteString(w, `{"access_token": "opaque-1", "expires_in": 3600}`)
		case "/core/auth/refresh":
			refreshes.Add(1)
			if _, err := r.Cookie("refresh_token"); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"access_token": "opaque-2", "expires_in": 3600}`)
		case "/core/jobs":
			if r.Header.Get("Authorization") != "Bearer opaque-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"jobs": [], "total": 0}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rec := telemetry.NewRecorder(0)
	stack, err := Build(testConfig(srv.URL), nil, "test", WithExtraSink(rec))
	require.NoError(t, err)
	defer func() { _ = stack.Close(context.Background()) }()

	_, ok := stack.Store.(*token.MemoryStore)
	assert.True(t, ok)

	_, err = stack.Session.Login(context.Background(), "user@matchgate.dev", "pw")
	require.NoError(t, err)

	raw, err := stack.Registry.Core().Get(context.Background(), "/jobs")
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobs": [], "total": 0}`, string(raw))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, 1, rec.Count(telemetry.EventTokenRefreshSuccess))
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := testConfig("http://backend.local")
	cfg.Auth.Store = "etcd"

	_, err := Build(cfg, nil, "test")
	assert.ErrorContains(t, err, "etcd")
}

func TestFailedBuildReleasesObservability(t *testing.T) {
	free, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := strconv.Itoa(free.Addr().(*net.TCPAddr).Port)
	require.NoError(t, free.Close())

	cfg := testConfig("http://backend.local")
	cfg.Auth.Store = "etcd"
	cfg.Observability.Enabled = true
	cfg.Observability.ServiceName = "matchgate-test"
	cfg.Observability.Prometheus.Enabled = true
	cfg.Observability.Prometheus.Endpoint = "/metrics"
	cfg.Observability.Prometheus.Port = port

	_, err = Build(cfg, nil, "test")
	require.Error(t, err)

	// the metrics listener started during Build must be closed again
	l, err := net.Listen("tcp", ":"+port)
	require.NoError(t, err)
	_ = l.Close()
}

func TestBuildFileStore(t *testing.T) {
	cfg := testConfig("http://backend.local")
	cfg.Auth.Store = config.StoreFile
	cfg.Auth.TokenFile = t.TempDir() + "/token.json"
	cfg.Auth.WatchTokenFile = true

	stack, err := Build(cfg, nil, "test", WithWatchers())
	require.NoError(t, err)
	defer func() { _ = stack.Close(context.Background()) }()

	fs, ok := stack.Store.(*token.FileStore)
	require.True(t, ok)
	assert.Equal(t, cfg.Auth.TokenFile, fs.Path())
}
