package server

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"matchgate/internal/auth"
	"matchgate/internal/config"
	matchgateErrors "matchgate/internal/errors"
	"matchgate/internal/registry"
	"matchgate/internal/telemetry"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Action    string          `json:"action,omitempty"`
	Service   string          `json:"service,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Upstream  json.RawMessage `json:"upstream,omitempty"`
}

// Server is a local backend-for-frontend. It holds the user session and
// exposes the backend services over plain HTTP; the access token never
// leaves the process.
type Server struct {
	Host    string
	Port    string
	Version string

	// API Authentication
	APIKeys map[string]bool

	// Caller headers forwarded to the backends
	ForwardHeaders []string

	// Timeout configurations
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Request size limit
	MaxRequestSize int64

	// Rate limiting
	RateLimit   *config.RateLimitConfig
	RateLimiter *RateLimiter

	Registry      *registry.Registry
	Session       *auth.Session
	Tokens        *auth.Manager
	Observability *telemetry.ObservabilityManager
	MetricsPath   string

	Logger *matchgateErrors.Logger

	startedAt time.Time
	requests  atomic.Int64
	failures  atomic.Int64
}

// NewServer creates a Server from the built client stack.
func NewServer(stack *registry.Stack, version string) *Server {
	cfg := stack.Config.Server

	// Convert API keys slice to map for O(1) lookup
	apiKeyMap := make(map[string]bool)
	for _, key := range cfg.APIKeys {
		if key != "" {
			apiKeyMap[key] = true
		}
	}

	rl := cfg.RateLimit
	var rateLimiter *RateLimiter
	if rl.Enabled {
		rateLimiter = NewRateLimiter(rl.RequestsPerMin, rl.BurstCapacity, stack.Logger)
	}

	forward := cfg.ForwardHeaders
	if len(forward) == 0 {
		forward = config.DefaultForwardHeaders
	}

	metricsPath := stack.Config.Observability.Prometheus.Endpoint
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Version:        version,
		APIKeys:        apiKeyMap,
		ForwardHeaders: forward,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxRequestSize: cfg.MaxRequestSize,
		RateLimit:      &rl,
		RateLimiter:    rateLimiter,
		Registry:       stack.Registry,
		Session:        stack.Session,
		Tokens:         stack.Tokens,
		Observability:  stack.Observability,
		MetricsPath:    metricsPath,
		Logger:         stack.Logger.With("component", "server"),
		startedAt:      time.Now(),
	}
}
