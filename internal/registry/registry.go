// Package registry builds the per-service gateway clients once at start and
// hands them out by name.
package registry

import (
	"fmt"
	"net/http"
	"slices"

	"matchgate/internal/config"
	"matchgate/internal/errors"
	"matchgate/internal/gateway"
	"matchgate/internal/telemetry"

	"golang.org/x/time/rate"
)

// Deps are the shared collaborators every client is built with.
type Deps struct {
	Logger *errors.Logger
	Sink   telemetry.Sink
	// Tokens enables bearer auth. Nil builds unauthenticated clients.
	Tokens gateway.TokenSource
	// HTTPClient is shared by all clients. Its transport is instrumented
	// when Observability is set.
	HTTPClient    *http.Client
	Observability *telemetry.ObservabilityManager
}

// Registry holds one client per configured backend service.
type Registry struct {
	clients map[string]*gateway.Client
	names   []string
}

// New builds a client for every service in cfg. No network I/O happens here.
func New(cfg *config.Config, deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = errors.Discard()
	}
	httpClient := instrumentedClient(deps.HTTPClient, deps.Observability)

	r := &Registry{clients: make(map[string]*gateway.Client, 3)}
	for _, name := range config.ServiceNames() {
		svc, _ := cfg.Service(name)
		client, err := newClient(name, svc, deps, httpClient)
		if err != nil {
			return nil, err
		}
		r.clients[name] = client
		r.names = append(r.names, name)
		deps.Logger.Debug("Gateway client ready",
			"service", name,
			"base_url", svc.BaseURL,
			"timeout", svc.Timeout,
			"circuit_breaker", svc.CircuitBreaker.Enabled,
			"rate_limit", svc.RateLimit.Enabled)
	}
	return r, nil
}

// NewClient builds a single client for svc. The registry uses it for every
// service; callers use it for side clients such as the session's public one.
func NewClient(name string, svc config.ServiceConfig, deps Deps) (*gateway.Client, error) {
	if deps.Logger == nil {
		deps.Logger = errors.Discard()
	}
	return newClient(name, svc, deps, instrumentedClient(deps.HTTPClient, deps.Observability))
}

func newClient(name string, svc config.ServiceConfig, deps Deps, httpClient *http.Client) (*gateway.Client, error) {
	desc := gateway.NewDescriptor(name, svc.BaseURL, svc.Timeout, svc.Headers)

	opts := []gateway.Option{
		gateway.WithHTTPClient(httpClient),
		gateway.WithSink(deps.Sink),
		gateway.WithLogger(deps.Logger),
		gateway.WithBreaker(gateway.NewBreaker(name, svc.CircuitBreaker, deps.Logger)),
	}
	if deps.Tokens != nil {
		opts = append(opts, gateway.WithTokenSource(deps.Tokens))
	}
	if svc.RateLimit.Enabled {
		burst := svc.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, gateway.WithLimiter(rate.NewLimiter(rate.Limit(svc.RateLimit.RequestsPerSecond), burst)))
	}

	client, err := gateway.New(desc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client: %w", name, err)
	}
	return client, nil
}

// instrumentedClient returns a copy of base whose transport records spans.
// The cookie jar is shared with base.
func instrumentedClient(base *http.Client, om *telemetry.ObservabilityManager) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if !om.Enabled() {
		return base
	}
	cp := *base
	cp.Transport = om.Transport(base.Transport)
	return &cp
}

// Client returns the client for a service name.
func (r *Registry) Client(name string) (*gateway.Client, error) {
	client, ok := r.clients[name]
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("unknown service %q (known: %v)", name, r.names), nil)
	}
	return client, nil
}

// Names lists the registered services in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

func (r *Registry) Core() *gateway.Client { return r.clients[config.ServiceCore] }
func (r *Registry) ML() *gateway.Client   { return r.clients[config.ServiceML] }
func (r *Registry) LLM() *gateway.Client  { return r.clients[config.ServiceLLM] }

// Health reports circuit breaker state per service.
func (r *Registry) Health() map[string]any {
	out := make(map[string]any, len(r.names))
	for _, name := range r.names {
		client := r.clients[name]
		out[name] = map[string]any{
			"healthy":         client.Healthy(),
			"base_url":        client.Descriptor().BasePath,
			"circuit_breaker": client.BreakerStats(),
		}
	}
	return out
}

// Healthy reports whether every service accepts calls.
func (r *Registry) Healthy() bool {
	for _, client := range r.clients {
		if !client.Healthy() {
			return false
		}
	}
	return true
}
