package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	matchgateErrors "matchgate/internal/errors"
	"matchgate/internal/telemetry"
	"matchgate/internal/token"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 32 << 20

// TokenSource supplies and renews the bearer token.
type TokenSource interface {
	// Token returns the stored token, or nil when there is none.
	Token(ctx context.Context) (*token.AccessToken, error)
	// Refresh obtains a new token and stores it.
	Refresh(ctx context.Context) (*token.AccessToken, error)
	// RefreshAsync starts a refresh without waiting for it.
	RefreshAsync(ctx context.Context)
	// Clear removes the stored token.
	Clear(ctx context.Context) error
}

// Client calls one backend service. It is safe for concurrent use.
type Client struct {
	desc    Descriptor
	http    *http.Client
	tokens  TokenSource
	sink    telemetry.Sink
	breaker *Breaker
	limiter *rate.Limiter
	logger  *matchgateErrors.Logger
	now     func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithTokenSource enables bearer auth and 401 refresh handling.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithSink sets where telemetry events go.
func WithSink(sink telemetry.Sink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is ignored;
// the descriptor timeout applies to every attempt.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLimiter throttles outgoing attempts.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithLogger(l *matchgateErrors.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the clock used for token lifetime checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client for desc. No I/O happens here.
func New(desc Descriptor, opts ...Option) (*Client, error) {
	if err := desc.Validate(); err != nil {
		return nil, matchgateErrors.NewConfigError(matchgateErrors.ErrCodeInvalidConfig, "invalid service descriptor", err)
	}
	c := &Client{
		desc: desc.clone(),
		sink: telemetry.Nop,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.sink == nil {
		c.sink = telemetry.Nop
	}
	if c.logger == nil {
		c.logger = matchgateErrors.Discard()
	}
	c.logger = c.logger.With("service", c.desc.Name)
	return c, nil
}

// Descriptor returns a copy of the client's descriptor.
func (c *Client) Descriptor() Descriptor {
	return c.desc.clone()
}

// Name returns the service name.
func (c *Client) Name() string {
	return c.desc.Name
}

// BreakerStats reports the circuit breaker state.
func (c *Client) BreakerStats() map[string]any {
	return c.breaker.Stats()
}

// Healthy reports whether the circuit breaker lets calls through.
func (c *Client) Healthy() bool {
	return c.breaker.IsHealthy()
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// call is the in-flight state of one Do invocation. It is never persisted.
type call struct {
	id          string
	method      string
	path        string
	url         string
	body        []byte
	contentType string
	headers     http.Header

	retried   bool
	sentToken bool

	// a refresh already ran for this call, before the first attempt
	refreshed  bool
	refreshErr error
}

// Do issues one logical call: a first attempt and, after a 401 that a token
// refresh can fix, exactly one replay. It returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	ro := requestOptions{headers: make(http.Header), query: make(url.Values)}
	for _, opt := range opts {
		opt(&ro)
	}

	cl := &call{
		id:      uuid.NewString(),
		method:  method,
		path:    path,
		url:     c.desc.resolve(path, ro.query),
		headers: ro.headers,
	}
	if id := ro.headers.Get(headerRequestID); id != "" {
		cl.id = id
	}

	payload, contentType, err := encodeBody(body)
	if err != nil {
		apiErr := c.describe(cl, &APIError{Kind: KindValidation, Detail: err.Error(), Cause: err})
		c.sink.Error(ctx, apiErr, c.errorProps(cl, apiErr))
		return nil, apiErr
	}
	cl.body, cl.contentType = payload, contentType

	tok := c.preflight(ctx, cl)
	raw, apiErr := c.attempt(ctx, cl, tok)
	if apiErr != nil && apiErr.StatusCode == http.StatusUnauthorized {
		raw, apiErr = c.recoverUnauthorized(ctx, cl, apiErr)
	}
	if apiErr != nil {
		c.sink.Error(ctx, apiErr, c.errorProps(cl, apiErr))
		return nil, apiErr
	}
	return raw, nil
}

// preflight reads the token, refreshing first when it is about to expire.
func (c *Client) preflight(ctx context.Context, cl *call) *token.AccessToken {
	if c.tokens == nil {
		return nil
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn("Failed to read access token, sending request without it", "error", err.Error())
		return nil
	}
	if tok == nil {
		return nil
	}

	now := c.now()
	switch {
	case tok.Expired(now):
		cl.refreshed = true
		fresh, err := c.tokens.Refresh(ctx)
		if err == nil && fresh != nil {
			return fresh
		}
		cl.refreshErr = err
		if cl.refreshErr == nil {
			cl.refreshErr = token.ErrNoRefreshCredential
		}
		c.logger.Debug("Pre-flight token refresh failed, using stored token", "error", cl.refreshErr.Error())
		if stored, err := c.tokens.Token(ctx); err == nil {
			return stored
		}
		return nil
	case tok.RefreshDue(now):
		c.tokens.RefreshAsync(ctx)
	}
	return tok
}

// recoverUnauthorized applies the single refresh-and-replay rule to a 401.
func (c *Client) recoverUnauthorized(ctx context.Context, cl *call, first *APIError) (json.RawMessage, *APIError) {
	if c.tokens == nil {
		return nil, first
	}

	if cl.refreshed {
		if cl.refreshErr != nil {
			return nil, c.sessionLost(ctx, cl, first, cl.refreshErr)
		}
		// the token was renewed moments ago and still rejected
		first.Kind = KindTransientAuthFailure
		return nil, first
	}

	cl.retried = true
	cl.refreshed = true
	fresh, err := c.tokens.Refresh(ctx)
	if err == nil && fresh == nil {
		err = token.ErrNoRefreshCredential
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.describe(cl, Classify(0, nil, ctx.Err()))
		}
		return nil, c.sessionLost(ctx, cl, first, err)
	}

	raw, apiErr := c.attempt(ctx, cl, fresh)
	if apiErr != nil && apiErr.StatusCode == http.StatusUnauthorized {
		apiErr.Kind = KindTransientAuthFailure
	}
	return raw, apiErr
}

// sessionLost clears the stored token and classifies the original 401.
func (c *Client) sessionLost(ctx context.Context, cl *call, first *APIError, refreshErr error) *APIError {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.LogError(err, "Failed to clear token store after refresh failure")
	}
	first.Kind = KindSessionExpired
	if !cl.sentToken && errors.Is(refreshErr, token.ErrNoRefreshCredential) {
		first.Kind = KindUnauthenticated
	}
	first.Cause = refreshErr
	return first
}

// attempt performs one HTTP exchange and emits its telemetry pair.
func (c *Client) attempt(ctx context.Context, cl *call, tok *token.AccessToken) (json.RawMessage, *APIError) {
	bearer := ""
	if tok != nil && tok.Raw != "" {
		bearer = tok.Bearer()
		cl.sentToken = true
	}
	headers := buildHeaders(c.desc, cl.contentType, cl.id, bearer, cl.headers)

	timer := telemetry.StartTimer(c.sink, cl.method+" "+cl.path)
	resp, err := c.exchange(ctx, cl, headers)
	elapsed := timer.Stop(ctx, telemetry.Properties{"service": c.desc.Name})

	if err != nil {
		apiErr := c.describe(cl, Classify(0, nil, err))
		c.emitError(ctx, cl, apiErr, elapsed)
		return nil, apiErr
	}

	if resp.status < 200 || resp.status > 299 {
		apiErr := c.describe(cl, Classify(resp.status, resp.body, nil))
		if apiErr.Kind == KindRateLimited {
			apiErr.RetryAfter = parseRetryAfter(resp.header.Get("Retry-After"), c.now())
		}
		c.emitError(ctx, cl, apiErr, elapsed)
		return nil, apiErr
	}

	raw, apiErr := c.unwrap(cl, resp)
	if apiErr != nil {
		c.emitError(ctx, cl, apiErr, elapsed)
		return nil, apiErr
	}

	c.sink.Event(ctx, telemetry.EventAPISuccess, telemetry.Properties{
		"endpoint":    cl.path,
		"method":      cl.method,
		"status":      resp.status,
		"service":     c.desc.Name,
		"request_id":  cl.id,
		"retried":     cl.retried,
		"duration_ms": float64(elapsed.Microseconds()) / 1000,
	})
	return raw, nil
}

// exchange waits for the limiter, then sends the request through the breaker
// with the descriptor timeout and reads the whole reply.
func (c *Client) exchange(ctx context.Context, cl *call, headers http.Header) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.desc.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("client-side rate limit: %w", err)
		}
	}

	resp, err := c.breaker.execute(func() (*response, error) {
		var body io.Reader
		if len(cl.body) > 0 {
			body = bytes.NewReader(cl.body)
		}
		req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
		if err != nil {
			return nil, err
		}
		req.Header = headers

		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = httpResp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		r := &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}
		if r.status >= 500 {
			return r, errUpstreamServerFailure
		}
		return r, nil
	})
	if errors.Is(err, errUpstreamServerFailure) {
		return resp, nil
	}
	return resp, err
}

// unwrap returns the payload of a 2xx reply. An empty body becomes null.
func (c *Client) unwrap(cl *call, resp *response) (json.RawMessage, *APIError) {
	body := bytes.TrimSpace(resp.body)
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, c.describe(cl, &APIError{
			Kind:       KindValidation,
			StatusCode: resp.status,
			Detail:     "response body is not valid JSON",
		})
	}
	return json.RawMessage(body), nil
}

func (c *Client) describe(cl *call, e *APIError) *APIError {
	e.Service = c.desc.Name
	e.Method = cl.method
	e.URL = cl.url
	e.RequestID = cl.id
	e.Retried = cl.retried
	return e
}

func (c *Client) emitError(ctx context.Context, cl *call, apiErr *APIError, elapsed time.Duration) {
	props := c.errorProps(cl, apiErr)
	props["duration_ms"] = float64(elapsed.Microseconds()) / 1000
	c.sink.Event(ctx, telemetry.EventAPIError, props)
}

func (c *Client) errorProps(cl *call, apiErr *APIError) telemetry.Properties {
	props := telemetry.Properties{
		"endpoint":   cl.path,
		"method":     cl.method,
		"url":        cl.url,
		"status":     apiErr.StatusCode,
		"service":    c.desc.Name,
		"request_id": cl.id,
		"retried":    cl.retried,
		"kind":       string(apiErr.Kind),
	}
	if apiErr.Detail != "" {
		props["detail"] = apiErr.Detail
	}
	if apiErr.RetryAfter > 0 {
		props["retry_after_s"] = apiErr.RetryAfter.Seconds()
	}
	return props
}
