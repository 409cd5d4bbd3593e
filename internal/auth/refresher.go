// Package auth obtains and renews access tokens against the Core API.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	matchgateErrors "matchgate/internal/errors"
	"matchgate/internal/token"

	"golang.org/x/net/publicsuffix"
)

var (
	// ErrNoRefreshCredential means neither a refresh token nor a refresh
	// cookie is available.
	ErrNoRefreshCredential = token.ErrNoRefreshCredential
	// ErrRefreshRejected means the Core API refused the refresh credential.
	ErrRefreshRejected = errors.New("refresh credential rejected")
)

// Refresher exchanges a refresh credential for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (*token.AccessToken, error)
}

// TokenResponse is the body returned by the login and refresh endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty" validate:"gte=0"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token converts the response into an access token.
func (r TokenResponse) Token(now time.Time) (*token.AccessToken, error) {
	return token.FromResponse(r.AccessToken, r.ExpiresIn, now)
}

// NewHTTPClient returns an HTTP client with a cookie jar, so an httpOnly
// refresh cookie set at login is replayed on refresh. The same client must
// be shared by the session and the refresher.
func NewHTTPClient(transport http.RoundTripper) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{Transport: transport, Jar: jar}, nil
}

// HTTPRefresher calls the Core API refresh endpoint.
type HTTPRefresher struct {
	url    string
	client *http.Client
	logger *matchgateErrors.Logger
	now    func() time.Time

	mu         sync.RWMutex
	credential string
}

// NewHTTPRefresher creates a refresher for refreshURL. credential may be
// empty when the refresh cookie is the only credential.
func NewHTTPRefresher(refreshURL, credential string, client *http.Client, logger *matchgateErrors.Logger) *HTTPRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = matchgateErrors.Discard()
	}
	return &HTTPRefresher{
		url:        refreshURL,
		client:     client,
		logger:     logger,
		now:        time.Now,
		credential: credential,
	}
}

// SetCredential replaces the refresh credential. An empty value forgets it.
func (r *HTTPRefresher) SetCredential(credential string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credential = credential
}

// HasCredential reports whether a refresh attempt could succeed at all.
func (r *HTTPRefresher) HasCredential() bool {
	r.mu.RLock()
	credential := r.credential
	r.mu.RUnlock()
	if credential != "" {
		return true
	}
	return r.hasCookie()
}

func (r *HTTPRefresher) hasCookie() bool {
	if r.client.Jar == nil {
		return false
	}
	u, err := url.Parse(r.url)
	if err != nil {
		return false
	}
	return len(r.client.Jar.Cookies(u)) > 0
}

// Refresh posts the refresh credential and returns the new access token.
// A rotated refresh token in the response replaces the held one.
func (r *HTTPRefresher) Refresh(ctx context.Context) (*token.AccessToken, error) {
	r.mu.RLock()
	credential := r.credential
	r.mu.RUnlock()

	if credential == "" && !r.hasCookie() {
		return nil, ErrNoRefreshCredential
	}

	payload := map[string]string{}
	if credential != "" {
		payload["refresh_token"] = credential
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, matchgateErrors.NewConfigError(matchgateErrors.ErrCodeInvalidConfig, "invalid refresh URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, matchgateErrors.NewNetworkError(matchgateErrors.ErrCodeRefreshFailed, "refresh request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, matchgateErrors.NewNetworkError(matchgateErrors.ErrCodeRefreshFailed, "failed to read refresh response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, matchgateErrors.NewAuthError(matchgateErrors.ErrCodeRefreshFailed,
			fmt.Sprintf("refresh endpoint returned %d", resp.StatusCode), ErrRefreshRejected)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, matchgateErrors.NewNetworkError(matchgateErrors.ErrCodeRefreshFailed,
			fmt.Sprintf("refresh endpoint returned %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, matchgateErrors.NewAuthError(matchgateErrors.ErrCodeInvalidToken, "malformed refresh response", err)
	}
	tok, err := tr.Token(r.now())
	if err != nil {
		return nil, matchgateErrors.NewAuthError(matchgateErrors.ErrCodeInvalidToken, "refresh response carries no usable token", err)
	}

	if tr.RefreshToken != "" && tr.RefreshToken != credential {
		r.SetCredential(tr.RefreshToken)
		r.logger.Debug("Refresh credential rotated")
	}
	return tok, nil
}
