// Package token models the bearer access token and the stores that hold it.
package token

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RefreshThreshold is the remaining lifetime under which a request waits
	// for a refresh before reading the token.
	RefreshThreshold = 60 * time.Second
	// RefreshWindow is the remaining lifetime under which a token becomes
	// eligible for a background refresh.
	RefreshWindow = 5 * time.Minute
)

var (
	// ErrMalformed is returned when a token string cannot be decoded.
	ErrMalformed = errors.New("malformed access token")
	// ErrNoRefreshCredential means there is nothing to refresh with: no
	// configured refresh token and no refresh cookie from a login.
	ErrNoRefreshCredential = errors.New("no refresh credential available")
)

// AccessToken is a short-lived bearer credential issued by the Core API.
// The zero ExpiresAt means the token carries no expiry.
type AccessToken struct {
	Raw       string    `json:"access_token"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Admin     bool      `json:"admin,omitempty"`
}

// Parse decodes the claims of a signed token. The signature is not verified:
// the backend is the authority, the client only needs expiry and role.
func Parse(raw string) (*AccessToken, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrMalformed, parsed.Claims)
	}

	tok := &AccessToken{Raw: raw}
	if exp, err := claims.GetExpirationTime(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	} else if exp != nil {
		tok.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		tok.Subject = sub
	}
	tok.Admin = isAdmin(claims)

	return tok, nil
}

func isAdmin(claims jwt.MapClaims) bool {
	if role, ok := claims["role"].(string); ok && role == "admin" {
		return true
	}
	if flag, ok := claims["is_admin"].(bool); ok {
		return flag
	}
	return false
}

// FromResponse builds a token from a login or refresh response. Opaque
// tokens fall back to expiresIn seconds counted from now.
func FromResponse(raw string, expiresIn int64, now time.Time) (*AccessToken, error) {
	tok, err := Parse(raw)
	if err == nil {
		if tok.ExpiresAt.IsZero() && expiresIn > 0 {
			tok.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
		}
		return tok, nil
	}
	if raw == "" || expiresIn <= 0 {
		return nil, err
	}
	return &AccessToken{Raw: raw, ExpiresAt: now.Add(time.Duration(expiresIn) * time.Second)}, nil
}

// Remaining returns the lifetime left at now.
func (t *AccessToken) Remaining(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return t.ExpiresAt.Sub(now)
}

// Expired reports whether now plus the safety buffer has passed the expiry.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.Remaining(now) < RefreshThreshold
}

// RefreshDue reports whether the token is inside the refresh-eligibility window.
func (t *AccessToken) RefreshDue(now time.Time) bool {
	return t.Remaining(now) < RefreshWindow
}

// Bearer returns the Authorization header value.
func (t *AccessToken) Bearer() string {
	return "Bearer " + t.Raw
}

// Masked returns a log-safe rendition of the raw token.
func (t *AccessToken) Masked() string {
	if len(t.Raw) <= 12 {
		return "****"
	}
	return t.Raw[:6] + "****" + t.Raw[len(t.Raw)-4:]
}
