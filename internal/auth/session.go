package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	matchgateErrors "matchgate/internal/errors"
	"matchgate/internal/gateway"
	"matchgate/internal/token"
)

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of the registration endpoint.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name,omitempty" validate:"omitempty,max=200"`
}

// Paths are the Core API session endpoints, relative to the core base URL.
type Paths struct {
	Login    string
	Register string
	Logout   string
}

// CredentialHolder keeps the refresh credential handed out at login.
type CredentialHolder interface {
	SetCredential(credential string)
}

// Session performs login, registration and logout against the Core API.
//
// public must be a client without a token source so that a rejected login
// is reported as Unauthenticated rather than triggering a refresh. authed is
// the regular core client used for logout.
type Session struct {
	public  *gateway.Client
	authed  *gateway.Client
	manager *Manager
	creds   CredentialHolder
	paths   Paths
	logger  *matchgateErrors.Logger
	now     func() time.Time
}

// NewSession wires a session. creds may be nil.
func NewSession(public, authed *gateway.Client, manager *Manager, creds CredentialHolder, paths Paths, logger *matchgateErrors.Logger) *Session {
	if logger == nil {
		logger = matchgateErrors.Discard()
	}
	return &Session{
		public:  public,
		authed:  authed,
		manager: manager,
		creds:   creds,
		paths:   paths,
		logger:  logger.With("component", "session"),
		now:     time.Now,
	}
}

// Login exchanges credentials for an access token and stores it.
func (s *Session) Login(ctx context.Context, email, password string) (*token.AccessToken, error) {
	resp, err := gateway.PostJSON[TokenResponse](ctx, s.public, s.paths.Login, LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	tok, err := s.store(ctx, resp)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Logged in", "subject", tok.Subject, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Register creates an account. When the response does not carry a token the
// new account is logged in with the same credentials.
func (s *Session) Register(ctx context.Context, req RegisterRequest) (*token.AccessToken, error) {
	if err := gateway.Validate(req); err != nil {
		return nil, err
	}
	raw, err := s.public.Post(ctx, s.paths.Register, req)
	if err != nil {
		return nil, err
	}

	var peek struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil || peek.AccessToken == "" {
		s.logger.Debug("Registration returned no token, logging in")
		return s.Login(ctx, req.Email, req.Password)
	}

	resp, err := gateway.Decode[TokenResponse](raw)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, resp)
}

func (s *Session) store(ctx context.Context, resp TokenResponse) (*token.AccessToken, error) {
	tok, err := resp.Token(s.now())
	if err != nil {
		return nil, matchgateErrors.NewAuthError(matchgateErrors.ErrCodeLoginFailed, "login response carries no usable token", err)
	}
	if err := s.manager.Save(ctx, tok); err != nil {
		return nil, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeTokenStore, "failed to store access token", err)
	}
	if resp.RefreshToken != "" && s.creds != nil {
		s.creds.SetCredential(resp.RefreshToken)
	}
	return tok, nil
}

// Logout tells the Core API to end the session and forgets the local token
// and refresh credential either way. An upstream auth error is not reported
// since the session is gone regardless.
func (s *Session) Logout(ctx context.Context) error {
	var upstreamErr error
	if tok, err := s.manager.Token(ctx); err == nil && tok != nil {
		if _, err := s.authed.Post(ctx, s.paths.Logout, nil); err != nil {
			kind := gateway.KindOf(err)
			if kind != gateway.KindUnauthenticated && kind != gateway.KindSessionExpired {
				upstreamErr = err
			}
			s.logger.Warn("Logout request failed", "error", err.Error(), "kind", string(kind))
		}
	}

	if s.creds != nil {
		s.creds.SetCredential("")
	}
	if err := s.manager.Clear(ctx); err != nil {
		return errors.Join(upstreamErr, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeTokenStore, "failed to clear access token", err))
	}
	return upstreamErr
}
