package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Kind classifies a failed call.
type Kind string

const (
	// KindUnauthenticated: a 401 with no usable token and no way to get one.
	KindUnauthenticated Kind = "unauthenticated"
	// KindSessionExpired: a 401 after which the refresh failed. Terminal.
	KindSessionExpired Kind = "session_expired"
	// KindTransientAuthFailure: the refresh succeeded but the call still got 401.
	KindTransientAuthFailure Kind = "transient_auth_failure"
	KindRateLimited          Kind = "rate_limited"
	// KindTransport covers network failures, DNS errors and timeouts.
	KindTransport Kind = "transport"
	// KindValidation: the payload (request or response) has the wrong shape.
	KindValidation Kind = "validation"
	// KindHTTP is any other non-2xx status.
	KindHTTP Kind = "http"
	// KindUnavailable: the service circuit breaker is open.
	KindUnavailable Kind = "unavailable"
	KindCanceled    Kind = "canceled"
)

// Action is what a caller facing a user should do about an error.
type Action string

const (
	ActionNone        Action = "none"
	ActionForceLogout Action = "force_logout"
	ActionSlowDown    Action = "slow_down"
	ActionRetryLater  Action = "retry_later"
	ActionShowError   Action = "show_error"
)

// Action maps a kind to the user-facing reaction.
func (k Kind) Action() Action {
	switch k {
	case KindUnauthenticated, KindSessionExpired:
		return ActionForceLogout
	case KindRateLimited:
		return ActionSlowDown
	case KindTransport, KindUnavailable:
		return ActionRetryLater
	case KindCanceled:
		return ActionNone
	default:
		return ActionShowError
	}
}

type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string {
	return "gateway: " + string(s.kind)
}

// Sentinels for errors.Is. An *APIError matches the sentinel of its kind.
var (
	ErrUnauthenticated       error = &sentinel{KindUnauthenticated}
	ErrSessionExpired        error = &sentinel{KindSessionExpired}
	ErrTransientAuthFailure  error = &sentinel{KindTransientAuthFailure}
	ErrRateLimited           error = &sentinel{KindRateLimited}
	ErrTransport             error = &sentinel{KindTransport}
	ErrValidation            error = &sentinel{KindValidation}
	ErrHTTPStatus            error = &sentinel{KindHTTP}
	ErrUnavailable           error = &sentinel{KindUnavailable}
	ErrCanceled              error = &sentinel{KindCanceled}
	errUpstreamServerFailure       = errors.New("upstream server error")
)

// APIError is the single error type returned by the gateway.
type APIError struct {
	Kind       Kind
	Service    string
	Method     string
	URL        string
	StatusCode int
	Detail     string
	Body       json.RawMessage
	RetryAfter time.Duration
	RequestID  string
	Retried    bool
	Cause      error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Service != "" {
		b.WriteString(e.Service)
		b.WriteString(" ")
	}
	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "%d ", e.StatusCode)
	}
	b.WriteString(string(e.Kind))
	switch {
	case e.Detail != "":
		b.WriteString(": ")
		b.WriteString(e.Detail)
	case e.Cause != nil:
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels.
func (e *APIError) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// Action is shorthand for e.Kind.Action().
func (e *APIError) Action() Action {
	return e.Kind.Action()
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// KindOf returns the kind of err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Kind
	}
	return ""
}

// Classify turns a response status and body, or a transport cause, into an
// APIError. It runs once per attempt; callers fill in request details.
func Classify(status int, body []byte, cause error) *APIError {
	e := &APIError{StatusCode: status, Cause: cause}
	if len(body) > 0 && json.Valid(body) {
		e.Body = json.RawMessage(body)
	}

	if cause != nil {
		switch {
		case errors.Is(cause, context.Canceled):
			e.Kind = KindCanceled
		case errors.Is(cause, gobreaker.ErrOpenState), errors.Is(cause, gobreaker.ErrTooManyRequests):
			e.Kind = KindUnavailable
		default:
			e.Kind = KindTransport
		}
		return e
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthenticated
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	default:
		e.Kind = KindHTTP
	}
	e.Detail = ExtractDetail(status, body)
	return e
}

// ExtractDetail finds the human-readable message in an error body. It probes
// "detail" (a string, a FastAPI validation list, or an object), then
// "message", then "error", and falls back to the raw text or status text.
func ExtractDetail(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if trimmed != "" && len(trimmed) <= 200 && !strings.HasPrefix(trimmed, "<") {
			return trimmed
		}
		return http.StatusText(status)
	}

	for _, key := range []string{"detail", "message", "error"} {
		if raw, ok := fields[key]; ok {
			if detail := detailFrom(raw); detail != "" {
				return detail
			}
		}
	}
	return http.StatusText(status)
}

func detailFrom(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg == "" {
				continue
			}
			if loc := joinLoc(item.Loc); loc != "" {
				parts = append(parts, loc+": "+item.Msg)
			} else {
				parts = append(parts, item.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if inner, ok := nested[key]; ok {
				var s string
				if json.Unmarshal(inner, &s) == nil && s != "" {
					return s
				}
			}
		}
		return string(raw)
	}
	return ""
}

// joinLoc renders a FastAPI location like ["body", "email"] as "body.email".
func joinLoc(loc []any) string {
	parts := make([]string, 0, len(loc))
	for _, p := range loc {
		switch v := p.(type) {
		case string:
			parts = append(parts, v)
		case float64:
			parts = append(parts, strconv.Itoa(int(v)))
		}
	}
	return strings.Join(parts, ".")
}

// parseRetryAfter reads a Retry-After value given as seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
