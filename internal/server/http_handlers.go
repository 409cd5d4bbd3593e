package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"matchgate/internal/auth"
	"matchgate/internal/gateway"
)

// statusClientClosedRequest is reported when the caller went away mid-call.
const statusClientClosedRequest = 499

const maxMultipartMemory = 32 << 20

// healthHandler reports breaker state for every backend service
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":   "healthy",
		"service":  "matchgate",
		"version":  s.Version,
		"services": s.Registry.Health(),
	}

	status := http.StatusOK
	if !s.Registry.Healthy() {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": "matchgate",
		"version": s.Version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
			"proxied_requests":       s.requests.Load(),
			"failed_requests":        s.failures.Load(),
		},
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{
			"enabled": false,
		}
	}

	if s.RateLimit != nil {
		response["rate_limit_config"] = map[string]any{
			"enabled":          s.RateLimit.Enabled,
			"requests_per_min": s.RateLimit.RequestsPerMin,
			"burst_capacity":   s.RateLimit.BurstCapacity,
			"by_ip":            s.RateLimit.ByIP,
			"by_api_key":       s.RateLimit.ByAPIKey,
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), requestErrorStatus(err))
		return
	}

	if _, err := s.Session.Login(r.Context(), req.Email, req.Password); err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	s.sessionHandler(w, r)
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), requestErrorStatus(err))
		return
	}

	if _, err := s.Session.Register(r.Context(), req); err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	s.sessionHandler(w, r)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Logout(r.Context()); err != nil {
		s.Logger.LogError(err, "Logout did not complete cleanly")
		writeErrorResponse(w, "Logout failed", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

// sessionHandler describes the held session without revealing the token.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.Tokens.Status(r.Context())
	if err != nil {
		writeErrorResponse(w, "Failed to read session", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// proxyHandler forwards /api/{service}/{path...} through the service's
// gateway client and returns the unwrapped payload.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	client, err := s.Registry.Client(r.PathValue("service"))
	if err != nil {
		writeErrorResponse(w, "Unknown service", err.Error(), http.StatusNotFound)
		return
	}

	body, err := proxyBody(r)
	if err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), requestErrorStatus(err))
		return
	}

	opts := []gateway.RequestOption{
		gateway.WithQuery(r.URL.Query()),
		gateway.WithHeaders(s.forwardedHeaders(r.Header)),
	}

	s.requests.Add(1)
	raw, err := client.Do(r.Context(), r.Method, "/"+r.PathValue("path"), body, opts...)
	if err != nil {
		s.failures.Add(1)
		s.writeAPIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		s.Logger.LogError(err, "Failed to write proxied response", "service", client.Name())
	}
}

// forwardedHeaders picks the caller headers named in ForwardHeaders.
// Authorization and cookies stay behind: the session belongs to the server.
func (s *Server) forwardedHeaders(in http.Header) map[string]string {
	out := make(map[string]string, len(s.ForwardHeaders))
	for _, name := range s.ForwardHeaders {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Cookie", "X-Api-Key":
			continue
		}
		if v := in.Get(name); v != "" {
			out[http.CanonicalHeaderKey(name)] = v
		}
	}
	return out
}

// proxyBody turns the inbound body into a gateway body. JSON is forwarded
// verbatim; multipart forms are rebuilt part by part.
func proxyBody(r *http.Request) (any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return multipartBody(r)
	}

	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func multipartBody(r *http.Request) (*gateway.Multipart, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, bodyError(err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	body := &gateway.Multipart{Fields: url.Values(r.MultipartForm.Value)}
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open part %s: %w", fh.Filename, err)
			}
			content, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read part %s: %w", fh.Filename, err)
			}
			body.Files = append(body.Files, gateway.File{
				Field:       field,
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     content,
			})
		}
	}
	return body, nil
}

// writeAPIError maps a gateway error onto an HTTP response.
func (s *Server) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := gateway.AsAPIError(err)
	if !ok {
		s.Logger.LogError(err, "Unclassified error")
		writeErrorResponse(w, "Internal error", err.Error(), http.StatusInternalServerError)
		return
	}

	status := statusFor(apiErr)
	if apiErr.Kind == gateway.KindRateLimited {
		s.Observability.RecordRateLimitHit(r.Context(), "upstream")
		if apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
		}
	}

	resp := ErrorResponse{
		Error:     apiErr.Detail,
		Kind:      string(apiErr.Kind),
		Action:    string(apiErr.Action()),
		Service:   apiErr.Service,
		RequestID: apiErr.RequestID,
	}
	if resp.Error == "" {
		resp.Error = apiErr.Error()
	}
	if len(apiErr.Body) > 0 && json.Valid(apiErr.Body) {
		resp.Upstream = apiErr.Body
	}
	writeJSON(w, status, resp)
}

// statusFor picks the response status for a failed call.
func statusFor(e *gateway.APIError) int {
	switch e.Kind {
	case gateway.KindUnauthenticated, gateway.KindSessionExpired, gateway.KindTransientAuthFailure:
		return http.StatusUnauthorized
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests
	case gateway.KindTransport:
		return http.StatusBadGateway
	case gateway.KindUnavailable:
		return http.StatusServiceUnavailable
	case gateway.KindCanceled:
		return statusClientClosedRequest
	case gateway.KindValidation:
		switch {
		case e.StatusCode == 0:
			return http.StatusBadRequest
		case e.StatusCode >= 400:
			return e.StatusCode
		default:
			// a 2xx whose payload could not be used
			return http.StatusBadGateway
		}
	case gateway.KindHTTP:
		if e.StatusCode >= 400 {
			return e.StatusCode
		}
	}
	return http.StatusBadGateway
}

// parseJSONRequest parses JSON request body into the provided struct
func parseJSONRequest(r *http.Request, v any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return fmt.Errorf("content-type must be application/json")
	}

	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

type tooLargeError struct{ limit int64 }

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("request body too large (limit is %d bytes)", e.limit)
}

func readBody(r *http.Request) ([]byte, error) {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("Failed to close request body: %v", err)
		}
	}()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyError(err)
	}
	return body, nil
}

func bodyError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return &tooLargeError{limit: maxBytesErr.Limit}
	}
	return fmt.Errorf("failed to read request body: %w", err)
}

func requestErrorStatus(err error) int {
	var tooLarge *tooLargeError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, error, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
