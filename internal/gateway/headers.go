package gateway

import (
	"net/http"
	"net/url"
)

// securityHeaders are attached to every outgoing request as request-side markers.
var securityHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'self'",
	"X-Frame-Options":           "DENY",
	"X-Content-Type-Options":    "nosniff",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"X-XSS-Protection":          "1; mode=block",
}

// SecurityHeaders returns a copy of the fixed security header set.
func SecurityHeaders() map[string]string {
	out := make(map[string]string, len(securityHeaders))
	for k, v := range securityHeaders {
		out[k] = v
	}
	return out
}

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	contentTypeJSON     = "application/json"
)

type requestOptions struct {
	headers http.Header
	query   url.Values
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

// WithHeader sets a caller header. Caller headers win over defaults, except
// Authorization which the client manages.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.headers.Set(key, value)
	}
}

// WithHeaders sets several caller headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(o *requestOptions) {
		for k, v := range headers {
			o.headers.Set(k, v)
		}
	}
}

// WithQuery appends query parameters to the request URL.
func WithQuery(values url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range values {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// buildHeaders merges, lowest precedence first: security set, Accept and
// Content-Type, descriptor defaults, caller headers. Authorization is then
// set from the token, or removed when there is none.
func buildHeaders(desc Descriptor, contentType, requestID, bearer string, caller http.Header) http.Header {
	h := make(http.Header, len(securityHeaders)+len(desc.DefaultHeaders)+len(caller)+4)
	for k, v := range securityHeaders {
		h.Set(k, v)
	}
	h.Set("Accept", contentTypeJSON)
	if contentType == "" {
		contentType = contentTypeJSON
	}
	h.Set("Content-Type", contentType)
	h.Set(headerRequestID, requestID)

	for k, v := range desc.DefaultHeaders {
		h.Set(k, v)
	}
	for k, vs := range caller {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	h.Del(headerAuthorization)
	if bearer != "" {
		h.Set(headerAuthorization, bearer)
	}
	return h
}
