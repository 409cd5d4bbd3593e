// Package gateway implements the authenticated HTTP client used to reach the
// core, ML and LLM backends.
package gateway

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"
)

// Per-service request timeouts. Backend latency profiles differ: the core API
// answers quickly, ML scoring takes longer, LLM analysis longest.
const (
	CoreTimeout = 30 * time.Second
	MLTimeout   = 60 * time.Second
	LLMTimeout  = 120 * time.Second
)

// Descriptor identifies a backend service: where it lives, how long a call
// may take and which headers every call carries. A client copies its
// descriptor at construction; changing any of it means building a new client.
type Descriptor struct {
	Name           string
	BasePath       string
	Timeout        time.Duration
	DefaultHeaders map[string]string
}

// NewDescriptor builds a descriptor, copying headers.
func NewDescriptor(name, basePath string, timeout time.Duration, headers map[string]string) Descriptor {
	return Descriptor{
		Name:           name,
		BasePath:       strings.TrimRight(basePath, "/"),
		Timeout:        timeout,
		DefaultHeaders: maps.Clone(headers),
	}
}

// Validate checks that the descriptor can be used to build a client
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if d.BasePath == "" {
		return fmt.Errorf("service %s: base path is required", d.Name)
	}
	u, err := url.Parse(d.BasePath)
	if err != nil {
		return fmt.Errorf("service %s: invalid base path: %w", d.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("service %s: base path must be an absolute http(s) URL", d.Name)
	}
	if u.Host == "" {
		return fmt.Errorf("service %s: base path has no host", d.Name)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("service %s: timeout must be positive", d.Name)
	}
	return nil
}

// clone returns a deep copy so the client's view cannot be mutated from outside.
func (d Descriptor) clone() Descriptor {
	d.BasePath = strings.TrimRight(d.BasePath, "/")
	d.DefaultHeaders = maps.Clone(d.DefaultHeaders)
	return d
}

// resolve joins path onto the base path and appends query.
func (d Descriptor) resolve(path string, query url.Values) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := d.BasePath + path
	if len(query) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + query.Encode()
}
