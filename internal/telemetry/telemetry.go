// Package telemetry carries named events and error reports from the gateway
// and auth layers to whatever observability backend is configured.
package telemetry

import (
	"context"
	"time"
)

// Event names emitted by the gateway and the token manager.
const (
	EventAPISuccess          = "api_success"
	EventAPIError            = "api_error"
	EventPerformance         = "performance_metric"
	EventTokenRefreshSuccess = "token_refresh_success"
	EventTokenRefreshFailed  = "token_refresh_failed"
	EventRateLimitHit        = "rate_limit_hit"
)

// Properties is the metadata attached to an event. Values are scalars.
type Properties map[string]any

// Clone returns a shallow copy, so sinks may keep or mutate it.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Event is a named, timestamped record of an operation's outcome or duration.
type Event struct {
	Name       string
	Properties Properties
	Timestamp  time.Time
}

// Sink receives events fire-and-forget. Implementations must not block the
// caller for long and must be safe for concurrent use.
type Sink interface {
	Event(ctx context.Context, name string, props Properties)
	Error(ctx context.Context, err error, props Properties)
}

type nopSink struct{}

func (nopSink) Event(context.Context, string, Properties) {}
func (nopSink) Error(context.Context, error, Properties)  {}

// Nop discards everything.
var Nop Sink = nopSink{}

type multiSink []Sink

func (m multiSink) Event(ctx context.Context, name string, props Properties) {
	for _, s := range m {
		s.Event(ctx, name, props.Clone())
	}
}

func (m multiSink) Error(ctx context.Context, err error, props Properties) {
	for _, s := range m {
		s.Error(ctx, err, props.Clone())
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return out
}
