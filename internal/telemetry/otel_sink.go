package telemetry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTelSink turns events into metric updates on the manager's instruments and
// span events on whatever span is active in ctx.
type OTelSink struct {
	om *ObservabilityManager
}

// NewOTelSink creates a sink recording through om.
func NewOTelSink(om *ObservabilityManager) *OTelSink {
	return &OTelSink{om: om}
}

func (s *OTelSink) Event(ctx context.Context, name string, props Properties) {
	switch name {
	case EventAPISuccess, EventAPIError:
		kind := ""
		if name == EventAPIError {
			kind = stringProp(props, "kind")
			if kind == "" {
				kind = "unknown"
			}
		}
		s.om.RecordRequest(ctx,
			stringProp(props, "service"),
			stringProp(props, "method"),
			intProp(props, "status"),
			kind,
			durationProp(props, "duration_ms"),
		)
		if kind == "rate_limited" {
			s.om.RecordRateLimitHit(ctx, "upstream", attribute.String("service", stringProp(props, "service")))
		}
	case EventTokenRefreshSuccess:
		s.om.RecordTokenRefresh(ctx, true)
	case EventTokenRefreshFailed:
		s.om.RecordTokenRefresh(ctx, false)
	case EventRateLimitHit:
		s.om.RecordRateLimitHit(ctx, stringProp(props, "scope"))
	}

	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, oteltrace.WithAttributes(Attributes(props)...))
	}
}

func (s *OTelSink) Error(ctx context.Context, err error, props Properties) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, oteltrace.WithAttributes(Attributes(props)...))
	span.SetStatus(codes.Error, err.Error())
}

// Attributes converts props to OpenTelemetry attributes in key order.
func Attributes(props Properties) []attribute.KeyValue {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case time.Duration:
			attrs = append(attrs, attribute.String(k, v.String()))
		case nil:
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}

func stringProp(props Properties, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props Properties, key string) int {
	switch v := props[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func durationProp(props Properties, key string) time.Duration {
	switch v := props[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case int64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}
