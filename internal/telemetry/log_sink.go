package telemetry

import (
	"context"
	"log/slog"
	"slices"

	"matchgate/internal/errors"
)

// LogSink writes events as structured log records.
type LogSink struct {
	logger *errors.Logger
}

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger *errors.Logger) *LogSink {
	if logger == nil {
		logger = errors.Discard()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Event(ctx context.Context, name string, props Properties) {
	level := slog.LevelInfo
	switch name {
	case EventPerformance:
		level = slog.LevelDebug
	case EventAPIError, EventTokenRefreshFailed, EventRateLimitHit:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, name, flatten(props)...)
}

func (s *LogSink) Error(_ context.Context, err error, props Properties) {
	s.logger.LogError(err, "Gateway request failed", flatten(props)...)
}

// flatten turns props into slog key/value pairs in key order.
func flatten(props Properties) []any {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, props[k])
	}
	return args
}
