package telemetry

import (
	"context"
	"sync"
	"time"
)

// Timer measures one operation and reports it as a performance_metric event.
type Timer struct {
	sink  Sink
	name  string
	start time.Time
	once  sync.Once
}

// StartTimer starts a timer named name, typically "<METHOD> <path>".
func StartTimer(sink Sink, name string) *Timer {
	if sink == nil {
		sink = Nop
	}
	return &Timer{sink: sink, name: name, start: time.Now()}
}

// Name returns the timer key.
func (t *Timer) Name() string {
	return t.name
}

// Stop emits the performance event with duration_ms and name merged into
// props. Only the first call emits; later calls return the elapsed time.
func (t *Timer) Stop(ctx context.Context, props Properties) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed < 0 {
		elapsed = 0
	}
	t.once.Do(func() {
		out := props.Clone()
		out["name"] = t.name
		out["duration_ms"] = float64(elapsed.Microseconds()) / 1000
		t.sink.Event(ctx, EventPerformance, out)
	})
	return elapsed
}
