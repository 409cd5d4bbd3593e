package telemetry

import (
	"context"
	"sync"
	"time"
)

// RecordedError is an error report captured by a Recorder.
type RecordedError struct {
	Err        error
	Properties Properties
}

// Recorder keeps every event in memory. It backs the /stats endpoint and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	errs   []RecordedError
	limit  int
}

// NewRecorder keeps at most limit events and errors each; zero means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Event(_ context.Context, name string, props Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Properties: props.Clone(), Timestamp: time.Now()})
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

func (r *Recorder) Error(_ context.Context, err error, props Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, RecordedError{Err: err, Properties: props.Clone()})
	if r.limit > 0 && len(r.errs) > r.limit {
		r.errs = r.errs[len(r.errs)-r.limit:]
	}
}

// Events returns a snapshot of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events called name, oldest first.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events called name were recorded.
func (r *Recorder) Count(name string) int {
	return len(r.Named(name))
}

// Errors returns a snapshot of the recorded error reports.
func (r *Recorder) Errors() []RecordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedError, len(r.errs))
	copy(out, r.errs)
	return out
}

// Summary counts recorded events by name.
func (r *Recorder) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.events {
		out[e.Name]++
	}
	out["errors"] = len(r.errs)
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.errs = nil
	r.mu.Unlock()
}
