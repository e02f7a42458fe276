// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink receives thread-start events while the hook is enabled.
// A returned error (or a panic) is swallowed by the registry.
type Sink interface {
	OnThreadStart(ev ThreadEvent) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ev ThreadEvent) error

// OnThreadStart calls f(ev).
func (f SinkFunc) OnThreadStart(ev ThreadEvent) error {
	return f(ev)
}

// SinkError records a failed delivery to the sink at Index.
type SinkError struct {
	Index int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %d: %v", e.Index, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// RegistryStats is a point-in-time copy of the registry counters.
type RegistryStats struct {
	Reported     int64 // ReportThreadStart calls
	Suppressed   int64 // calls that arrived while disabled
	Delivered    int64 // successful sink deliveries
	SinkFailures int64 // sink errors and recovered panics
}

// Registry gates thread-start instrumentation and fans events out to sinks.
//
// One Registry is created per process by whoever owns the process lifecycle
// and passed by reference to the interception point. All methods are safe
// for concurrent use. ReportThreadStart never returns an error and never
// panics, whatever the sinks do.
type Registry struct {
	logger *zap.Logger
	start  time.Time

	enabled atomic.Bool

	// sinks is copy-on-write: appends publish a new slice under mu,
	// deliveries iterate whatever slice they loaded.
	mu    sync.Mutex
	sinks atomic.Pointer[[]Sink]

	reported     atomic.Int64
	suppressed   atomic.Int64
	delivered    atomic.Int64
	sinkFailures atomic.Int64
}

// NewRegistry creates a registry in the Disabled state with no sinks.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger: logger,
		start:  time.Now(),
	}
	empty := []Sink{}
	r.sinks.Store(&empty)
	return r
}

// Enable turns reporting on. Calling it again has no further effect.
func (r *Registry) Enable() {
	if !r.enabled.Swap(true) {
		r.logger.Info("thread hook enabled")
	}
}

// Disable turns reporting off. Calling it again has no further effect.
func (r *Registry) Disable() {
	if r.enabled.Swap(false) {
		r.logger.Info("thread hook disabled")
	}
}

// Enabled reports whether thread starts are currently reported.
func (r *Registry) Enabled() bool {
	return r.enabled.Load()
}

// State returns the current hook state.
func (r *Registry) State() State {
	if r.enabled.Load() {
		return StateEnabled
	}
	return StateDisabled
}

// RegisterSink appends s to the delivery list. Sinks are called in
// registration order. A nil sink is ignored.
func (r *Registry) RegisterSink(s Sink) {
	if s == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sinks.Load()
	next := make([]Sink, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	r.sinks.Store(&next)
}

// SinkCount returns the number of registered sinks.
func (r *Registry) SinkCount() int {
	return len(*r.sinks.Load())
}

// ReportThreadStart is called by the interception point from the new thread,
// before any user code runs on it. The enabled flag is read exactly once, so
// an event is emitted only if the hook was on when the thread started.
func (r *Registry) ReportThreadStart(t Thread) {
	r.reported.Add(1)

	if !r.enabled.Load() {
		r.suppressed.Add(1)
		return
	}

	ev := ThreadEvent{
		ThreadName:  t.Name,
		ThreadID:    t.ID,
		TimestampNS: time.Since(r.start).Nanoseconds(),
	}
	if t.HasParent {
		ev.ParentThreadID = t.ParentID
		ev.HasParent = true
	}

	for i, s := range *r.sinks.Load() {
		if err := r.deliver(i, s, ev); err != nil {
			r.sinkFailures.Add(1)
			r.logger.Debug("sink delivery failed",
				zap.String("thread", ev.ThreadName),
				zap.Int64("tid", ev.ThreadID),
				zap.Error(err),
			)
			continue
		}
		r.delivered.Add(1)
	}
}

func (r *Registry) deliver(idx int, s Sink, ev ThreadEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &SinkError{Index: idx, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if e := s.OnThreadStart(ev); e != nil {
		return &SinkError{Index: idx, Err: e}
	}
	return nil
}

// Stats returns the current counters.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Reported:     r.reported.Load(),
		Suppressed:   r.suppressed.Load(),
		Delivered:    r.delivered.Load(),
		SinkFailures: r.sinkFailures.Load(),
	}
}
