// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"sync"

	"github.com/mbeema/threadhook/pkg/hook"
)

// Recorder keeps the most recent events in memory. With a capacity of zero
// it keeps everything, which is what tests want; the agent uses a bounded
// recorder to serve recent events over HTTP.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	events   []hook.ThreadEvent
	next     int // ring write position once full
	total    int64
}

var _ hook.Sink = (*Recorder)(nil)

// NewRecorder creates a recorder holding at most capacity events.
func NewRecorder(capacity int) *Recorder {
	if capacity < 0 {
		capacity = 0
	}
	return &Recorder{capacity: capacity}
}

// OnThreadStart implements hook.Sink.
func (r *Recorder) OnThreadStart(ev hook.ThreadEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if r.capacity == 0 || len(r.events) < r.capacity {
		r.events = append(r.events, ev)
		return nil
	}
	r.events[r.next] = ev
	r.next = (r.next + 1) % r.capacity
	return nil
}

// Events returns the retained events, oldest first.
func (r *Recorder) Events() []hook.ThreadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]hook.ThreadEvent, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Total returns the number of events ever recorded, retained or not.
func (r *Recorder) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Reset drops all retained events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.next = 0
}
