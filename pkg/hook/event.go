// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "fmt"

// State is the process-wide hook toggle.
type State int32

const (
	StateDisabled State = iota // default; thread starts are not reported
	StateEnabled
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Thread identifies a thread at the moment it starts executing.
// It is what the interception point hands to ReportThreadStart.
type Thread struct {
	Name      string
	ID        int64
	ParentID  int64 // valid only when HasParent is set
	HasParent bool
}

// ThreadEvent describes one thread start. Events are passed by value and
// never retained by the registry once every sink has seen them.
type ThreadEvent struct {
	ThreadName     string
	ThreadID       int64
	ParentThreadID int64 // valid only when HasParent is set
	HasParent      bool

	// TimestampNS is monotonic nanoseconds since the registry was created.
	TimestampNS int64
}

// Parent returns the parent thread id, if the spawning thread was known.
func (e ThreadEvent) Parent() (int64, bool) {
	return e.ParentThreadID, e.HasParent
}

func (e ThreadEvent) String() string {
	if e.HasParent {
		return fmt.Sprintf("thread %q id=%d parent=%d t=%dns", e.ThreadName, e.ThreadID, e.ParentThreadID, e.TimestampNS)
	}
	return fmt.Sprintf("thread %q id=%d t=%dns", e.ThreadName, e.ThreadID, e.TimestampNS)
}
