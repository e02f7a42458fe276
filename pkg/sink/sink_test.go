// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"testing"

	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSinkWritesOneLinePerEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink("", zap.New(core))
	s.SetVerbose(true)

	s.OnThreadStart(hook.ThreadEvent{ThreadName: "worker-1", ThreadID: 42})
	s.OnThreadStart(hook.ThreadEvent{ThreadName: "worker-2", ThreadID: 43, ParentThreadID: 42, HasParent: true})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log lines, want 2", len(entries))
	}
	if entries[0].LoggerName != DefaultTag {
		t.Errorf("logger name = %q, want %q", entries[0].LoggerName, DefaultTag)
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Errorf("level = %v, want info when verbose", entries[0].Level)
	}
	fields := entries[1].ContextMap()
	if fields["name"] != "worker-2" || fields["tid"] != int64(43) || fields["parent_tid"] != int64(42) {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := entries[0].ContextMap()["parent_tid"]; ok {
		t.Error("event without parent should not log parent_tid")
	}
}

func TestLogSinkQuietUsesDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink("custom", zap.New(core))

	s.OnThreadStart(hook.ThreadEvent{ThreadName: "w", ThreadID: 1})

	if logs.Len() != 1 || logs.All()[0].Level != zapcore.DebugLevel {
		t.Errorf("expected one debug line, got %v", logs.All())
	}
	if logs.All()[0].LoggerName != "custom" {
		t.Errorf("logger name = %q, want custom", logs.All()[0].LoggerName)
	}
}

func TestRecorderUnbounded(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 100; i++ {
		r.OnThreadStart(hook.ThreadEvent{ThreadID: int64(i)})
	}
	if r.Len() != 100 || r.Total() != 100 {
		t.Errorf("Len/Total = %d/%d, want 100/100", r.Len(), r.Total())
	}
	if r.Events()[0].ThreadID != 0 {
		t.Errorf("first event id = %d, want 0", r.Events()[0].ThreadID)
	}
}

func TestRecorderRingKeepsNewest(t *testing.T) {
	r := NewRecorder(3)
	for i := 1; i <= 5; i++ {
		r.OnThreadStart(hook.ThreadEvent{ThreadID: int64(i)})
	}

	got := r.Events()
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3", len(got))
	}
	for i, want := range []int64{3, 4, 5} {
		if got[i].ThreadID != want {
			t.Errorf("events[%d] = %d, want %d", i, got[i].ThreadID, want)
		}
	}
	if r.Total() != 5 {
		t.Errorf("Total = %d, want 5", r.Total())
	}
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder(2)
	r.OnThreadStart(hook.ThreadEvent{ThreadID: 1})
	r.OnThreadStart(hook.ThreadEvent{ThreadID: 2})
	r.OnThreadStart(hook.ThreadEvent{ThreadID: 3})
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("Len = %d after Reset, want 0", r.Len())
	}
	r.OnThreadStart(hook.ThreadEvent{ThreadID: 4})
	if got := r.Events(); len(got) != 1 || got[0].ThreadID != 4 {
		t.Errorf("events after reset = %v", got)
	}
}
