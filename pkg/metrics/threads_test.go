// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCollectSelf(t *testing.T) {
	tc := NewThreadCollector(zap.NewNop())

	s, err := tc.Collect()
	if err != nil {
		t.Skipf("process info unavailable on this platform: %v", err)
	}
	if s.PID != int32(os.Getpid()) {
		t.Errorf("pid = %d, want %d", s.PID, os.Getpid())
	}
	if s.Threads < 1 {
		t.Errorf("threads = %d, want at least 1", s.Threads)
	}
}

func TestCollectorPublishesSamples(t *testing.T) {
	tc := NewThreadCollector(zap.NewNop())
	if _, err := tc.Collect(); err != nil {
		t.Skipf("process info unavailable on this platform: %v", err)
	}

	got := make(chan Sample, 4)
	tc.OnSample(func(s Sample) {
		select {
		case got <- s:
		default:
		}
	})

	if err := tc.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tc.Stop()

	select {
	case s := <-got:
		if s.Threads < 1 {
			t.Errorf("threads = %d", s.Threads)
		}
		if tc.Last().Threads != s.Threads {
			t.Errorf("Last() = %+v, want %+v", tc.Last(), s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sample published")
	}
}

func TestCollectorStopIdempotent(t *testing.T) {
	tc := NewThreadCollector(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	tc.Start(ctx, time.Hour)
	cancel()
	tc.Stop()
	tc.Stop()
}
