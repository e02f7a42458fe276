// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const defaultInterval = 15 * time.Second

// Sample is one reading of the agent's own process.
type Sample struct {
	PID       int32
	Threads   int32
	RSSBytes  uint64
	Timestamp time.Time
}

// ThreadCollector periodically samples the OS thread count and RSS of the
// current process. Spawned threads show up here as real OS threads, which
// makes it the outside view of what the hook reports from the inside.
type ThreadCollector struct {
	logger *zap.Logger
	pid    int32

	mu        sync.RWMutex
	callbacks []func(Sample)
	last      Sample

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewThreadCollector creates a collector for the current process.
func NewThreadCollector(logger *zap.Logger) *ThreadCollector {
	return &ThreadCollector{
		logger: logger,
		pid:    int32(os.Getpid()),
		stopCh: make(chan struct{}),
	}
}

// OnSample registers a callback invoked after every successful sample.
func (tc *ThreadCollector) OnSample(fn func(Sample)) {
	tc.mu.Lock()
	tc.callbacks = append(tc.callbacks, fn)
	tc.mu.Unlock()
}

// Start begins periodic collection. A zero interval means 15s.
func (tc *ThreadCollector) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultInterval
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tc.tick()

		for {
			select {
			case <-ticker.C:
				tc.tick()
			case <-tc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	tc.logger.Info("thread metrics collector started",
		zap.Int32("pid", tc.pid),
		zap.Duration("interval", interval),
	)
	return nil
}

// Stop halts collection.
func (tc *ThreadCollector) Stop() error {
	tc.stopOnce.Do(func() { close(tc.stopCh) })
	tc.wg.Wait()
	return nil
}

// Last returns the most recent successful sample.
func (tc *ThreadCollector) Last() Sample {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.last
}

func (tc *ThreadCollector) tick() {
	s, err := tc.Collect()
	if err != nil {
		// /proc reads can fail transiently; keep the previous sample.
		tc.logger.Debug("thread sample failed", zap.Error(err))
		return
	}

	tc.mu.Lock()
	tc.last = s
	cbs := tc.callbacks
	tc.mu.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
}

// Collect takes one sample synchronously.
func (tc *ThreadCollector) Collect() (Sample, error) {
	proc, err := process.NewProcess(tc.pid)
	if err != nil {
		return Sample{}, fmt.Errorf("open process %d: %w", tc.pid, err)
	}

	threads, err := proc.NumThreads()
	if err != nil {
		return Sample{}, fmt.Errorf("thread count: %w", err)
	}

	s := Sample{
		PID:       tc.pid,
		Threads:   threads,
		Timestamp: time.Now(),
	}

	if mem, err := proc.MemoryInfo(); err == nil {
		s.RSSBytes = mem.RSS
	}
	return s, nil
}
