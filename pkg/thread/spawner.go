// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package thread is the interception point for thread starts. Code that
// wants its threads observed starts them through a Spawner, which reports
// each start to the hook registry from the new thread before running the
// thread body.
package thread

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
)

// Reporter receives thread starts. *hook.Registry satisfies it.
type Reporter interface {
	ReportThreadStart(t hook.Thread)
}

type threadKey struct{}

// Current returns the identity of the spawned thread running ctx's call
// chain. It returns false outside threads started by a Spawner.
func Current(ctx context.Context) (hook.Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(hook.Thread)
	return t, ok
}

func withThread(ctx context.Context, t hook.Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// Spawner starts goroutines pinned to their own OS thread and reports each
// start to a Reporter.
type Spawner struct {
	reporter Reporter
	logger   *zap.Logger

	spawned atomic.Int64
	active  atomic.Int64
	panics  atomic.Int64
	wg      sync.WaitGroup
}

// NewSpawner creates a spawner reporting to r.
func NewSpawner(r Reporter, logger *zap.Logger) *Spawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spawner{reporter: r, logger: logger}
}

// Go starts fn on a new OS thread named name. If ctx was passed down from
// another spawned thread, that thread is recorded as the parent. fn receives
// a context from which Current returns the new thread's identity.
func (s *Spawner) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	parent, hasParent := Current(ctx)

	s.spawned.Add(1)
	s.active.Add(1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		runtime.LockOSThread()

		self := hook.Thread{Name: name, ID: s.threadID()}
		if hasParent {
			self.ParentID = parent.ID
			self.HasParent = true
		}

		s.reporter.ReportThreadStart(self)

		// A thread that panicked stays locked so the runtime retires its
		// OS thread instead of reusing it.
		if s.run(withThread(ctx, self), self, fn) {
			runtime.UnlockOSThread()
		}
	}()
}

func (s *Spawner) run(ctx context.Context, self hook.Thread, fn func(ctx context.Context)) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.panics.Add(1)
			s.logger.Error("thread panicked",
				zap.String("thread", self.Name),
				zap.Int64("tid", self.ID),
				zap.Any("panic", p),
			)
			ok = false
		}
	}()

	fn(ctx)
	return true
}

// fallbackID hands out process-unique ids where the OS thread id is not
// available. It is shared by every Spawner.
var fallbackID atomic.Int64

func nextFallbackID() int64 {
	return fallbackID.Add(1)
}

func (s *Spawner) threadID() int64 {
	if id, ok := osThreadID(); ok {
		return id
	}
	return nextFallbackID()
}

// Wait blocks until every thread started by this spawner has returned.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// Spawned returns the number of threads started so far.
func (s *Spawner) Spawned() int64 {
	return s.spawned.Load()
}

// Active returns the number of threads still running.
func (s *Spawner) Active() int64 {
	return s.active.Load()
}

// Panics returns the number of thread bodies that panicked.
func (s *Spawner) Panics() int64 {
	return s.panics.Load()
}
