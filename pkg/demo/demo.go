// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package demo starts a small nested pair of threads so the hook can be
// seen working end to end.
package demo

import (
	"context"
	"errors"

	"github.com/mbeema/threadhook/pkg/sink"
	"github.com/mbeema/threadhook/pkg/thread"
	"go.uber.org/zap"
)

// Names are the thread names used by Spawn.
type Names struct {
	Outer string
	Inner string
}

// DefaultNames returns worker-1 and worker-2.
func DefaultNames() Names {
	return Names{Outer: "worker-1", Inner: "worker-2"}
}

// Spawn starts the outer thread, which logs its name and id and then starts
// the inner thread, which does the same. Lines are written under the logger
// name tag, sink.DefaultTag when empty. It returns as soon as the outer
// thread is scheduled; use the spawner's Wait to join both.
func Spawn(ctx context.Context, sp *thread.Spawner, names Names, tag string, logger *zap.Logger) error {
	if sp == nil {
		return errors.New("demo: nil spawner")
	}
	if names.Outer == "" || names.Inner == "" {
		return errors.New("demo: thread names must not be empty")
	}

	if tag == "" {
		tag = sink.DefaultTag
	}
	log := logger.Named(tag)

	sp.Go(ctx, names.Outer, func(ctx context.Context) {
		self, _ := thread.Current(ctx)
		log.Info("thread name", zap.String("name", self.Name))
		log.Info("thread id", zap.Int64("id", self.ID))

		sp.Go(ctx, names.Inner, func(ctx context.Context) {
			inner, _ := thread.Current(ctx)
			log.Info("inner thread name", zap.String("name", inner.Name))
			log.Info("inner thread id", zap.Int64("id", inner.ID))
		})
	})
	return nil
}
