// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Toggle is the part of Registry the control watcher drives.
type Toggle interface {
	Enable()
	Disable()
}

// ControlWatcher applies writes to a ControlFile to a Toggle, so that
// `threadhook hook enable` takes effect in a running agent.
type ControlWatcher struct {
	control *ControlFile
	target  Toggle
	logger  *zap.Logger

	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewControlWatcher creates a watcher for control that drives target.
func NewControlWatcher(control *ControlFile, target Toggle, logger *zap.Logger) *ControlWatcher {
	return &ControlWatcher{
		control: control,
		target:  target,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start watches the control file's directory.
func (w *ControlWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.control.Path())); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("control watcher started", zap.String("path", w.control.Path()))
	return nil
}

// Stop shuts down the watcher and waits for its goroutine.
func (w *ControlWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	w.wg.Wait()
}

func (w *ControlWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	name := filepath.Base(w.control.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.apply()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("control watcher error", zap.Error(err))

		case <-ctx.Done():
			return

		case <-w.stopCh:
			return
		}
	}
}

func (w *ControlWatcher) apply() {
	state, err := w.control.State()
	if err != nil {
		w.logger.Warn("read control file failed", zap.Error(err))
		return
	}

	w.logger.Debug("control file changed", zap.Stringer("state", state))
	if state == StateEnabled {
		w.target.Enable()
	} else {
		w.target.Disable()
	}
}
