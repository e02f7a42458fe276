// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"sync/atomic"

	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
)

// DefaultTag is the logger name thread-start lines are written under.
const DefaultTag = "HOOOOOOOOK"

// LogSink writes every thread-start event as one structured log line.
type LogSink struct {
	logger  *zap.Logger
	verbose atomic.Bool
}

var _ hook.Sink = (*LogSink)(nil)

// NewLogSink creates a log sink writing under the named logger tag.
func NewLogSink(tag string, logger *zap.Logger) *LogSink {
	if tag == "" {
		tag = DefaultTag
	}
	return &LogSink{logger: logger.Named(tag)}
}

// SetVerbose switches between Info (verbose) and Debug lines.
func (s *LogSink) SetVerbose(v bool) {
	s.verbose.Store(v)
}

// OnThreadStart implements hook.Sink.
func (s *LogSink) OnThreadStart(ev hook.ThreadEvent) error {
	fields := []zap.Field{
		zap.String("name", ev.ThreadName),
		zap.Int64("tid", ev.ThreadID),
		zap.Int64("ts_ns", ev.TimestampNS),
	}
	if parent, ok := ev.Parent(); ok {
		fields = append(fields, zap.Int64("parent_tid", parent))
	}

	if s.verbose.Load() {
		s.logger.Info("thread started", fields...)
	} else {
		s.logger.Debug("thread started", fields...)
	}
	return nil
}
