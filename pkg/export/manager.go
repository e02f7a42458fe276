// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/threadhook/pkg/config"
	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by OnThreadStart when the export queue is full
// and the event was dropped.
var ErrQueueFull = errors.New("export queue full")

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 5 * time.Second
	defaultQueueSize     = 10000

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Options tunes batching. Zero values take the defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Manager batches thread-start events and hands them to exporters. It is a
// hook.Sink: enqueueing never blocks the reporting thread, and a full queue
// drops the event.
type Manager struct {
	logger    *zap.Logger
	exporters []Exporter

	ch            chan Record
	batchSize     int
	flushInterval time.Duration

	breaker *CircuitBreaker
	retries int
	backoff time.Duration

	accepted atomic.Int64
	exported atomic.Int64
	dropped  atomic.Int64

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ hook.Sink = (*Manager)(nil)

// NewManager creates a manager with exporters built from configuration.
// An exporter that cannot be created is logged and skipped.
func NewManager(cfg *config.ExportersConfig, res Resource, logger *zap.Logger) *Manager {
	var exporters []Exporter

	if cfg.OTLP.Enabled {
		var exp Exporter
		var err error
		if cfg.OTLP.Protocol == "http" {
			exp, err = NewHTTPOTLPExporter(&cfg.OTLP, res, logger)
		} else {
			exp, err = NewOTLPExporter(&cfg.OTLP, res, logger)
		}
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			exporters = append(exporters, exp)
		}
	}

	if cfg.Stdout.Enabled {
		exporters = append(exporters, NewStdoutExporter(cfg.Stdout.Format, nil, logger))
	}

	return NewManagerWithExporters(exporters, Options{}, logger)
}

// NewManagerWithExporters creates a manager around the given exporters.
func NewManagerWithExporters(exporters []Exporter, opts Options, logger *zap.Logger) *Manager {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Manager{
		logger:        logger,
		exporters:     exporters,
		ch:            make(chan Record, opts.QueueSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		breaker:       NewCircuitBreaker(5, 30*time.Second),
		retries:       maxRetries,
		backoff:       initialBackoff,
		stopCh:        make(chan struct{}),
	}
}

// Enabled reports whether any exporter is configured.
func (m *Manager) Enabled() bool {
	return len(m.exporters) > 0
}

// OnThreadStart implements hook.Sink.
func (m *Manager) OnThreadStart(ev hook.ThreadEvent) error {
	select {
	case m.ch <- Record{Event: ev, Observed: time.Now()}:
		m.accepted.Add(1)
		return nil
	default:
		m.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start begins the batching goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.process(ctx)

	m.logger.Info("export manager started",
		zap.Int("exporters", len(m.exporters)),
		zap.Int("batch_size", m.batchSize),
		zap.Duration("flush_interval", m.flushInterval),
	)
	return nil
}

// Stop drains the queue, flushes and shuts the exporters down.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, exp := range m.exporters {
		if err := exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.Error(err))
		}
	}

	m.logger.Info("export manager stopped",
		zap.Int64("events_exported", m.exported.Load()),
		zap.Int64("events_dropped", m.dropped.Load()),
	)
	return nil
}

func (m *Manager) process(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]Record, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	drain := func(flushCtx context.Context) {
		for {
			select {
			case r := <-m.ch:
				batch = append(batch, r)
			default:
				if len(batch) > 0 {
					m.flush(flushCtx, batch)
				}
				return
			}
		}
	}

	for {
		select {
		case r := <-m.ch:
			batch = append(batch, r)
			if len(batch) >= m.batchSize {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-m.stopCh:
			drain(ctx)
			return

		case <-ctx.Done():
			drain(context.Background())
			return
		}
	}
}

func (m *Manager) flush(ctx context.Context, batch []Record) {
	if len(m.exporters) == 0 {
		m.dropped.Add(int64(len(batch)))
		return
	}

	// Exporters may hold on to the slice; give them their own copy.
	records := make([]Record, len(batch))
	copy(records, batch)

	delivered := false
	for _, exp := range m.exporters {
		if m.retryExport(ctx, exp, records) {
			delivered = true
		}
	}

	if delivered {
		m.exported.Add(int64(len(records)))
	} else {
		m.dropped.Add(int64(len(records)))
	}
}

// retryExport attempts an export with exponential backoff behind the
// circuit breaker. It reports whether the export eventually succeeded.
func (m *Manager) retryExport(ctx context.Context, exp Exporter, records []Record) bool {
	if !m.breaker.Allow() {
		m.logger.Debug("circuit breaker open, dropping batch", zap.Int("events", len(records)))
		return false
	}

	backoff := m.backoff
	for attempt := 0; attempt <= m.retries; attempt++ {
		exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := exp.ExportEvents(exportCtx, records)
		cancel()

		if err == nil {
			m.breaker.RecordSuccess()
			return true
		}

		m.breaker.RecordFailure()

		if attempt == m.retries {
			m.logger.Error("export failed after retries",
				zap.Int("attempts", attempt+1),
				zap.Int("events", len(records)),
				zap.Error(err),
			)
			return false
		}

		m.logger.Warn("export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}

		backoff = time.Duration(math.Min(float64(backoff)*backoffFactor, float64(maxBackoff)))
	}
	return false
}

// Accepted returns the number of events queued for export.
func (m *Manager) Accepted() int64 {
	return m.accepted.Load()
}

// Exported returns the number of events delivered to at least one exporter.
func (m *Manager) Exported() int64 {
	return m.exported.Load()
}

// Dropped returns the number of events lost to a full queue or failed export.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// QueueDepth returns the current queue fill level.
func (m *Manager) QueueDepth() int {
	return len(m.ch)
}

// BreakerState returns the circuit breaker state.
func (m *Manager) BreakerState() CircuitState {
	return m.breaker.State()
}
