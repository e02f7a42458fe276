// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mbeema/threadhook/pkg/config"
	"github.com/mbeema/threadhook/pkg/demo"
	"github.com/mbeema/threadhook/pkg/export"
	"github.com/mbeema/threadhook/pkg/health"
	"github.com/mbeema/threadhook/pkg/hook"
	"github.com/mbeema/threadhook/pkg/metrics"
	"github.com/mbeema/threadhook/pkg/sink"
	"github.com/mbeema/threadhook/pkg/thread"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint. The binary overrides it.
var Version = "dev"

// Agent owns the process-wide hook registry and wires the sinks, the
// spawner, exporters, collectors and control surfaces around it.
// Config is stored as atomic pointer, safe for concurrent access.
type Agent struct {
	cfg        atomic.Pointer[config.Config]
	logger     *zap.Logger
	instanceID string

	registry *hook.Registry
	spawner  *thread.Spawner
	logSink  *sink.LogSink
	recent   *sink.Recorder
	exporter *export.Manager

	threadColl   *metrics.ThreadCollector
	healthStats  *health.Stats
	healthServer *health.Server

	controlMu      sync.Mutex
	control        *hook.ControlFile
	controlWatcher *hook.ControlWatcher

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an agent from cfg. The hook starts in the state named by
// hook.enabled; nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Agent{
		logger:     logger,
		instanceID: uuid.NewString(),
	}
	a.cfg.Store(cfg)

	a.registry = hook.NewRegistry(logger.Named("hook"))

	if cfg.Sinks.Log.Enabled {
		a.logSink = sink.NewLogSink(cfg.Sinks.Log.Tag, logger)
		a.logSink.SetVerbose(cfg.Sinks.Log.Verbose)
		a.registry.RegisterSink(a.logSink)
	}

	if cfg.Sinks.Recent.Enabled {
		a.recent = sink.NewRecorder(cfg.Sinks.Recent.Capacity)
		a.registry.RegisterSink(a.recent)
	}

	a.exporter = export.NewManager(&cfg.Exporters, export.Resource{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		DeploymentEnv:  cfg.DeploymentEnv,
		InstanceID:     a.instanceID,
	}, logger)
	if a.exporter.Enabled() {
		a.registry.RegisterSink(a.exporter)
	}

	a.spawner = thread.NewSpawner(a.registry, logger.Named("thread"))
	a.healthStats = health.NewStats(a.registry, a.spawner, a.exporter)

	if cfg.Metrics.Enabled && cfg.Metrics.Threads.Enabled {
		a.threadColl = metrics.NewThreadCollector(logger)
		a.threadColl.OnSample(func(s metrics.Sample) {
			a.healthStats.OSThreads.Store(int64(s.Threads))
			a.healthStats.ProcessRSS.Store(s.RSSBytes)
		})
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, Version, a.healthStats, logger)
		a.healthServer.SetController(a)
	}

	if cfg.Hook.Enabled {
		a.registry.Enable()
	}

	logger.Info("agent created",
		zap.String("instance_id", a.instanceID),
		zap.Stringer("hook", a.registry.State()),
		zap.Int("sinks", a.registry.SinkCount()),
	)
	return a, nil
}

// Start runs the background subsystems.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx
	a.cancel = cancel

	cfg := a.cfg.Load()

	if err := a.exporter.Start(ctx); err != nil {
		return fmt.Errorf("start export manager: %w", err)
	}

	if a.threadColl != nil {
		if err := a.threadColl.Start(ctx, cfg.Metrics.Interval); err != nil {
			a.logger.Warn("thread collector start error", zap.Error(err))
		}
	}

	if cfg.Hook.OnDemandEnabled() {
		a.startControl(ctx, cfg.Hook.ControlDir)
	}

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		a.healthServer.SetReady(true)
	}

	a.logger.Info("agent started", zap.Stringer("hook", a.registry.State()))
	return nil
}

// startControl creates the on-demand control file. Failure leaves the
// agent running without CLI control.
func (a *Agent) startControl(ctx context.Context, dir string) {
	ctl, err := hook.CreateControlFile(dir, a.registry.State())
	if err != nil {
		a.logger.Warn("on-demand control unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}

	w := hook.NewControlWatcher(ctl, controlToggle{a}, a.logger)
	if err := w.Start(ctx); err != nil {
		a.logger.Warn("control watcher start error", zap.Error(err))
		ctl.Close()
		ctl.Remove()
		return
	}

	a.controlMu.Lock()
	a.control = ctl
	a.controlMu.Unlock()
	a.controlWatcher = w
	a.logger.Info("on-demand control enabled", zap.String("path", ctl.Path()))
}

// Stop shuts the subsystems down and flushes pending exports. Threads
// still running are not waited for; see WaitThreads.
func (a *Agent) Stop() error {
	// Control endpoints take a.mu; drain them before locking.
	if a.healthServer != nil {
		a.healthServer.SetReady(false)
		a.healthServer.Stop()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	if a.controlWatcher != nil {
		a.controlWatcher.Stop()
		a.controlWatcher = nil
	}
	a.controlMu.Lock()
	if a.control != nil {
		a.control.Close()
		a.control.Remove()
		a.control = nil
	}
	a.controlMu.Unlock()

	if a.threadColl != nil {
		a.threadColl.Stop()
	}

	a.exporter.Stop()

	rs := a.registry.Stats()
	a.logger.Info("agent stopped",
		zap.Int64("thread_starts", rs.Reported),
		zap.Int64("suppressed", rs.Suppressed),
		zap.Int64("delivered", rs.Delivered),
		zap.Int64("sink_failures", rs.SinkFailures),
		zap.Int64("exported", a.exporter.Exported()),
	)
	return nil
}

// Reload applies a new configuration. The hook state follows hook.enabled
// only when that key changed, so a runtime toggle survives unrelated edits.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	old := a.cfg.Swap(cfg)

	if old == nil || old.Hook.Enabled != cfg.Hook.Enabled {
		if cfg.Hook.Enabled {
			a.EnableThreadHook()
		} else {
			a.DisableThreadHook()
		}
	}

	if a.logSink != nil {
		a.logSink.SetVerbose(cfg.Sinks.Log.Verbose)
	}

	a.healthStats.ConfigReloads.Add(1)
	a.logger.Info("configuration reloaded",
		zap.Stringer("hook", a.registry.State()),
		zap.Bool("log_verbose", cfg.Sinks.Log.Verbose),
	)
	return nil
}

// Registry returns the process-wide hook registry.
func (a *Agent) Registry() *hook.Registry {
	return a.registry
}

// Spawner returns the interception point for threads started by the agent.
func (a *Agent) Spawner() *thread.Spawner {
	return a.spawner
}

// Stats returns the self-monitoring counters.
func (a *Agent) Stats() *health.Stats {
	return a.healthStats
}

// InstanceID identifies this agent run in exported telemetry.
func (a *Agent) InstanceID() string {
	return a.instanceID
}

// EnableThreadHook turns thread start reporting on. It always succeeds;
// the control file is updated on a best-effort basis.
func (a *Agent) EnableThreadHook() {
	a.registry.Enable()
	a.mirrorControl(hook.StateEnabled)
}

// DisableThreadHook turns thread start reporting off.
func (a *Agent) DisableThreadHook() {
	a.registry.Disable()
	a.mirrorControl(hook.StateDisabled)
}

func (a *Agent) mirrorControl(s hook.State) {
	a.controlMu.Lock()
	defer a.controlMu.Unlock()

	if a.control == nil {
		return
	}
	if err := a.control.Set(s); err != nil {
		a.logger.Warn("control file update failed",
			zap.String("path", a.control.Path()),
			zap.Stringer("state", s),
			zap.Error(err),
		)
	}
}

// HookEnabled reports the registry state.
func (a *Agent) HookEnabled() bool {
	return a.registry.Enabled()
}

// RecentEvents returns the events held by the recent-events sink, oldest
// first. It is empty when that sink is disabled.
func (a *Agent) RecentEvents() []hook.ThreadEvent {
	if a.recent == nil {
		return nil
	}
	return a.recent.Events()
}

// SpawnDemoThreads starts the outer demo thread, which starts the inner one.
func (a *Agent) SpawnDemoThreads() error {
	cfg := a.cfg.Load()
	names := demo.Names{Outer: cfg.Demo.OuterName, Inner: cfg.Demo.InnerName}
	return demo.Spawn(a.runContext(), a.spawner, names, cfg.Sinks.Log.Tag, a.logger)
}

// WaitThreads blocks until every thread started through the agent returns.
func (a *Agent) WaitThreads() {
	a.spawner.Wait()
}

func (a *Agent) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

// controlToggle applies control file changes to the registry.
type controlToggle struct{ a *Agent }

func (t controlToggle) Enable() {
	if !t.a.registry.Enabled() {
		t.a.registry.Enable()
		t.a.healthStats.ControlChanges.Add(1)
	}
}

func (t controlToggle) Disable() {
	if t.a.registry.Enabled() {
		t.a.registry.Disable()
		t.a.healthStats.ControlChanges.Add(1)
	}
}
