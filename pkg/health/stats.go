// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mbeema/threadhook/pkg/hook"
)

// HookSource exposes the thread hook registry counters.
type HookSource interface {
	Enabled() bool
	SinkCount() int
	Stats() hook.RegistryStats
}

// ThreadSource exposes the spawner counters.
type ThreadSource interface {
	Spawned() int64
	Active() int64
	Panics() int64
}

// ExportSource exposes the export pipeline counters.
type ExportSource interface {
	Accepted() int64
	Exported() int64
	Dropped() int64
	QueueDepth() int
}

// Stats tracks self-monitoring counters for the agent. Sources are read at
// snapshot time; the OS gauges are pushed by the thread collector.
type Stats struct {
	startTime time.Time

	hook    HookSource
	threads ThreadSource
	export  ExportSource

	OSThreads      atomic.Int64
	ProcessRSS     atomic.Uint64
	ConfigReloads  atomic.Int64
	ControlChanges atomic.Int64
}

// NewStats creates a new Stats instance. Any source may be nil.
func NewStats(h HookSource, t ThreadSource, e ExportSource) *Stats {
	return &Stats{
		startTime: time.Now(),
		hook:      h,
		threads:   t,
		export:    e,
	}
}

// Uptime returns agent uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds float64
	Goroutines    int
	HeapBytes     uint64
	OSThreads     int64
	ProcessRSS    uint64

	HookEnabled bool
	Sinks       int
	Reported    int64
	Suppressed  int64
	Delivered   int64
	SinkErrors  int64

	ThreadsSpawned int64
	ThreadsActive  int64
	ThreadPanics   int64

	EventsQueued   int64
	EventsExported int64
	EventsDropped  int64
	QueueDepth     int

	ConfigReloads  int64
	ControlChanges int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := Snapshot{
		UptimeSeconds:  s.Uptime().Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		HeapBytes:      memStats.HeapAlloc,
		OSThreads:      s.OSThreads.Load(),
		ProcessRSS:     s.ProcessRSS.Load(),
		ConfigReloads:  s.ConfigReloads.Load(),
		ControlChanges: s.ControlChanges.Load(),
	}

	if s.hook != nil {
		rs := s.hook.Stats()
		snap.HookEnabled = s.hook.Enabled()
		snap.Sinks = s.hook.SinkCount()
		snap.Reported = rs.Reported
		snap.Suppressed = rs.Suppressed
		snap.Delivered = rs.Delivered
		snap.SinkErrors = rs.SinkFailures
	}
	if s.threads != nil {
		snap.ThreadsSpawned = s.threads.Spawned()
		snap.ThreadsActive = s.threads.Active()
		snap.ThreadPanics = s.threads.Panics()
	}
	if s.export != nil {
		snap.EventsQueued = s.export.Accepted()
		snap.EventsExported = s.export.Exported()
		snap.EventsDropped = s.export.Dropped()
		snap.QueueDepth = s.export.QueueDepth()
	}
	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "threadhook_uptime_seconds", "gauge", "Agent uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "threadhook_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "threadhook_heap_bytes", "gauge", "Go heap in use", float64(snap.HeapBytes))
	b = appendMetric(b, "threadhook_process_threads", "gauge", "OS threads in the agent process", float64(snap.OSThreads))
	b = appendMetric(b, "threadhook_process_rss_bytes", "gauge", "Resident set size of the agent process", float64(snap.ProcessRSS))
	b = appendMetric(b, "threadhook_hook_enabled", "gauge", "1 when thread start reporting is enabled", boolGauge(snap.HookEnabled))
	b = appendMetric(b, "threadhook_hook_sinks", "gauge", "Registered sinks", float64(snap.Sinks))
	b = appendMetric(b, "threadhook_thread_starts_reported_total", "counter", "Thread starts seen by the registry", float64(snap.Reported))
	b = appendMetric(b, "threadhook_thread_starts_suppressed_total", "counter", "Thread starts seen while disabled", float64(snap.Suppressed))
	b = appendMetric(b, "threadhook_sink_deliveries_total", "counter", "Successful sink deliveries", float64(snap.Delivered))
	b = appendMetric(b, "threadhook_sink_failures_total", "counter", "Sink errors and recovered panics", float64(snap.SinkErrors))
	b = appendMetric(b, "threadhook_threads_spawned_total", "counter", "Threads started through the spawner", float64(snap.ThreadsSpawned))
	b = appendMetric(b, "threadhook_threads_active", "gauge", "Spawned threads still running", float64(snap.ThreadsActive))
	b = appendMetric(b, "threadhook_thread_panics_total", "counter", "Thread bodies that panicked", float64(snap.ThreadPanics))
	b = appendMetric(b, "threadhook_events_queued_total", "counter", "Events accepted by the export queue", float64(snap.EventsQueued))
	b = appendMetric(b, "threadhook_events_exported_total", "counter", "Events exported", float64(snap.EventsExported))
	b = appendMetric(b, "threadhook_events_dropped_total", "counter", "Events dropped by the export pipeline", float64(snap.EventsDropped))
	b = appendMetric(b, "threadhook_export_queue_depth", "gauge", "Events waiting for export", float64(snap.QueueDepth))
	b = appendMetric(b, "threadhook_config_reloads_total", "counter", "Applied configuration reloads", float64(snap.ConfigReloads))
	b = appendMetric(b, "threadhook_control_changes_total", "counter", "State changes read from the control file", float64(snap.ControlChanges))
	return string(b)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
