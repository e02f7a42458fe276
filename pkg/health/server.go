// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
)

// Controller is the slice of the agent the control endpoints drive.
type Controller interface {
	EnableThreadHook()
	DisableThreadHook()
	HookEnabled() bool
	SpawnDemoThreads() error
	RecentEvents() []hook.ThreadEvent
}

// Server provides health, readiness, metrics and hook control endpoints.
type Server struct {
	logger  *zap.Logger
	stats   *Stats
	version string
	addr    string
	ready   atomic.Bool
	ctrl    atomic.Pointer[controllerRef]
	server  *http.Server
}

type controllerRef struct{ c Controller }

// NewServer creates a health server.
func NewServer(addr, version string, stats *Stats, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		version: version,
		stats:   stats,
		logger:  logger,
	}
}

// SetReady marks the agent as ready to serve traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetController attaches the hook controller. Until one is set the control
// endpoints answer 503.
func (s *Server) SetController(c Controller) {
	s.ctrl.Store(&controllerRef{c: c})
}

func (s *Server) controller() Controller {
	if ref := s.ctrl.Load(); ref != nil {
		return ref.c
	}
	return nil
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/hook/enable", s.handleEnable)
	mux.HandleFunc("/hook/disable", s.handleDisable)
	mux.HandleFunc("/demo", s.handleDemo)
	return mux
}

// Start begins serving on the configured address.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()

	s.logger.Info("health server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the health server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Hook    string `json:"hook"`
}

type eventResponse struct {
	ThreadName     string `json:"thread_name"`
	ThreadID       int64  `json:"thread_id"`
	ParentThreadID *int64 `json:"parent_thread_id,omitempty"`
	TimestampNS    int64  `json:"ts_ns"`
}

type hookResponse struct {
	State  string          `json:"state"`
	Recent []eventResponse `json:"recent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Version: s.version,
		Uptime:  s.stats.Uptime().Truncate(time.Second).String(),
		Hook:    hook.StateDisabled.String(),
	}
	if c := s.controller(); c != nil && c.HookEnabled() {
		resp.Hook = hook.StateEnabled.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(s.stats.PrometheusMetrics()))
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := s.controller()
	if c == nil {
		http.Error(w, "hook controller not attached", http.StatusServiceUnavailable)
		return
	}

	events := c.RecentEvents()
	resp := hookResponse{
		State:  stateOf(c).String(),
		Recent: make([]eventResponse, 0, len(events)),
	}
	for _, ev := range events {
		er := eventResponse{
			ThreadName:  ev.ThreadName,
			ThreadID:    ev.ThreadID,
			TimestampNS: ev.TimestampNS,
		}
		if p, ok := ev.Parent(); ok {
			er.ParentThreadID = &p
		}
		resp.Recent = append(resp.Recent, er)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, Controller.EnableThreadHook)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, Controller.DisableThreadHook)
}

// handleToggle always answers with the resulting state; toggling cannot fail.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, apply func(Controller)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := s.controller()
	if c == nil {
		http.Error(w, "hook controller not attached", http.StatusServiceUnavailable)
		return
	}

	apply(c)
	writeJSON(w, http.StatusOK, hookResponse{State: stateOf(c).String()})
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := s.controller()
	if c == nil {
		http.Error(w, "hook controller not attached", http.StatusServiceUnavailable)
		return
	}

	if err := c.SpawnDemoThreads(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "spawned"})
}

func stateOf(c Controller) hook.State {
	if c.HookEnabled() {
		return hook.StateEnabled
	}
	return hook.StateDisabled
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
