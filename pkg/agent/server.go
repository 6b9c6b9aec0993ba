// Package agent exposes the benchmark engine over HTTP: one-shot runs,
// live progress over websocket, a health probe and Prometheus metrics.
// One benchmark runs at a time; concurrent run requests are rejected.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"spindle/internal/logger"
	"spindle/pkg/config"
	"spindle/pkg/engine"
	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/sysinfo"
)

type Server struct {
	// targetDir, when set, overrides the target directory of every
	// submitted config so remote callers cannot point the agent at
	// arbitrary paths.
	targetDir string

	lg       *logger.Logger
	metrics  *metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	running bool

	// defaults seeds every run request; a request body overlays it
	// field by field, and an empty body runs it as-is. Guarded
	// separately so a config reload never waits on a running benchmark.
	defMu    sync.RWMutex
	defaults config.BenchmarkConfig

	watchMu  sync.Mutex
	watchers map[chan engine.AggregatedProgress]struct{}
}

func NewServer(targetDir string, lg *logger.Logger) *Server {
	return &Server{
		targetDir: targetDir,
		lg:        logger.Default(lg),
		metrics:   newMetrics(),
		defaults:  config.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		watchers: make(map[chan engine.AggregatedProgress]struct{}),
	}
}

// SetDefaults replaces the config seeded into run requests. Its
// signature matches the config watcher callback, so a hot-reloaded
// config file can feed it directly.
func (s *Server) SetDefaults(cfg config.BenchmarkConfig) {
	s.defMu.Lock()
	s.defaults = cfg
	s.defMu.Unlock()
}

// Defaults returns the config seeded into run requests.
func (s *Server) Defaults() config.BenchmarkConfig {
	s.defMu.RLock()
	defer s.defMu.RUnlock()
	return s.defaults
}

// VerifyAccess probes that the pinned target directory is writable, so
// a misconfigured agent fails at startup instead of on the first run.
// A server without a pinned directory defers the check to each
// submitted config.
func (s *Server) VerifyAccess() error {
	if s.targetDir == "" {
		return nil
	}
	probe, err := os.CreateTemp(s.targetDir, ".spindle-probe-")
	if err != nil {
		return errs.FromOS(fmt.Sprintf("target %s is not writable", s.targetDir), err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Handler returns the route table. Exposed separately from
// ListenAndServe so tests can mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWatch)
	mux.Handle("/metrics", s.metrics.handler())
	return mux
}

func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.lg.Info("Agent listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.Defaults()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if s.targetDir != "" {
		cfg.TargetDir = s.targetDir
	}

	if !s.tryAcquire() {
		http.Error(w, "A benchmark is already running", http.StatusConflict)
		return
	}
	defer s.release()

	result, err := s.runBenchmark(r, cfg)
	if err != nil {
		s.metrics.observeFailure(string(cfg.Mode))
		s.lg.Error("Benchmark failed: %v", err)
		http.Error(w, errs.UserMessage(err), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.lg.Error("Failed to encode response: %v", err)
	}
}

// runBenchmark drives one full run, fanning aggregated progress out to
// websocket watchers along the way.
func (s *Server) runBenchmark(r *http.Request, cfg config.BenchmarkConfig) (*model.BenchmarkResult, error) {
	m, err := engine.NewManager(cfg, s.lg)
	if err != nil {
		return nil, err
	}

	out, err := m.Start(r.Context())
	if err != nil {
		return nil, err
	}

	s.metrics.runsInFlight.Inc()
	defer s.metrics.runsInFlight.Dec()

	for update := range out {
		s.publish(update)
	}

	results, err := m.WaitForCompletion()
	if err != nil {
		return nil, err
	}
	combined, err := engine.CombineResults(results)
	if err != nil {
		return nil, err
	}
	combined.Distribution = m.CombinedDistribution()
	combined.SystemInfo = sysinfo.Collect(cfg.TargetDir, s.lg)

	s.metrics.observeRun(combined)
	return &combined, nil
}

// handleWatch upgrades to a websocket and streams aggregated progress
// of whatever benchmark is running. Slow watchers miss updates rather
// than stalling the run.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lg.Error("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates := s.subscribe()
	defer s.unsubscribe(updates)

	// Read pump: its only job is noticing the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case u := <-updates:
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) subscribe() chan engine.AggregatedProgress {
	ch := make(chan engine.AggregatedProgress, 100)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan engine.AggregatedProgress) {
	s.watchMu.Lock()
	delete(s.watchers, ch)
	s.watchMu.Unlock()
}

func (s *Server) publish(u engine.AggregatedProgress) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Server) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.KindConfig):
		return http.StatusBadRequest
	case errs.Is(err, errs.KindPermission):
		return http.StatusForbidden
	case errs.Is(err, errs.KindInsufficientSpace):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
