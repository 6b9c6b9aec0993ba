package agent

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spindle/internal/logger"
	"spindle/pkg/config"
	"spindle/pkg/engine"
	"spindle/pkg/model"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("", logger.NewWithOutput(logger.ERROR, io.Discard))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func runConfig(t *testing.T) config.BenchmarkConfig {
	t.Helper()
	return config.BenchmarkConfig{
		TargetDir: t.TempDir(),
		Mode:      config.SequentialWrite,
		FileSize:  256 * 1024,
		BlockSize: 64 * 1024,
		Duration:  config.Duration(time.Second),
		Workers:   1,
	}
}

func postRun(t *testing.T, url string, cfg config.BenchmarkConfig) *http.Response {
	t.Helper()
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /run failed: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Errorf("body %q, want OK", body)
	}
}

func TestRunEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	cfg := runConfig(t)

	resp := postRun(t, ts.URL, cfg)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var result model.BenchmarkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Metrics.BytesProcessed != cfg.FileSize {
		t.Errorf("processed %d bytes, want %d", result.Metrics.BytesProcessed, cfg.FileSize)
	}
	if result.Metrics.ThroughputMBps <= 0 {
		t.Errorf("throughput %f, want > 0", result.Metrics.ThroughputMBps)
	}
	if result.SystemInfo.OS == "" {
		t.Error("system info not attached")
	}
}

func TestRunRejectsGet(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/run")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", resp.StatusCode)
	}
}

func TestRunRejectsInvalidBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, ts := newTestServer(t)
	cfg := runConfig(t)
	cfg.BlockSize = 999 // not a power of two

	resp := postRun(t, ts.URL, cfg)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status %d, want 400: %s", resp.StatusCode, body)
	}
}

func TestRunEmptyBodyUsesDefaults(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetDefaults(runConfig(t))

	resp, err := http.Post(ts.URL+"/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var result model.BenchmarkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Metrics.BytesProcessed != s.Defaults().FileSize {
		t.Errorf("processed %d bytes, want the default %d", result.Metrics.BytesProcessed, s.Defaults().FileSize)
	}
}

func TestRunPartialBodyOverlaysDefaults(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetDefaults(runConfig(t))

	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(`{"file_size":131072}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var result model.BenchmarkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Config.FileSize != 131072 {
		t.Errorf("file size = %d, want the overlay 131072", result.Config.FileSize)
	}
	if got, want := result.Config.Mode, s.Defaults().Mode; got != want {
		t.Errorf("mode = %q, want the default %q", got, want)
	}
}

func TestRunBusy(t *testing.T) {
	s, ts := newTestServer(t)

	if !s.tryAcquire() {
		t.Fatal("fresh server is busy")
	}
	defer s.release()

	resp := postRun(t, ts.URL, runConfig(t))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d, want 409", resp.StatusCode)
	}
}

func TestTargetDirOverride(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(dir, logger.NewWithOutput(logger.ERROR, io.Discard))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	cfg := runConfig(t)
	cfg.TargetDir = "/nonexistent/path"

	resp := postRun(t, ts.URL, cfg)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var result model.BenchmarkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Config.TargetDir != dir {
		t.Errorf("ran against %q, want agent override %q", result.Config.TargetDir, dir)
	}
}

func TestVerifyAccess(t *testing.T) {
	quiet := logger.NewWithOutput(logger.ERROR, io.Discard)

	if err := NewServer(t.TempDir(), quiet).VerifyAccess(); err != nil {
		t.Errorf("writable dir rejected: %v", err)
	}
	if err := NewServer("/nonexistent/spindle-agent", quiet).VerifyAccess(); err == nil {
		t.Error("nonexistent dir accepted")
	}
	if err := NewServer("", quiet).VerifyAccess(); err != nil {
		t.Errorf("unpinned server rejected: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postRun(t, ts.URL, runConfig(t))
	resp.Body.Close()

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", mresp.StatusCode)
	}
	body, _ := io.ReadAll(mresp.Body)
	for _, want := range []string{"spindle_runs_total", "spindle_throughput_mbps", "spindle_bytes_processed_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestWatchStreamsProgress(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register the subscription.
	time.Sleep(100 * time.Millisecond)

	runDone := make(chan error, 1)
	go func() {
		resp := postRun(t, ts.URL, runConfig(t))
		resp.Body.Close()
		runDone <- nil
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var update engine.AggregatedProgress
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("no progress frame received: %v", err)
	}
	if update.Elapsed < 0 {
		t.Errorf("negative elapsed in update: %v", update.Elapsed)
	}
	<-runDone
}
