package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"spindle/pkg/config"
)

func testLatency() LatencyStats {
	return LatencyStats{
		Min: 1 * time.Millisecond,
		Avg: 5 * time.Millisecond,
		Max: 30 * time.Millisecond,
		Percentiles: map[int]time.Duration{
			50: 5 * time.Millisecond,
			95: 15 * time.Millisecond,
			99: 25 * time.Millisecond,
		},
	}
}

func TestLatencyStatsFromSamples(t *testing.T) {
	samples := []time.Duration{
		100 * time.Microsecond,
		200 * time.Microsecond,
		300 * time.Microsecond,
	}

	stats := LatencyStatsFromSamples(samples)
	if stats.Min != 100*time.Microsecond {
		t.Fatalf("min = %v, want 100µs", stats.Min)
	}
	if stats.Max != 300*time.Microsecond {
		t.Fatalf("max = %v, want 300µs", stats.Max)
	}
	if stats.Avg != 200*time.Microsecond {
		t.Fatalf("avg = %v, want 200µs", stats.Avg)
	}
	if stats.P95() != 300*time.Microsecond {
		t.Fatalf("p95 = %v, want 300µs", stats.P95())
	}
}

func TestLatencyStatsFromSamplesEmpty(t *testing.T) {
	stats := LatencyStatsFromSamples(nil)
	if stats.Min != 0 || stats.Avg != 0 || stats.Max != 0 {
		t.Fatalf("zero value expected, got %+v", stats)
	}
	if stats.P99() != 0 {
		t.Fatalf("p99 = %v, want 0", stats.P99())
	}
}

func TestLatencyStatsPercentileOrdering(t *testing.T) {
	samples := make([]time.Duration, 1000)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Microsecond
	}

	stats := LatencyStatsFromSamples(samples)
	p50 := stats.Percentiles[50]
	p95 := stats.Percentiles[95]
	p99 := stats.Percentiles[99]
	if p50 > p95 || p95 > p99 {
		t.Fatalf("percentiles out of order: p50=%v p95=%v p99=%v", p50, p95, p99)
	}
	if stats.Min > stats.Avg || stats.Avg > stats.Max {
		t.Fatalf("want min <= avg <= max, got %v %v %v", stats.Min, stats.Avg, stats.Max)
	}
}

func TestNewLatencyStatsApproximations(t *testing.T) {
	l := NewLatencyStats(1*time.Millisecond, 5*time.Millisecond, 30*time.Millisecond)
	if l.Percentiles[50] != l.Avg {
		t.Fatalf("p50 = %v, want avg %v", l.Percentiles[50], l.Avg)
	}
	if l.Percentiles[95] != l.Max || l.Percentiles[99] != l.Max {
		t.Fatalf("p95/p99 = %v/%v, want max %v", l.Percentiles[95], l.Percentiles[99], l.Max)
	}
}

func TestPercentileFallbackToMax(t *testing.T) {
	l := LatencyStats{Max: 7 * time.Millisecond}
	if l.P95() != 7*time.Millisecond || l.P99() != 7*time.Millisecond {
		t.Fatalf("fallback = %v/%v, want max", l.P95(), l.P99())
	}
}

func TestCombineLatencyStats(t *testing.T) {
	parts := []LatencyStats{
		NewLatencyStats(1*time.Millisecond, 3*time.Millisecond, 9*time.Millisecond),
		NewLatencyStats(2*time.Millisecond, 4*time.Millisecond, 20*time.Millisecond),
	}

	combined := CombineLatencyStats(parts)
	if combined.Min != 1*time.Millisecond {
		t.Fatalf("combined min = %v, want 1ms", combined.Min)
	}
	if combined.Max != 20*time.Millisecond {
		t.Fatalf("combined max = %v, want 20ms", combined.Max)
	}
	if combined.Avg < combined.Min || combined.Avg > combined.Max {
		t.Fatalf("combined avg %v outside [min, max]", combined.Avg)
	}
}

func TestNewPerformanceMetrics(t *testing.T) {
	m := NewPerformanceMetrics(1024*1024*1024, 10*time.Second, testLatency())

	if math.Abs(m.ThroughputMBps-102.4) > 0.1 {
		t.Fatalf("throughput = %.3f MB/s, want ~102.4", m.ThroughputMBps)
	}
	// 1 / 5ms average latency
	if math.Abs(m.IOPS-200.0) > 1.0 {
		t.Fatalf("iops = %.1f, want ~200", m.IOPS)
	}
}

func TestNewPerformanceMetricsZeroTime(t *testing.T) {
	m := NewPerformanceMetrics(1024, 0, testLatency())
	if m.ThroughputMBps != 0 || m.IOPS != 0 {
		t.Fatalf("zero elapsed should yield zero rates, got %.2f MB/s %.2f IOPS",
			m.ThroughputMBps, m.IOPS)
	}
}

func TestEfficiencyRatio(t *testing.T) {
	m := NewPerformanceMetrics(1024*1024*1024, 10*time.Second, testLatency())
	if got := m.EfficiencyRatio(1); math.Abs(got-m.ThroughputMBps) > 0.001 {
		t.Fatalf("ratio(1) = %.3f, want %.3f", got, m.ThroughputMBps)
	}
	if got := m.EfficiencyRatio(4); math.Abs(got-m.ThroughputMBps/4) > 0.001 {
		t.Fatalf("ratio(4) = %.3f, want %.3f", got, m.ThroughputMBps/4)
	}
	if m.EfficiencyRatio(0) != 0 {
		t.Fatal("ratio(0) should be 0")
	}
}

func TestValidateThroughput(t *testing.T) {
	m := NewPerformanceMetrics(2*1024*1024, 2*time.Second, testLatency())
	if !m.ValidateThroughput() {
		t.Fatal("freshly computed metrics should validate")
	}

	m.ThroughputMBps *= 2
	if m.ValidateThroughput() {
		t.Fatal("tampered throughput should not validate")
	}
}

func TestResultSummary(t *testing.T) {
	cfg := config.Preset(config.SequentialWrite)
	r := NewResult(cfg, NewPerformanceMetrics(1024*1024*1024, 10*time.Second, testLatency()), SystemInfo{})

	s := r.Summary()
	for _, want := range []string{"Sequential Write", "MB/s", "IOPS", "ms avg latency"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary %q missing %q", s, want)
		}
	}
}

func TestMeetsAccuracyRequirements(t *testing.T) {
	cfg := config.Preset(config.SequentialWrite)
	base := NewResult(cfg, NewPerformanceMetrics(1024*1024*1024, 10*time.Second, testLatency()), SystemInfo{})

	if !base.MeetsAccuracyRequirements(nil) {
		t.Fatal("fewer than three runs should always pass")
	}
	if !base.MeetsAccuracyRequirements([]BenchmarkResult{base}) {
		t.Fatal("two runs should always pass")
	}

	same := NewResult(cfg, NewPerformanceMetrics(1024*1024*1024, 10*time.Second, testLatency()), SystemInfo{})
	if !base.MeetsAccuracyRequirements([]BenchmarkResult{same, same}) {
		t.Fatal("identical runs should pass")
	}

	fast := NewResult(cfg, NewPerformanceMetrics(1024*1024*1024, 5*time.Second, testLatency()), SystemInfo{})
	if base.MeetsAccuracyRequirements([]BenchmarkResult{same, fast}) {
		t.Fatal("a 2x throughput swing should fail")
	}
}

func TestInferStorageType(t *testing.T) {
	if got := InferStorageType(2000.0, 500*time.Microsecond); got != StorageNVMe {
		t.Fatalf("got %v, want NVMe", got)
	}
	if got := InferStorageType(500.0, 2*time.Millisecond); got != StorageSSD {
		t.Fatalf("got %v, want SSD", got)
	}
	if got := InferStorageType(100.0, 15*time.Millisecond); got != StorageHDD {
		t.Fatalf("got %v, want HDD", got)
	}
}

func TestStorageTypeRecommendations(t *testing.T) {
	if StorageHDD.RecommendedBlockSize() != 1024*1024 || StorageHDD.RecommendedQueueDepth() != 1 {
		t.Fatal("HDD recommendation wrong")
	}
	if StorageSSD.RecommendedBlockSize() != 64*1024 || StorageSSD.RecommendedQueueDepth() != 4 {
		t.Fatal("SSD recommendation wrong")
	}
	if StorageNVMe.RecommendedBlockSize() != 128*1024 || StorageNVMe.RecommendedQueueDepth() != 8 {
		t.Fatal("NVMe recommendation wrong")
	}
}

func TestLatencyAccuracyByStorageType(t *testing.T) {
	ssd := NewLatencyStats(100*time.Microsecond, 500*time.Microsecond, 1*time.Millisecond)
	if !ssd.MeetsAccuracy(StorageSSD) {
		t.Fatal("typical SSD profile should pass")
	}

	hdd := NewLatencyStats(5*time.Millisecond, 10*time.Millisecond, 15*time.Millisecond)
	if !hdd.MeetsAccuracy(StorageHDD) {
		t.Fatal("typical HDD profile should pass")
	}

	bad := NewLatencyStats(1*time.Millisecond, 50*time.Millisecond, 1*time.Second)
	if bad.MeetsAccuracy(StorageSSD) {
		t.Fatal("50ms average should fail for SSD")
	}
}

func TestResultJSONRoundTrip(t *testing.T) {
	cfg := config.Preset(config.Mixed)
	r := NewResult(cfg, NewPerformanceMetrics(2*1024*1024, 2*time.Second, testLatency()), SystemInfo{
		OS:  "linux amd64",
		CPU: "test",
	})

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back BenchmarkResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Metrics.BytesProcessed != r.Metrics.BytesProcessed {
		t.Fatalf("bytes = %d, want %d", back.Metrics.BytesProcessed, r.Metrics.BytesProcessed)
	}
	if back.Config.Mode != config.Mixed {
		t.Fatalf("mode = %q, want mixed", back.Config.Mode)
	}
	if !back.Timestamp.Equal(r.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", back.Timestamp, r.Timestamp)
	}
	if back.Metrics.Latency.Percentiles[95] != 15*time.Millisecond {
		t.Fatalf("p95 = %v after round trip", back.Metrics.Latency.Percentiles[95])
	}
}
