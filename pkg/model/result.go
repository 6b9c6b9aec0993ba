// Package model defines the benchmark result types shared by the
// engine, the history store, and the CLI.
package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"spindle/pkg/config"
	"spindle/pkg/stats"
	"spindle/pkg/units"
)

// LatencyStats summarizes per-operation latencies with min/avg/max and
// percentile levels 50, 95 and 99.
type LatencyStats struct {
	Min         time.Duration         `json:"min"`
	Avg         time.Duration         `json:"avg"`
	Max         time.Duration         `json:"max"`
	Percentiles map[int]time.Duration `json:"percentiles"`
}

// NewLatencyStats builds stats from the three summary values alone,
// approximating p50 with the average and p95/p99 with the maximum.
// Prefer LatencyStatsFromSamples when the raw samples are available.
func NewLatencyStats(min, avg, max time.Duration) LatencyStats {
	return LatencyStats{
		Min: min,
		Avg: avg,
		Max: max,
		Percentiles: map[int]time.Duration{
			50: avg,
			95: max,
			99: max,
		},
	}
}

// LatencyStatsFromSamples computes stats over measured samples. The
// percentile at level p is the sorted sample at index n*p/100. Empty
// input yields the zero value.
func LatencyStatsFromSamples(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{Percentiles: map[int]time.Duration{}}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)

	return LatencyStats{
		Min: sorted[0],
		Avg: sum / time.Duration(n),
		Max: sorted[n-1],
		Percentiles: map[int]time.Duration{
			50: sorted[n*50/100],
			95: sorted[n*95/100],
			99: sorted[n*99/100],
		},
	}
}

// CombineLatencyStats merges per-worker summaries by pooling each
// worker's min, avg and max as samples and summarizing the pool. The
// true percentiles are gone once the raw samples are dropped; this
// keeps min/max exact and the rest a stable approximation.
func CombineLatencyStats(parts []LatencyStats) LatencyStats {
	pool := make([]time.Duration, 0, len(parts)*3)
	for _, p := range parts {
		pool = append(pool, p.Min, p.Avg, p.Max)
	}
	return LatencyStatsFromSamples(pool)
}

// P95 returns the 95th percentile, falling back to the maximum.
func (l LatencyStats) P95() time.Duration {
	if v, ok := l.Percentiles[95]; ok {
		return v
	}
	return l.Max
}

// P99 returns the 99th percentile, falling back to the maximum.
func (l LatencyStats) P99() time.Duration {
	if v, ok := l.Percentiles[99]; ok {
		return v
	}
	return l.Max
}

// MeetsAccuracy reports whether the latency profile is plausible for
// the given storage type: average inside the type's expected band and
// a min-to-max spread no wider than ten times the type's tolerance.
func (l LatencyStats) MeetsAccuracy(st StorageType) bool {
	var tolerance time.Duration
	var avgCeiling time.Duration
	switch st {
	case StorageNVMe:
		tolerance = 500 * time.Microsecond
		avgCeiling = 1 * time.Millisecond
	case StorageSSD:
		tolerance = 1 * time.Millisecond
		avgCeiling = 10 * time.Millisecond
	default:
		tolerance = 3 * time.Millisecond
		avgCeiling = 50 * time.Millisecond
	}

	if l.Avg > avgCeiling {
		return false
	}
	spread := l.Max - l.Min
	if spread < 0 {
		spread = 0
	}
	return spread <= tolerance*10
}

// PerformanceMetrics holds the measured performance of one benchmark
// run or one worker's share of it.
type PerformanceMetrics struct {
	BytesProcessed int64         `json:"bytes_processed"`
	ElapsedTime    time.Duration `json:"elapsed_time"`
	ThroughputMBps float64       `json:"throughput_mbps"`
	IOPS           float64       `json:"iops"`
	Latency        LatencyStats  `json:"latency"`
}

// NewPerformanceMetrics derives throughput from bytes over elapsed
// time and IOPS from the average latency. Zero elapsed time or zero
// average latency yield zero rates.
func NewPerformanceMetrics(bytesProcessed int64, elapsed time.Duration, latency LatencyStats) PerformanceMetrics {
	var iops float64
	if elapsed > 0 && latency.Avg > 0 {
		iops = 1.0 / latency.Avg.Seconds()
	}
	return PerformanceMetrics{
		BytesProcessed: bytesProcessed,
		ElapsedTime:    elapsed,
		ThroughputMBps: units.ThroughputMBps(bytesProcessed, elapsed),
		IOPS:           iops,
		Latency:        latency,
	}
}

// EfficiencyRatio returns throughput per worker.
func (m PerformanceMetrics) EfficiencyRatio(workers int) float64 {
	if workers <= 0 {
		return 0
	}
	return m.ThroughputMBps / float64(workers)
}

// ValidateThroughput checks that the stored throughput matches what
// the bytes and elapsed time imply, within 1%.
func (m PerformanceMetrics) ValidateThroughput() bool {
	if m.ElapsedTime == 0 {
		return m.ThroughputMBps == 0
	}
	expected := units.ThroughputMBps(m.BytesProcessed, m.ElapsedTime)
	if expected == 0 {
		return m.ThroughputMBps == 0
	}
	return math.Abs((m.ThroughputMBps-expected)/expected) < 0.01
}

// BenchmarkResult ties a finished run's metrics to the configuration
// that produced them and the system they ran on.
type BenchmarkResult struct {
	Timestamp    time.Time              `json:"timestamp"`
	Config       config.BenchmarkConfig `json:"config"`
	Metrics      PerformanceMetrics     `json:"metrics"`
	SystemInfo   SystemInfo             `json:"system_info"`
	Distribution *stats.Distribution    `json:"distribution,omitempty"`
}

// NewResult stamps a result with the current time. System detection is
// the caller's job so results stay constructible in tests and on hosts
// where probing is unwanted.
func NewResult(cfg config.BenchmarkConfig, metrics PerformanceMetrics, si SystemInfo) BenchmarkResult {
	return BenchmarkResult{
		Timestamp:  time.Now().UTC(),
		Config:     cfg,
		Metrics:    metrics,
		SystemInfo: si,
	}
}

// Summary renders a one-line human-readable digest.
func (r BenchmarkResult) Summary() string {
	return fmt.Sprintf("%s - %s - %.2f MB/s - %.0f IOPS - %.2fms avg latency",
		r.Timestamp.Format("2006-01-02 15:04:05 UTC"),
		r.Config.Mode.Description(),
		r.Metrics.ThroughputMBps,
		r.Metrics.IOPS,
		r.Metrics.Latency.Avg.Seconds()*1000.0,
	)
}

// MeetsAccuracyRequirements checks run-to-run repeatability: the
// maximum relative deviation from the mean throughput across this
// result and the others must stay inside the tolerance for the storage
// class the mean suggests. Fewer than three runs always pass.
func (r BenchmarkResult) MeetsAccuracyRequirements(others []BenchmarkResult) bool {
	if len(others) < 2 {
		return true
	}

	throughputs := make([]float64, 0, len(others)+1)
	for _, o := range others {
		throughputs = append(throughputs, o.Metrics.ThroughputMBps)
	}
	throughputs = append(throughputs, r.Metrics.ThroughputMBps)

	var sum float64
	for _, t := range throughputs {
		sum += t
	}
	avg := sum / float64(len(throughputs))
	if avg == 0 {
		return true
	}

	var maxDeviation float64
	for _, t := range throughputs {
		d := math.Abs((t - avg) / avg)
		if d > maxDeviation {
			maxDeviation = d
		}
	}

	threshold := 0.08
	switch {
	case avg > 1000.0:
		threshold = 0.03
	case avg > 100.0:
		threshold = 0.05
	}
	return maxDeviation <= threshold
}

// SystemInfo captures the host at benchmark time.
type SystemInfo struct {
	OS              string      `json:"os"`
	CPU             string      `json:"cpu"`
	MemoryTotal     uint64      `json:"memory_total"`
	MemoryAvailable uint64      `json:"memory_available"`
	StorageInfo     StorageInfo `json:"storage_info"`
}

// StorageInfo describes the device under test.
type StorageInfo struct {
	Device         string `json:"device"`
	Filesystem     string `json:"filesystem"`
	TotalSpace     uint64 `json:"total_space"`
	AvailableSpace uint64 `json:"available_space"`
}

// StorageType classifies the device under test by performance class.
type StorageType int

const (
	StorageHDD StorageType = iota
	StorageSSD
	StorageNVMe
)

func (st StorageType) String() string {
	switch st {
	case StorageSSD:
		return "SSD"
	case StorageNVMe:
		return "NVMe"
	default:
		return "HDD"
	}
}

// InferStorageType classifies a device from measured performance.
func InferStorageType(throughputMBps float64, avgLatency time.Duration) StorageType {
	latencyMs := avgLatency.Seconds() * 1000.0
	switch {
	case throughputMBps > 1000.0 && latencyMs < 1.0:
		return StorageNVMe
	case throughputMBps > 100.0 && latencyMs < 10.0:
		return StorageSSD
	default:
		return StorageHDD
	}
}

// RecommendedBlockSize returns the transfer size that suits the
// storage class: large sequential blocks for spinning disks, smaller
// blocks for flash.
func (st StorageType) RecommendedBlockSize() int64 {
	switch st {
	case StorageNVMe:
		return 128 * 1024
	case StorageSSD:
		return 64 * 1024
	default:
		return 1024 * 1024
	}
}

// RecommendedQueueDepth returns how many requests the storage class
// benefits from keeping in flight.
func (st StorageType) RecommendedQueueDepth() int {
	switch st {
	case StorageNVMe:
		return 8
	case StorageSSD:
		return 4
	default:
		return 1
	}
}

// AccuracyTolerance is the acceptable run-to-run relative deviation
// for the storage class.
func (st StorageType) AccuracyTolerance() float64 {
	switch st {
	case StorageNVMe:
		return 0.03
	case StorageSSD:
		return 0.05
	default:
		return 0.08
	}
}
