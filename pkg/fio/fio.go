// Package fio translates between spindle configs and fio, the
// reference disk benchmark, so results from the two tools can be
// cross-checked on the same workload.
package fio

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"spindle/pkg/config"
	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/units"
)

// GenerateJob renders cfg as an fio job file running the equivalent
// workload: psync matches the engine's one-op-at-a-time pread/pwrite
// executors, direct=1 matches its preferred unbuffered path.
func GenerateJob(cfg config.BenchmarkConfig) string {
	var sb strings.Builder

	sb.WriteString("[global]\n")
	sb.WriteString("ioengine=psync\n")
	sb.WriteString(fmt.Sprintf("directory=%s\n", cfg.TargetDir))
	sb.WriteString(fmt.Sprintf("size=%d\n", cfg.FileSize))
	sb.WriteString(fmt.Sprintf("bs=%d\n", cfg.BlockSize))
	sb.WriteString("direct=1\n")

	switch cfg.Mode {
	case config.SequentialWrite:
		sb.WriteString("rw=write\n")
	case config.SequentialRead:
		sb.WriteString("rw=read\n")
	default:
		sb.WriteString("rw=randrw\n")
		mix := int(math.Round(cfg.EffectiveReadRatio() * 100))
		sb.WriteString(fmt.Sprintf("rwmixread=%d\n", mix))
	}

	sb.WriteString(fmt.Sprintf("numjobs=%d\n", cfg.Workers))
	sb.WriteString("iodepth=1\n")
	if cfg.Workers > 1 {
		sb.WriteString("group_reporting\n")
	}

	if cfg.Mode.UsesDuration() {
		sb.WriteString("time_based\n")
		sb.WriteString(fmt.Sprintf("runtime=%ds\n", int(cfg.Duration.Std().Seconds())))
	}

	sb.WriteString("\n[spindle]\n")
	return sb.String()
}

// Structures for the slice of `fio --output-format=json` we consume.
type output struct {
	Jobs        []job `json:"jobs"`
	ClientStats []job `json:"client_stats"`
}

type job struct {
	Read      dirStats `json:"read"`
	Write     dirStats `json:"write"`
	RuntimeMs int64    `json:"job_runtime"`
}

type dirStats struct {
	IOPS     float64  `json:"iops"`
	TotalIOs int64    `json:"total_ios"`
	IOBytes  int64    `json:"io_bytes"`
	Clat     latStats `json:"clat_ns"`
}

type latStats struct {
	Min        int64              `json:"min"`
	Max        int64              `json:"max"`
	Mean       float64            `json:"mean"`
	Percentile map[string]float64 `json:"percentile"`
}

// ParseResult converts `fio --output-format=json` output into spindle
// metrics. Reads and writes are merged: counts and bytes sum, latency
// means and percentiles weight by operation count, min and max take
// the extremes. With group_reporting fio emits a single job covering
// everything; multiple jobs sum the same way. A zero elapsed falls
// back to the job runtime fio reports.
func ParseResult(jsonData []byte, elapsed time.Duration) (model.PerformanceMetrics, error) {
	var out output
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return model.PerformanceMetrics{}, errs.Wrap(errs.KindBenchmark, "parse fio output", err)
	}

	jobs := out.Jobs
	if len(jobs) == 0 {
		jobs = out.ClientStats
	}
	if len(jobs) == 0 {
		return model.PerformanceMetrics{}, errs.New(errs.KindBenchmark, "fio output has no jobs")
	}

	var (
		totalBytes int64
		totalIOs   int64
		iops       float64
		meanSum    float64
		p50Sum     float64
		p95Sum     float64
		p99Sum     float64
		minNs      int64 = -1
		maxNs      int64
		maxRuntime time.Duration
	)
	for _, j := range jobs {
		if rt := time.Duration(j.RuntimeMs) * time.Millisecond; rt > maxRuntime {
			maxRuntime = rt
		}
		for _, d := range []dirStats{j.Read, j.Write} {
			if d.TotalIOs == 0 {
				continue
			}
			totalBytes += d.IOBytes
			totalIOs += d.TotalIOs
			iops += d.IOPS

			w := float64(d.TotalIOs)
			meanSum += d.Clat.Mean * w
			p50Sum += percentile(d.Clat.Percentile, "50.000000") * w
			p95Sum += percentile(d.Clat.Percentile, "95.000000") * w
			p99Sum += percentile(d.Clat.Percentile, "99.000000") * w

			if minNs < 0 || d.Clat.Min < minNs {
				minNs = d.Clat.Min
			}
			if d.Clat.Max > maxNs {
				maxNs = d.Clat.Max
			}
		}
	}
	if totalIOs == 0 {
		return model.PerformanceMetrics{}, errs.New(errs.KindBenchmark, "fio output recorded no operations")
	}
	if elapsed <= 0 {
		elapsed = maxRuntime
	}

	weight := float64(totalIOs)
	latency := model.LatencyStats{
		Min: time.Duration(minNs),
		Avg: time.Duration(meanSum / weight),
		Max: time.Duration(maxNs),
		Percentiles: map[int]time.Duration{
			50: time.Duration(p50Sum / weight),
			95: time.Duration(p95Sum / weight),
			99: time.Duration(p99Sum / weight),
		},
	}

	return model.PerformanceMetrics{
		BytesProcessed: totalBytes,
		ElapsedTime:    elapsed,
		ThroughputMBps: units.ThroughputMBps(totalBytes, elapsed),
		IOPS:           iops,
		Latency:        latency,
	}, nil
}

func percentile(m map[string]float64, key string) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return 0
}
