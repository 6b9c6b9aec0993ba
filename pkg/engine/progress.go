package engine

import (
	"time"
)

const (
	// progressChanCap bounds per-worker and aggregate progress
	// channels. A full channel briefly blocks the producer; only a
	// cancelled consumer context aborts the run.
	progressChanCap = 100

	// sequentialProgressInterval is the minimum spacing between
	// progress emissions from sequential executors.
	sequentialProgressInterval = 100 * time.Millisecond

	// randomProgressInterval is the emission spacing for
	// duration-bounded executors.
	randomProgressInterval = 200 * time.Millisecond

	// syntheticProgressTotal scales elapsed-fraction progress for
	// duration-bounded modes, where total bytes are unbounded.
	syntheticProgressTotal = 1000

	// aggregateInterval is the forced emission spacing of the
	// aggregation loop; aggregatePollSleep paces its polling.
	aggregateInterval  = 200 * time.Millisecond
	aggregatePollSleep = 10 * time.Millisecond
)

// ProgressUpdate is one executor's progress snapshot. For
// duration-bounded modes BytesProcessed/TotalBytes carry a synthetic
// 0-1000 elapsed fraction instead of real byte counts.
type ProgressUpdate struct {
	BytesProcessed int64          `json:"bytes_processed"`
	TotalBytes     int64          `json:"total_bytes"`
	ThroughputMBps float64        `json:"throughput_mbps"`
	IOPS           float64        `json:"iops"`
	Elapsed        time.Duration  `json:"elapsed"`
	ETA            *time.Duration `json:"eta"`
}

// CompletionPercentage returns progress in [0, 1].
func (p ProgressUpdate) CompletionPercentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesProcessed) / float64(p.TotalBytes)
}

// AggregatedProgress is a per-tick snapshot across all workers that
// have reported at least once.
type AggregatedProgress struct {
	TotalBytesProcessed int64            `json:"total_bytes_processed"`
	TotalBytesTarget    int64            `json:"total_bytes_target"`
	AvgThroughputMBps   float64          `json:"avg_throughput_mbps"`
	TotalIOPS           float64          `json:"total_iops"`
	Elapsed             time.Duration    `json:"elapsed"`
	ETA                 *time.Duration   `json:"eta"`
	ActiveWorkers       int              `json:"active_workers"`
	WorkerProgress      []ProgressUpdate `json:"worker_progress"`
}

// CompletionPercentage returns overall progress in [0, 1].
func (a AggregatedProgress) CompletionPercentage() float64 {
	if a.TotalBytesTarget == 0 {
		return 0
	}
	return float64(a.TotalBytesProcessed) / float64(a.TotalBytesTarget)
}

// aggregateProgress merges the latest update from each worker. Workers
// that have not reported yet contribute nothing: bytes and IOPS sum
// over reporters, throughput is the mean over reporters, and the ETA
// divides remaining bytes by the summed byte rate.
func aggregateProgress(latest []*ProgressUpdate, start time.Time) AggregatedProgress {
	var (
		bytesProcessed int64
		bytesTarget    int64
		throughputSum  float64
		iopsSum        float64
		reporters      int
		perWorker      []ProgressUpdate
	)

	for _, u := range latest {
		if u == nil {
			continue
		}
		bytesProcessed += u.BytesProcessed
		bytesTarget += u.TotalBytes
		throughputSum += u.ThroughputMBps
		iopsSum += u.IOPS
		reporters++
		perWorker = append(perWorker, *u)
	}

	agg := AggregatedProgress{
		TotalBytesProcessed: bytesProcessed,
		TotalBytesTarget:    bytesTarget,
		TotalIOPS:           iopsSum,
		Elapsed:             time.Since(start),
		ActiveWorkers:       reporters,
		WorkerProgress:      perWorker,
	}
	if reporters > 0 {
		agg.AvgThroughputMBps = throughputSum / float64(reporters)
	}
	if bytesProcessed > 0 && throughputSum > 0 {
		remaining := bytesTarget - bytesProcessed
		if remaining < 0 {
			remaining = 0
		}
		rate := throughputSum * 1024.0 * 1024.0
		eta := time.Duration(float64(remaining) / rate * float64(time.Second))
		agg.ETA = &eta
	}
	return agg
}

// WorkerState tracks one worker through its lifecycle.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerCompleted
	WorkerFailed
	WorkerCancelled
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerCompleted:
		return "completed"
	case WorkerFailed:
		return "failed"
	case WorkerCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsActive reports whether the worker is still running.
func (s WorkerState) IsActive() bool { return s == WorkerRunning }

// IsTerminal reports whether the worker reached a final state.
func (s WorkerState) IsTerminal() bool {
	return s == WorkerCompleted || s == WorkerFailed || s == WorkerCancelled
}

// WorkerStatus pairs a worker id with its current state. Reason is set
// when the state is WorkerFailed.
type WorkerStatus struct {
	ID     int         `json:"id"`
	State  WorkerState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}
