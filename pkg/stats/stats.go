// Package stats records per-operation latencies into mergeable
// histograms so per-worker distributions can be combined into one
// run-wide view without keeping every sample.
package stats

import (
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder tracks operation latencies at microsecond resolution, up to
// one hour, with three significant figures. A Recorder belongs to one
// worker; merge recorders after the workers have stopped.
type Recorder struct {
	hist *hdrhistogram.Histogram
}

func NewRecorder() *Recorder {
	return &Recorder{hist: hdrhistogram.New(1, 3600000000, 3)}
}

// Record adds one operation latency.
func (r *Recorder) Record(d time.Duration) {
	_ = r.hist.RecordValue(d.Microseconds())
}

// Count returns the number of recorded operations.
func (r *Recorder) Count() int64 { return r.hist.TotalCount() }

// Merge folds other into r. Nil and empty recorders are no-ops.
func (r *Recorder) Merge(other *Recorder) {
	if other == nil || other.hist.TotalCount() == 0 {
		return
	}
	r.hist.Merge(other.hist)
}

// Snapshot summarizes everything recorded so far. An empty recorder
// yields a zero-count snapshot.
func (r *Recorder) Snapshot() Distribution {
	if r.hist.TotalCount() == 0 {
		return Distribution{}
	}
	return Distribution{
		Count: r.hist.TotalCount(),
		Min:   usToDuration(r.hist.Min()),
		Mean:  time.Duration(r.hist.Mean() * float64(time.Microsecond)),
		Max:   usToDuration(r.hist.Max()),
		P50:   usToDuration(r.hist.ValueAtQuantile(50)),
		P90:   usToDuration(r.hist.ValueAtQuantile(90)),
		P95:   usToDuration(r.hist.ValueAtQuantile(95)),
		P99:   usToDuration(r.hist.ValueAtQuantile(99)),
		P999:  usToDuration(r.hist.ValueAtQuantile(99.9)),
	}
}

// Distribution is a latency histogram summary at microsecond
// resolution.
type Distribution struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	P999  time.Duration `json:"p999"`
}

func usToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
