package engine

import (
	"context"
	"sync"
	"time"

	"spindle/internal/logger"
	"spindle/pkg/config"
	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/stats"
	"spindle/pkg/storage"
	"spindle/pkg/trace"
	"spindle/pkg/units"
)

// managerPoolBuffers caps the shared buffer pool; prefill and benchmark
// loops across all workers draw from it.
const managerPoolBuffers = 16

// Executor is one benchmark workload. Sequential and Random both
// satisfy it; the Manager treats them uniformly.
type Executor interface {
	Run(ctx context.Context, progress chan<- ProgressUpdate) (*model.BenchmarkResult, error)
	Recorder() *stats.Recorder
}

type worker struct {
	id       int
	exec     Executor
	progress chan ProgressUpdate
	cancel   context.CancelFunc

	state  WorkerState
	reason string
	result *model.BenchmarkResult
	err    error
}

// Manager fans one benchmark config out across cfg.Workers executors,
// aggregates their progress streams and merges their results. Sequential
// modes split the file size between workers; duration-bounded modes run
// the full duration on every worker.
type Manager struct {
	// Trace, when set before Start, is handed to every executor so
	// per-operation spans from all workers funnel into one sink.
	Trace chan<- trace.Msg

	cfg   config.BenchmarkConfig
	lg    *logger.Logger
	store *storage.Storage
	pool  *storage.BufferPool

	mu      sync.Mutex
	workers []*worker
	wg      sync.WaitGroup
	started bool
}

// NewManager validates cfg and builds a manager with a shared storage
// layer and buffer pool.
func NewManager(cfg config.BenchmarkConfig, lg *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg = logger.Default(lg)
	pool, err := storage.NewBufferPool(int(cfg.BlockSize), managerPoolBuffers)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		lg:    lg,
		store: storage.New(storage.WithLogger(lg)),
		pool:  pool,
	}, nil
}

// Start launches all workers and the progress aggregator. The returned
// channel carries aggregated updates and is closed when aggregation
// ends. Start fails without side effects if any per-worker config is
// invalid, e.g. when partitioning leaves less than one block per worker.
func (m *Manager) Start(ctx context.Context) (<-chan AggregatedProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil, errs.New(errs.KindBenchmark, "benchmark already started")
	}

	workers := make([]*worker, 0, m.cfg.Workers)
	for i := 0; i < m.cfg.Workers; i++ {
		exec, err := m.newExecutor(i)
		if err != nil {
			return nil, err
		}
		workers = append(workers, &worker{
			id:       i,
			exec:     exec,
			progress: make(chan ProgressUpdate, progressChanCap),
		})
	}

	m.started = true
	m.workers = workers
	start := time.Now()

	m.lg.Debug("Starting %d workers: %s", len(workers), m.cfg.Summary())

	for _, w := range m.workers {
		wctx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		m.wg.Add(1)
		go m.runWorker(wctx, w)
	}

	out := make(chan AggregatedProgress, progressChanCap)
	go m.aggregate(ctx, out, start)
	return out, nil
}

// newExecutor builds the executor for one worker slot, partitioning the
// file size across workers for sequential modes.
func (m *Manager) newExecutor(id int) (Executor, error) {
	wcfg := m.cfg
	if m.cfg.Workers > 1 && m.cfg.Mode.UsesFileSize() {
		wcfg.FileSize = m.cfg.FileSize / int64(m.cfg.Workers)
	}

	switch wcfg.Mode {
	case config.SequentialWrite, config.SequentialRead:
		exec, err := NewSequential(wcfg, m.store, m.pool, m.lg)
		if err != nil {
			return nil, err
		}
		exec.WorkerID = id
		exec.Trace = m.Trace
		return exec, nil
	case config.RandomReadWrite, config.Mixed:
		exec, err := NewRandom(wcfg, m.store, m.pool, m.lg)
		if err != nil {
			return nil, err
		}
		exec.WorkerID = id
		exec.Trace = m.Trace
		return exec, nil
	default:
		return nil, errs.Newf(errs.KindConfig, "unknown mode: %q", string(wcfg.Mode))
	}
}

func (m *Manager) runWorker(wctx context.Context, w *worker) {
	defer m.wg.Done()
	defer close(w.progress)

	if wctx.Err() != nil {
		m.finishWorker(w, nil, errs.Wrap(errs.KindCancelled, "benchmark cancelled", wctx.Err()))
		return
	}
	m.setRunning(w)

	result, err := w.exec.Run(wctx, w.progress)
	if err != nil && !errs.Is(err, errs.KindCancelled) && wctx.Err() != nil {
		// The executor surfaced some other failure first, but the worker
		// was told to stop; report it as a cancellation.
		err = errs.Wrap(errs.KindCancelled, "benchmark cancelled", wctx.Err())
	}
	m.finishWorker(w, result, err)
}

func (m *Manager) setRunning(w *worker) {
	m.mu.Lock()
	if w.state == WorkerIdle {
		w.state = WorkerRunning
	}
	m.mu.Unlock()
}

func (m *Manager) finishWorker(w *worker, result *model.BenchmarkResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err == nil:
		w.state = WorkerCompleted
		w.result = result
	case errs.Is(err, errs.KindCancelled):
		w.state = WorkerCancelled
		w.err = err
	default:
		w.state = WorkerFailed
		w.err = err
		w.reason = err.Error()
		m.lg.Error("Worker %d failed: %v", w.id, err)
	}
}

// aggregate polls every worker channel, folds the latest updates into
// one AggregatedProgress and emits it when anything arrived or 200ms
// passed. It ends when the receiver's ctx is done, every worker has
// reported completion, or every worker channel has closed.
func (m *Manager) aggregate(ctx context.Context, out chan<- AggregatedProgress, start time.Time) {
	defer close(out)

	latest := make([]*ProgressUpdate, len(m.workers))
	open := make([]bool, len(m.workers))
	for i := range open {
		open[i] = true
	}
	lastEmit := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		received := false
		for i, w := range m.workers {
			if !open[i] {
				continue
			}
			select {
			case u, ok := <-w.progress:
				if !ok {
					open[i] = false
					continue
				}
				cp := u
				latest[i] = &cp
				received = true
			default:
			}
		}

		if received || time.Since(lastEmit) >= aggregateInterval {
			select {
			case out <- aggregateProgress(latest, start):
			case <-ctx.Done():
				return
			}
			lastEmit = time.Now()
		}

		if aggregationDone(latest, open) {
			return
		}
		time.Sleep(aggregatePollSleep)
	}
}

func aggregationDone(latest []*ProgressUpdate, open []bool) bool {
	anyOpen := false
	allComplete := true
	for i := range latest {
		if open[i] {
			anyOpen = true
		}
		if latest[i] == nil || latest[i].CompletionPercentage() < 1.0 {
			allComplete = false
		}
	}
	return allComplete || !anyOpen
}

// CancelAll signals every worker that has not yet finished. Safe to
// call more than once; workers that already completed keep their state.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workers {
		if w.state.IsTerminal() {
			continue
		}
		if w.cancel != nil {
			w.cancel()
		}
		w.state = WorkerCancelled
	}
}

// WaitForCompletion blocks until every worker goroutine has returned,
// then collects results in worker order. The first worker error aborts
// collection; cancelled workers surface a cancellation error.
func (m *Manager) WaitForCompletion() ([]model.BenchmarkResult, error) {
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]model.BenchmarkResult, 0, len(m.workers))
	for _, w := range m.workers {
		if w.err != nil {
			return nil, w.err
		}
		if w.result != nil {
			results = append(results, *w.result)
		}
	}
	return results, nil
}

// WorkerStatuses snapshots the state of every worker in id order.
func (m *Manager) WorkerStatuses() []WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]WorkerStatus, len(m.workers))
	for i, w := range m.workers {
		statuses[i] = WorkerStatus{ID: w.id, State: w.state, Reason: w.reason}
	}
	return statuses
}

// ActiveWorkerCount reports how many workers are currently running.
func (m *Manager) ActiveWorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, w := range m.workers {
		if w.state.IsActive() {
			n++
		}
	}
	return n
}

// AllWorkersCompleted reports whether every worker reached a terminal
// state.
func (m *Manager) AllWorkersCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workers {
		if !w.state.IsTerminal() {
			return false
		}
	}
	return true
}

// CombinedDistribution merges the latency histograms of all workers.
// Returns nil before any operation has been recorded.
func (m *Manager) CombinedDistribution() *stats.Distribution {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := stats.NewRecorder()
	for _, w := range m.workers {
		rec.Merge(w.exec.Recorder())
	}
	snap := rec.Snapshot()
	if snap.Count == 0 {
		return nil
	}
	return &snap
}

// CombineResults folds per-worker results into one: bytes sum, elapsed
// is the slowest worker, latency pools the per-worker stats, and the
// rates are recomputed from the combined totals. The first result
// contributes the config, timestamp and system info.
func CombineResults(results []model.BenchmarkResult) (model.BenchmarkResult, error) {
	if len(results) == 0 {
		return model.BenchmarkResult{}, errs.New(errs.KindBenchmark, "no results to combine")
	}

	combined := results[0]
	var (
		totalBytes int64
		maxElapsed time.Duration
		parts      = make([]model.LatencyStats, 0, len(results))
	)
	for _, r := range results {
		totalBytes += r.Metrics.BytesProcessed
		if r.Metrics.ElapsedTime > maxElapsed {
			maxElapsed = r.Metrics.ElapsedTime
		}
		parts = append(parts, r.Metrics.Latency)
	}

	latency := model.CombineLatencyStats(parts)

	var iops float64
	if maxElapsed > 0 && latency.Avg > 0 {
		iops = float64(totalBytes/combined.Config.BlockSize) / maxElapsed.Seconds()
	}

	combined.Metrics = model.PerformanceMetrics{
		BytesProcessed: totalBytes,
		ElapsedTime:    maxElapsed,
		ThroughputMBps: units.ThroughputMBps(totalBytes, maxElapsed),
		IOPS:           iops,
		Latency:        latency,
	}
	combined.Distribution = nil
	return combined, nil
}
