// Package engine runs the benchmark workloads: sequential and random
// executors driving direct storage through pooled buffers, and a
// manager that fans a config out across workers, aggregates their
// progress and merges their results.
package engine

import (
	"context"
	"fmt"
	"io"
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

const (
	// defaultPoolBuffers sizes the buffer pool of an executor built
	// without a shared pool.
	defaultPoolBuffers = 4

	// traceBatchSize is how many spans accumulate before a trace
	// message is sent.
	traceBatchSize = 1000
)

// Sequential executes SequentialWrite and SequentialRead workloads
// against one file.
type Sequential struct {
	// WorkerID tags progress and trace output when the executor runs
	// under a Manager.
	WorkerID int

	// ExistingPath makes sequential reads use this file instead of
	// synthesizing a scratch file.
	ExistingPath string

	// Trace, when set, receives batches of per-operation spans.
	Trace chan<- trace.Msg

	cfg   config.BenchmarkConfig
	store *storage.Storage
	pool  *storage.BufferPool
	lg    *logger.Logger
	rec   *stats.Recorder
}

// NewSequential validates cfg and builds an executor. A nil store or
// pool gets a private default; pass a shared pool when running several
// workers.
func NewSequential(cfg config.BenchmarkConfig, store *storage.Storage, pool *storage.BufferPool, lg *logger.Logger) (*Sequential, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg = logger.Default(lg)
	if store == nil {
		store = storage.New(storage.WithLogger(lg))
	}
	if pool == nil {
		var err error
		pool, err = storage.NewBufferPool(int(cfg.BlockSize), defaultPoolBuffers)
		if err != nil {
			return nil, err
		}
	}
	return &Sequential{
		cfg:   cfg,
		store: store,
		pool:  pool,
		lg:    lg,
		rec:   stats.NewRecorder(),
	}, nil
}

// Recorder exposes the latency histogram filled during Run.
func (s *Sequential) Recorder() *stats.Recorder { return s.rec }

// Run executes the configured workload, streaming updates into
// progress. Cancelling ctx aborts at the next block boundary.
func (s *Sequential) Run(ctx context.Context, progress chan<- ProgressUpdate) (*model.BenchmarkResult, error) {
	switch s.cfg.Mode {
	case config.SequentialWrite:
		return s.runWrite(ctx, progress)
	case config.SequentialRead:
		return s.runRead(ctx, progress)
	default:
		return nil, errs.Newf(errs.KindBenchmark,
			"sequential benchmark only supports %s and %s modes",
			config.SequentialWrite, config.SequentialRead)
	}
}

func (s *Sequential) runWrite(ctx context.Context, progress chan<- ProgressUpdate) (*model.BenchmarkResult, error) {
	start := time.Now()

	scratch, err := s.store.CreateScratch(s.cfg.TargetDir, s.cfg.FileSize)
	if err != nil {
		return nil, err
	}
	if s.cfg.KeepScratch {
		scratch.Keep()
	}
	defer scratch.Close()

	f, err := s.store.OpenWrite(scratch.Path())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := s.pool.Get()
	defer buf.Close()
	fillPattern(buf.Bytes())

	s.lg.Debug("Starting sequential write: %d bytes in %d byte blocks", s.cfg.FileSize, s.cfg.BlockSize)

	var (
		bytesWritten int64
		samples      = make([]time.Duration, 0, s.cfg.FileSize/s.cfg.BlockSize+1)
		lastProgress = time.Now()
		spans        []trace.Span
	)

	for bytesWritten < s.cfg.FileSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		writeSize := s.cfg.BlockSize
		if remaining := s.cfg.FileSize - bytesWritten; remaining < writeSize {
			writeSize = remaining
		}

		opStart := time.Now()
		n, err := f.Write(buf.Bytes()[:writeSize])
		if err != nil {
			return nil, errs.Wrap(errs.KindBenchmark,
				fmt.Sprintf("write failed at byte %d", bytesWritten), err)
		}
		if n == 0 {
			return nil, errs.New(errs.KindBenchmark, "write returned 0 bytes")
		}
		d := time.Since(opStart)
		samples = append(samples, d)
		s.rec.Record(d)
		if s.Trace != nil {
			spans = append(spans, trace.Span{
				Start:  opStart.UnixNano(),
				End:    opStart.Add(d).UnixNano(),
				Offset: bytesWritten,
				Bytes:  int64(n),
			})
			if len(spans) >= traceBatchSize {
				sendTrace(s.Trace, s.WorkerID, &spans)
			}
		}
		bytesWritten += int64(n)

		if time.Since(lastProgress) >= sequentialProgressInterval {
			if err := s.sendProgress(ctx, progress, bytesWritten, len(samples), start); err != nil {
				return nil, err
			}
			lastProgress = time.Now()
		}
	}

	s.lg.Debug("Syncing %d bytes to disk", bytesWritten)
	if err := f.Sync(); err != nil {
		return nil, errs.Wrap(errs.KindBenchmark, "sync failed", err)
	}

	elapsed := time.Since(start)
	s.lg.Debug("Write test completed: %d bytes in %v", bytesWritten, elapsed)

	metrics := computeMetrics(bytesWritten, elapsed, samples)
	s.sendFinal(ctx, progress, bytesWritten, metrics)
	sendTrace(s.Trace, s.WorkerID, &spans)

	return s.finish(metrics), nil
}

func (s *Sequential) runRead(ctx context.Context, progress chan<- ProgressUpdate) (*model.BenchmarkResult, error) {
	start := time.Now()

	path := s.ExistingPath
	if path == "" {
		s.lg.Debug("Creating test file for read benchmark")
		scratch, err := prefillScratch(ctx, s.store, s.pool, s.cfg)
		if err != nil {
			return nil, err
		}
		if s.cfg.KeepScratch {
			scratch.Keep()
		}
		defer scratch.Close()
		path = scratch.Path()
	}

	f, err := s.store.OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := s.pool.Get()
	defer buf.Close()

	s.lg.Debug("Starting sequential read: %d bytes in %d byte blocks", s.cfg.FileSize, s.cfg.BlockSize)

	var (
		bytesRead    int64
		samples      = make([]time.Duration, 0, s.cfg.FileSize/s.cfg.BlockSize+1)
		lastProgress = time.Now()
		spans        []trace.Span
	)

	for bytesRead < s.cfg.FileSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		readSize := s.cfg.BlockSize
		if remaining := s.cfg.FileSize - bytesRead; remaining < readSize {
			readSize = remaining
		}

		opStart := time.Now()
		n, err := f.Read(buf.Bytes()[:readSize])
		if err != nil && err != io.EOF {
			return nil, errs.Wrap(errs.KindBenchmark,
				fmt.Sprintf("read failed at byte %d", bytesRead), err)
		}
		if n == 0 {
			// End of file short of the target is normal completion.
			s.lg.Debug("EOF reached at %d bytes (expected %d)", bytesRead, s.cfg.FileSize)
			break
		}
		d := time.Since(opStart)
		samples = append(samples, d)
		s.rec.Record(d)
		if s.Trace != nil {
			spans = append(spans, trace.Span{
				Start:  opStart.UnixNano(),
				End:    opStart.Add(d).UnixNano(),
				Read:   true,
				Offset: bytesRead,
				Bytes:  int64(n),
			})
			if len(spans) >= traceBatchSize {
				sendTrace(s.Trace, s.WorkerID, &spans)
			}
		}
		bytesRead += int64(n)

		if time.Since(lastProgress) >= sequentialProgressInterval {
			if err := s.sendProgress(ctx, progress, bytesRead, len(samples), start); err != nil {
				return nil, err
			}
			lastProgress = time.Now()
		}
	}

	elapsed := time.Since(start)
	s.lg.Debug("Read test completed: %d bytes in %v", bytesRead, elapsed)

	metrics := computeMetrics(bytesRead, elapsed, samples)
	s.sendFinal(ctx, progress, bytesRead, metrics)
	sendTrace(s.Trace, s.WorkerID, &spans)

	return s.finish(metrics), nil
}

// sendProgress emits one throttled update. A cancelled context while
// blocked on a full channel means the receiver is gone; the run aborts
// as cancelled.
func (s *Sequential) sendProgress(ctx context.Context, progress chan<- ProgressUpdate, bytesDone int64, ops int, start time.Time) error {
	elapsed := time.Since(start)
	throughput := units.ThroughputMBps(bytesDone, elapsed)

	var eta *time.Duration
	if bytesDone > 0 && throughput > 0 {
		remainingMB := float64(s.cfg.FileSize-bytesDone) / (1024.0 * 1024.0)
		d := time.Duration(remainingMB / throughput * float64(time.Second))
		eta = &d
	}

	update := ProgressUpdate{
		BytesProcessed: bytesDone,
		TotalBytes:     s.cfg.FileSize,
		ThroughputMBps: throughput,
		IOPS:           units.IOPS(int64(ops), elapsed),
		Elapsed:        elapsed,
		ETA:            eta,
	}

	select {
	case progress <- update:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindCancelled, "benchmark cancelled", ctx.Err())
	}
}

// sendFinal emits the completion update. Failure to deliver it does
// not fail an otherwise finished run.
func (s *Sequential) sendFinal(ctx context.Context, progress chan<- ProgressUpdate, bytesDone int64, metrics model.PerformanceMetrics) {
	zero := time.Duration(0)
	update := ProgressUpdate{
		BytesProcessed: bytesDone,
		TotalBytes:     s.cfg.FileSize,
		ThroughputMBps: metrics.ThroughputMBps,
		IOPS:           metrics.IOPS,
		Elapsed:        metrics.ElapsedTime,
		ETA:            &zero,
	}
	select {
	case progress <- update:
	case <-ctx.Done():
	}
}

func (s *Sequential) finish(metrics model.PerformanceMetrics) *model.BenchmarkResult {
	result := model.NewResult(s.cfg, metrics, model.SystemInfo{})
	if snap := s.rec.Snapshot(); snap.Count > 0 {
		result.Distribution = &snap
	}
	return &result
}

// computeMetrics derives the final metrics of one executor run: IOPS
// is operations over elapsed time, latency comes from the raw samples.
func computeMetrics(bytes int64, elapsed time.Duration, samples []time.Duration) model.PerformanceMetrics {
	return model.PerformanceMetrics{
		BytesProcessed: bytes,
		ElapsedTime:    elapsed,
		ThroughputMBps: units.ThroughputMBps(bytes, elapsed),
		IOPS:           units.IOPS(int64(len(samples)), elapsed),
		Latency:        model.LatencyStatsFromSamples(samples),
	}
}

// prefillScratch creates a scratch file of the configured size filled
// with the verification pattern and synced to disk.
func prefillScratch(ctx context.Context, store *storage.Storage, pool *storage.BufferPool, cfg config.BenchmarkConfig) (*storage.ScratchFile, error) {
	scratch, err := store.CreateScratch(cfg.TargetDir, cfg.FileSize)
	if err != nil {
		return nil, err
	}

	f, err := store.OpenWrite(scratch.Path())
	if err != nil {
		scratch.Close()
		return nil, err
	}

	buf := pool.Get()
	fillPattern(buf.Bytes())

	var written int64
	for written < cfg.FileSize {
		if err := checkCancelled(ctx); err != nil {
			buf.Close()
			f.Close()
			scratch.Close()
			return nil, err
		}
		writeSize := cfg.BlockSize
		if remaining := cfg.FileSize - written; remaining < writeSize {
			writeSize = remaining
		}
		n, err := f.Write(buf.Bytes()[:writeSize])
		if err != nil {
			buf.Close()
			f.Close()
			scratch.Close()
			return nil, errs.Wrap(errs.KindBenchmark,
				fmt.Sprintf("test file creation failed at byte %d", written), err)
		}
		if n == 0 {
			buf.Close()
			f.Close()
			scratch.Close()
			return nil, errs.New(errs.KindBenchmark, "test file write returned 0 bytes")
		}
		written += int64(n)
	}
	buf.Close()

	if err := f.Sync(); err != nil {
		f.Close()
		scratch.Close()
		return nil, errs.Wrap(errs.KindBenchmark, "test file sync failed", err)
	}
	if err := f.Close(); err != nil {
		scratch.Close()
		return nil, errs.Wrap(errs.KindBenchmark, "test file close failed", err)
	}
	return scratch, nil
}

// fillPattern writes the verifiable, non-compressible test pattern.
func fillPattern(p []byte) {
	for i := range p {
		p[i] = byte(i % 256)
	}
}

// sendTrace flushes accumulated spans as one message. No-op without a
// sink or spans.
func sendTrace(sink chan<- trace.Msg, workerID int, spans *[]trace.Span) {
	if sink == nil || len(*spans) == 0 {
		return
	}
	sink <- trace.Msg{WorkerID: workerID, Spans: *spans}
	*spans = nil
}

// checkCancelled is the between-blocks cancellation checkpoint.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.KindCancelled, "benchmark cancelled", ctx.Err())
	default:
		return nil
	}
}
