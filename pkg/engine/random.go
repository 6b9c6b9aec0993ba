package engine

import (
	"context"
	"fmt"
	"io"
	"math/rand"
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

// Random executes duration-bounded random I/O with a configurable
// read fraction: 0.0 is all writes, 1.0 is all reads.
type Random struct {
	// WorkerID tags progress and trace output when the executor runs
	// under a Manager.
	WorkerID int

	// Trace, when set, receives batches of per-operation spans.
	Trace chan<- trace.Msg

	cfg   config.BenchmarkConfig
	store *storage.Storage
	pool  *storage.BufferPool
	lg    *logger.Logger
	rec   *stats.Recorder
}

// NewRandom validates cfg and builds an executor for the
// duration-bounded modes.
func NewRandom(cfg config.BenchmarkConfig, store *storage.Storage, pool *storage.BufferPool, lg *logger.Logger) (*Random, error) {
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
	return &Random{
		cfg:   cfg,
		store: store,
		pool:  pool,
		lg:    lg,
		rec:   stats.NewRecorder(),
	}, nil
}

// Recorder exposes the latency histogram filled during Run.
func (r *Random) Recorder() *stats.Recorder { return r.rec }

// Run pre-fills a scratch file, then issues reads and writes at random
// offsets until the configured duration elapses.
func (r *Random) Run(ctx context.Context, progress chan<- ProgressUpdate) (*model.BenchmarkResult, error) {
	switch r.cfg.Mode {
	case config.RandomReadWrite, config.Mixed:
	default:
		return nil, errs.Newf(errs.KindBenchmark,
			"random benchmark only supports %s and %s modes",
			config.RandomReadWrite, config.Mixed)
	}

	start := time.Now()

	scratch, err := prefillScratch(ctx, r.store, r.pool, r.cfg)
	if err != nil {
		return nil, err
	}
	if r.cfg.KeepScratch {
		scratch.Keep()
	}
	defer scratch.Close()

	readF, err := r.store.OpenRead(scratch.Path())
	if err != nil {
		return nil, err
	}
	defer readF.Close()

	writeF, err := r.store.OpenWrite(scratch.Path())
	if err != nil {
		return nil, err
	}
	defer writeF.Close()

	buf := r.pool.Get()
	defer buf.Close()
	fillPattern(buf.Bytes())

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(r.WorkerID)))
	readRatio := r.cfg.EffectiveReadRatio()
	duration := r.cfg.Duration.Std()
	maxOffset := r.cfg.FileSize - r.cfg.BlockSize

	r.lg.Debug("Starting random I/O: %d byte file, %d byte blocks, read ratio %.2f, %v",
		r.cfg.FileSize, r.cfg.BlockSize, readRatio, duration)

	var (
		bytesProcessed int64
		ops            int64
		samples        []time.Duration
		lastUpdate     = time.Now()
		spans          []trace.Span
	)

	for time.Since(start) < duration {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		var offset int64
		if maxOffset > 0 {
			offset = rng.Int63n(maxOffset)
		}
		isRead := rng.Float32() < readRatio

		opStart := time.Now()
		if isRead {
			if _, err := readF.Seek(offset, io.SeekStart); err != nil {
				return nil, errs.Wrap(errs.KindBenchmark,
					fmt.Sprintf("seek failed at offset %d", offset), err)
			}
			if _, err := readF.Read(buf.Bytes()[:r.cfg.BlockSize]); err != nil && err != io.EOF {
				return nil, errs.Wrap(errs.KindBenchmark,
					fmt.Sprintf("read failed at offset %d", offset), err)
			}
		} else {
			if _, err := writeF.Seek(offset, io.SeekStart); err != nil {
				return nil, errs.Wrap(errs.KindBenchmark,
					fmt.Sprintf("seek failed at offset %d", offset), err)
			}
			if _, err := writeF.Write(buf.Bytes()[:r.cfg.BlockSize]); err != nil {
				return nil, errs.Wrap(errs.KindBenchmark,
					fmt.Sprintf("write failed at offset %d", offset), err)
			}
		}
		d := time.Since(opStart)
		samples = append(samples, d)
		r.rec.Record(d)
		if r.Trace != nil {
			spans = append(spans, trace.Span{
				Start:  opStart.UnixNano(),
				End:    opStart.Add(d).UnixNano(),
				Read:   isRead,
				Offset: offset,
				Bytes:  r.cfg.BlockSize,
			})
			if len(spans) >= traceBatchSize {
				sendTrace(r.Trace, r.WorkerID, &spans)
			}
		}
		bytesProcessed += r.cfg.BlockSize
		ops++

		if time.Since(lastUpdate) >= randomProgressInterval {
			if err := r.sendProgress(ctx, progress, bytesProcessed, ops, start, duration); err != nil {
				return nil, err
			}
			lastUpdate = time.Now()
		}
	}

	elapsed := time.Since(start)
	r.lg.Debug("Random I/O completed: %d ops, %d bytes in %v", ops, bytesProcessed, elapsed)

	metrics := computeMetrics(bytesProcessed, elapsed, samples)
	r.sendFinal(ctx, progress, metrics)
	sendTrace(r.Trace, r.WorkerID, &spans)

	result := model.NewResult(r.cfg, metrics, model.SystemInfo{})
	if snap := r.rec.Snapshot(); snap.Count > 0 {
		result.Distribution = &snap
	}
	return &result, nil
}

// sendProgress reports elapsed time as a synthetic 0-1000 fraction;
// byte totals are unbounded for time-based runs.
func (r *Random) sendProgress(ctx context.Context, progress chan<- ProgressUpdate, bytesProcessed, ops int64, start time.Time, duration time.Duration) error {
	elapsed := time.Since(start)
	ratio := float64(elapsed) / float64(duration)
	if ratio > 1.0 {
		ratio = 1.0
	}

	var eta time.Duration
	if ratio < 1.0 {
		eta = duration - elapsed
	}

	update := ProgressUpdate{
		BytesProcessed: int64(ratio * syntheticProgressTotal),
		TotalBytes:     syntheticProgressTotal,
		ThroughputMBps: units.ThroughputMBps(bytesProcessed, elapsed),
		IOPS:           units.IOPS(ops, elapsed),
		Elapsed:        elapsed,
		ETA:            &eta,
	}

	select {
	case progress <- update:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindCancelled, "receiver dropped", ctx.Err())
	}
}

func (r *Random) sendFinal(ctx context.Context, progress chan<- ProgressUpdate, metrics model.PerformanceMetrics) {
	zero := time.Duration(0)
	update := ProgressUpdate{
		BytesProcessed: syntheticProgressTotal,
		TotalBytes:     syntheticProgressTotal,
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
