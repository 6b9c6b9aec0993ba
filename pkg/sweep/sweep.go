// Package sweep runs a benchmark across a ladder of block sizes and
// locates the knee of the resulting throughput curve: the smallest
// block size past which bigger transfers stop paying for themselves.
package sweep

import (
	"context"

	"spindle/internal/logger"
	"spindle/pkg/analyze"
	"spindle/pkg/config"
	"spindle/pkg/engine"
	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/units"
)

// Default ladder bounds.
const (
	DefaultMinBlock = 4 * 1024
	DefaultMaxBlock = config.MaxBlockSize
)

// Step is one completed rung of the ladder.
type Step struct {
	BlockSize int64
	Result    model.BenchmarkResult
}

// Report is the outcome of a full sweep.
type Report struct {
	Steps []Step
	// Knee is the block size (X) past which throughput (Y, MB/s) stops
	// growing meaningfully, located with the Kneedle method.
	Knee analyze.Point
	// Saturation is where throughput gains stop entirely. Zero when the
	// curve never plateaus within the ladder.
	Saturation analyze.Point
	// Fit describes the dominant linear region of the curve.
	Fit analyze.LinearFit
	// Confidence scores how monotonic the curve came out, 1.0 for clean.
	Confidence float64
}

// KneeBlockSize returns the knee as a block size in bytes.
func (r *Report) KneeBlockSize() int64 {
	return int64(r.Knee.X)
}

// Sweeper runs the base configuration once per ladder step, varying
// only the block size.
type Sweeper struct {
	// Base is the configuration each step starts from.
	Base config.BenchmarkConfig
	// MinBlock and MaxBlock bound the ladder. Zero values take the
	// defaults.
	MinBlock int64
	MaxBlock int64
	// OnStep, when set, is called after each completed step with its
	// 1-based ladder position.
	OnStep func(i, total int, step Step)

	lg *logger.Logger
}

// New returns a sweeper over the default ladder.
func New(base config.BenchmarkConfig, lg *logger.Logger) *Sweeper {
	if lg == nil {
		lg = logger.Default(nil)
	}
	return &Sweeper{
		Base:     base,
		MinBlock: DefaultMinBlock,
		MaxBlock: DefaultMaxBlock,
		lg:       lg,
	}
}

// Steps expands ladder bounds into the block sizes to test: powers of
// two from min rounded up, doubling through max. Bounds are clamped to
// the valid block size range. An inverted range yields no steps.
func Steps(min, max int64) []int64 {
	if min < config.MinBlockSize {
		min = config.MinBlockSize
	}
	if max > config.MaxBlockSize {
		max = config.MaxBlockSize
	}
	min = nextPow2(min)

	var steps []int64
	for b := min; b <= max; b <<= 1 {
		steps = append(steps, b)
	}
	return steps
}

func nextPow2(v int64) int64 {
	p := int64(config.MinBlockSize)
	for p < v {
		p <<= 1
	}
	return p
}

// Run executes the ladder and analyzes the curve. Steps whose block
// size exceeds the file size of a size-bounded mode are skipped. The
// first step failure aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	steps := Steps(s.MinBlock, s.MaxBlock)
	if len(steps) == 0 {
		return nil, errs.New(errs.KindConfig, "sweep block size range is empty")
	}

	s.lg.Info("Sweeping %d block sizes from %s to %s",
		len(steps), units.FormatBytes(uint64(steps[0])), units.FormatBytes(uint64(steps[len(steps)-1])))

	report := &Report{}
	var points []analyze.Point

	for i, blockSize := range steps {
		cfg := s.Base
		cfg.BlockSize = blockSize
		if cfg.Mode.UsesFileSize() && cfg.FileSize < blockSize {
			s.lg.Warn("Skipping %s blocks: larger than the %s file",
				units.FormatBytes(uint64(blockSize)), units.FormatBytes(uint64(cfg.FileSize)))
			continue
		}

		result, err := s.runStep(ctx, cfg)
		if err != nil {
			return nil, err
		}

		step := Step{BlockSize: blockSize, Result: result}
		report.Steps = append(report.Steps, step)
		points = append(points, analyze.Point{
			X: float64(blockSize),
			Y: result.Metrics.ThroughputMBps,
		})

		if s.OnStep != nil {
			s.OnStep(i+1, len(steps), step)
		}
	}

	if len(points) == 0 {
		return nil, errs.New(errs.KindConfig, "no sweep step fits the configured file size")
	}

	report.Knee = analyze.FindKnee(points)
	report.Saturation = analyze.NewDetector().Analyze(points).Saturation
	report.Fit = analyze.FitLinearRegion(points, 0.1)
	report.Confidence = analyze.Confidence(points)
	return report, nil
}

func (s *Sweeper) runStep(ctx context.Context, cfg config.BenchmarkConfig) (model.BenchmarkResult, error) {
	m, err := engine.NewManager(cfg, s.lg)
	if err != nil {
		return model.BenchmarkResult{}, err
	}

	progress, err := m.Start(ctx)
	if err != nil {
		return model.BenchmarkResult{}, err
	}
	for range progress {
	}

	results, err := m.WaitForCompletion()
	if err != nil {
		return model.BenchmarkResult{}, err
	}

	combined, err := engine.CombineResults(results)
	if err != nil {
		return model.BenchmarkResult{}, err
	}
	combined.Distribution = m.CombinedDistribution()
	return combined, nil
}
