package tune

import (
	"context"
	"math"
	"testing"

	"spindle/pkg/config"
	"spindle/pkg/model"
)

// peakedSurface rewards block sizes near 16 KiB and 2 workers, falling
// off smoothly in both dimensions so descent has a gradient to follow.
func peakedSurface(cfg config.BenchmarkConfig) (model.BenchmarkResult, error) {
	bs := math.Log2(float64(cfg.BlockSize))
	tp := 500 - 10*math.Abs(bs-14) - 5*math.Abs(float64(cfg.Workers)-2)
	return model.BenchmarkResult{
		Config: cfg,
		Metrics: model.PerformanceMetrics{
			ThroughputMBps: tp,
			IOPS:           tp,
		},
	}, nil
}

func TestCoordinateFindsPeak(t *testing.T) {
	runner := &stubRunner{runFunc: peakedSurface}
	eval := NewEvaluator(runner, baseConfig(), Objective{})
	vars := DefaultVariables(4096, 1<<20, 8)

	evals := 0
	c := NewCoordinate(eval, vars)
	c.OnEval = func(s State, res model.BenchmarkResult, score float64, reason string) { evals++ }

	best, res, score, err := c.Optimize(context.Background())
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if best[VarBlockSize] != 16384 || best[VarWorkers] != 2 {
		t.Errorf("best = %v, want block_size=16384 workers=2", best)
	}
	if res.Config.BlockSize != 16384 || res.Config.Workers != 2 {
		t.Errorf("best result ran %d/%d, want 16384/2", res.Config.BlockSize, res.Config.Workers)
	}
	// The midpoint start scores 1000; the peak must beat it.
	if score <= 1000 {
		t.Errorf("score = %f, want > 1000", score)
	}
	if evals == 0 {
		t.Error("OnEval never fired")
	}
	if runner.runs > evals {
		t.Errorf("runner ran %d times for %d evaluations; cache never hit", runner.runs, evals)
	}
}

func TestCoordinateHonorsCancellation(t *testing.T) {
	runner := &stubRunner{runFunc: peakedSurface}
	eval := NewEvaluator(runner, baseConfig(), Objective{})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCoordinate(eval, DefaultVariables(4096, 1<<20, 8))
	c.OnEval = func(State, model.BenchmarkResult, float64, string) { cancel() }

	best, _, _, err := c.Optimize(ctx)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if best == nil {
		t.Error("cancellation should still report the best state so far")
	}
}

func TestAnnealingTracksBestVisited(t *testing.T) {
	runner := &stubRunner{runFunc: peakedSurface}
	eval := NewEvaluator(runner, baseConfig(), Objective{})
	vars := DefaultVariables(4096, 64*1024, 4)

	params := DefaultAnnealingParams()
	params.Seed = 42

	var maxSeen float64
	seen := 0
	a := NewAnnealing(eval, vars, params)
	a.OnEval = func(s State, res model.BenchmarkResult, score float64, reason string) {
		seen++
		if score > maxSeen || seen == 1 {
			maxSeen = score
		}
		if bs := s[VarBlockSize]; bs < 4096 || bs > 64*1024 {
			t.Errorf("visited out-of-ladder block size %d", bs)
		}
		if w := s[VarWorkers]; w < 1 || w > 4 {
			t.Errorf("visited out-of-range worker count %d", w)
		}
	}

	best, res, score, err := a.Optimize(context.Background())
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if seen == 0 {
		t.Fatal("annealing evaluated nothing")
	}
	if score != maxSeen {
		t.Errorf("best score %f differs from the best visited %f", score, maxSeen)
	}
	if best[VarBlockSize] == 0 || best[VarWorkers] == 0 {
		t.Errorf("best = %v, want both variables assigned", best)
	}
	want, _ := peakedSurface(best.Apply(baseConfig()))
	if res.Metrics.ThroughputMBps != want.Metrics.ThroughputMBps {
		t.Errorf("best result does not match the best state: %f vs %f",
			res.Metrics.ThroughputMBps, want.Metrics.ThroughputMBps)
	}
}
