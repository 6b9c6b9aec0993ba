// Package tune searches the (block size, workers) space for the
// configuration that scores best on a chosen metric, optionally under
// a p99 latency ceiling. Two strategies are provided: coordinate
// descent and simulated annealing.
package tune

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"spindle/internal/logger"
	"spindle/pkg/config"
	"spindle/pkg/engine"
	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/sweep"
	"spindle/pkg/units"
)

// Search dimension names understood by the evaluator.
const (
	VarBlockSize = "block_size"
	VarWorkers   = "workers"
)

// Score metrics.
const (
	MetricThroughput = "throughput"
	MetricIOPS       = "iops"
)

// Variable is one searchable dimension: an explicit value list or an
// inclusive range. Values wins when both are set.
type Variable struct {
	Name   string
	Values []int64
	Range  [2]int64
}

// DefaultVariables builds the usual search space: a power-of-two block
// ladder between the given bounds and a worker range starting at 1.
func DefaultVariables(minBlock, maxBlock int64, maxWorkers int) []Variable {
	return []Variable{
		{Name: VarBlockSize, Values: sweep.Steps(minBlock, maxBlock)},
		{Name: VarWorkers, Range: [2]int64{1, int64(maxWorkers)}},
	}
}

// State assigns a value to each variable.
type State map[string]int64

// Apply overlays the state onto a config.
func (s State) Apply(cfg config.BenchmarkConfig) config.BenchmarkConfig {
	if v, ok := s[VarBlockSize]; ok {
		cfg.BlockSize = v
	}
	if v, ok := s[VarWorkers]; ok {
		cfg.Workers = int(v)
	}
	return cfg
}

func (s State) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s[k]))
	}
	return strings.Join(parts, ",")
}

func (s State) clone() State {
	next := make(State, len(s))
	for k, v := range s {
		next[k] = v
	}
	return next
}

// Objective picks the metric to maximize and an optional latency
// ceiling that disqualifies a configuration outright.
type Objective struct {
	Metric string
	MaxP99 time.Duration
}

// Runner executes one benchmark config. The engine implements it; tests
// substitute a synthetic surface.
type Runner interface {
	Run(ctx context.Context, cfg config.BenchmarkConfig) (model.BenchmarkResult, error)
}

// NewEngineRunner returns a Runner backed by the local engine.
func NewEngineRunner(lg *logger.Logger) Runner {
	return engineRunner{lg: logger.Default(lg)}
}

type engineRunner struct {
	lg *logger.Logger
}

func (r engineRunner) Run(ctx context.Context, cfg config.BenchmarkConfig) (model.BenchmarkResult, error) {
	m, err := engine.NewManager(cfg, r.lg)
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
	return engine.CombineResults(results)
}

type evaluation struct {
	res    model.BenchmarkResult
	score  float64
	reason string
}

// Evaluator runs configurations and turns results into normalized
// scores. The first successful run sets the scale, so scores hover
// around 1000 regardless of the disk's absolute speed. Visited states
// are cached; search strategies revisit freely.
type Evaluator struct {
	runner    Runner
	base      config.BenchmarkConfig
	objective Objective

	initialScore float64
	cache        map[string]evaluation
}

func NewEvaluator(r Runner, base config.BenchmarkConfig, obj Objective) *Evaluator {
	if obj.Metric == "" {
		obj.Metric = MetricThroughput
	}
	return &Evaluator{
		runner:    r,
		base:      base,
		objective: obj,
		cache:     make(map[string]evaluation),
	}
}

// Evaluate scores one state. A state the base config cannot legally
// carry (for example a block larger than the file) is disqualified
// with a reason rather than aborting the search; infrastructure
// failures and cancellation do abort.
func (e *Evaluator) Evaluate(ctx context.Context, s State) (model.BenchmarkResult, float64, string, error) {
	key := s.String()
	if ev, ok := e.cache[key]; ok {
		return ev.res, ev.score, ev.reason, nil
	}

	res, err := e.runner.Run(ctx, s.Apply(e.base))
	if err != nil {
		if errs.Is(err, errs.KindConfig) {
			reason := errs.UserMessage(err)
			ev := evaluation{score: e.scale(0, reason), reason: reason}
			e.cache[key] = ev
			return ev.res, ev.score, ev.reason, nil
		}
		return model.BenchmarkResult{}, 0, "", err
	}

	raw, reason := e.score(res)
	if e.initialScore <= 1 && reason == "" {
		e.initialScore = math.Abs(raw)
		if e.initialScore < 1 {
			e.initialScore = 1
		}
	}

	ev := evaluation{res: res, score: e.scale(raw, reason), reason: reason}
	e.cache[key] = ev
	return ev.res, ev.score, ev.reason, nil
}

func (e *Evaluator) score(res model.BenchmarkResult) (float64, string) {
	if e.objective.MaxP99 > 0 {
		if p99 := res.Metrics.Latency.P99(); p99 > e.objective.MaxP99 {
			return 0, fmt.Sprintf("p99 %s over the %s ceiling",
				units.FormatLatency(p99), units.FormatLatency(e.objective.MaxP99))
		}
	}
	switch e.objective.Metric {
	case MetricIOPS:
		return res.Metrics.IOPS, ""
	default:
		return res.Metrics.ThroughputMBps, ""
	}
}

func (e *Evaluator) scale(raw float64, reason string) float64 {
	if reason != "" {
		return -1000.0
	}
	if e.initialScore <= 0 {
		return raw
	}
	return (raw / e.initialScore) * 1000.0
}

// FormatMetrics renders the objective's view of a result for progress
// lines.
func (e *Evaluator) FormatMetrics(res model.BenchmarkResult) string {
	if e.objective.Metric == MetricIOPS {
		return units.FormatIOPS(res.Metrics.IOPS)
	}
	return units.FormatThroughput(res.Metrics.ThroughputMBps)
}
