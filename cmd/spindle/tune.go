package main

import (
	"flag"
	"fmt"

	"spindle/pkg/errs"
	"spindle/pkg/model"
	"spindle/pkg/tune"
	"spindle/pkg/units"
)

// runTuneCmd handles "spindle tune [flags]": it searches block size and
// worker count for the configuration that scores best, instead of
// making the user binary-search by hand. Every evaluation is a full
// benchmark run, so expect the search to take a while.
func runTuneCmd(args []string) {
	fs := flag.NewFlagSet("tune", flag.ExitOnError)
	f := SetupFlags(fs)
	minBlock := fs.String("min-block", "4 KiB", "Smallest block size to try")
	maxBlock := fs.String("max-block", "1 MiB", "Largest block size to try")
	maxWorkers := fs.Int("max-workers", 8, "Largest worker count to try")
	metric := fs.String("metric", tune.MetricThroughput, "Score metric: 'throughput' or 'iops'")
	maxP99 := fs.String("max-p99", "", "Disqualify configurations whose p99 latency exceeds this")
	algo := fs.String("algo", "coord", "Search strategy: 'coord' or 'anneal'")
	fs.Parse(args)

	cfg, err := f.LoadConfig()
	if err != nil {
		fatal(err)
	}
	lg := f.newLogger()

	min, err := units.ParseBytes(*minBlock)
	if err != nil {
		fatal(errs.Wrap(errs.KindConfig, "invalid -min-block", err))
	}
	max, err := units.ParseBytes(*maxBlock)
	if err != nil {
		fatal(errs.Wrap(errs.KindConfig, "invalid -max-block", err))
	}

	obj := tune.Objective{Metric: *metric}
	if *maxP99 != "" {
		ceiling, err := units.ParseDuration(*maxP99)
		if err != nil {
			fatal(errs.Wrap(errs.KindConfig, "invalid -max-p99", err))
		}
		obj.MaxP99 = ceiling
	}

	ctx, stop := signalContext()
	defer stop()

	eval := tune.NewEvaluator(tune.NewEngineRunner(lg), cfg, obj)
	vars := tune.DefaultVariables(int64(min), int64(max), *maxWorkers)

	evals := 0
	onEval := func(s tune.State, res model.BenchmarkResult, score float64, reason string) {
		evals++
		line := fmt.Sprintf("[%3d] block %s, %d workers -> score %8.1f",
			evals,
			units.FormatBytes(uint64(s[tune.VarBlockSize])),
			s[tune.VarWorkers],
			score)
		if reason != "" {
			line += fmt.Sprintf(" (%s)", reason)
		} else {
			line += fmt.Sprintf(" (%s)", eval.FormatMetrics(res))
		}
		fmt.Println(line)
	}

	var (
		best  tune.State
		res   model.BenchmarkResult
		score float64
	)
	switch *algo {
	case "coord":
		c := tune.NewCoordinate(eval, vars)
		c.OnEval = onEval
		best, res, score, err = c.Optimize(ctx)
	case "anneal":
		a := tune.NewAnnealing(eval, vars, tune.DefaultAnnealingParams())
		a.OnEval = onEval
		best, res, score, err = a.Optimize(ctx)
	default:
		fatal(errs.Newf(errs.KindConfig, "unknown -algo %q", *algo))
	}

	if err != nil {
		if !errs.Is(err, errs.KindCancelled) || best == nil {
			fatal(err)
		}
		fmt.Println("\nSearch interrupted; best so far:")
	}

	tuned := best.Apply(cfg)
	fmt.Println("\n>>> Tune Complete <<<")
	fmt.Printf("Best:       %s blocks, %d workers (score %.1f after %d evaluations)\n",
		units.FormatBytes(uint64(tuned.BlockSize)), tuned.Workers, score, evals)
	fmt.Printf("Throughput: %s\n", units.FormatThroughput(res.Metrics.ThroughputMBps))
	fmt.Printf("IOPS:       %s\n", units.FormatIOPS(res.Metrics.IOPS))
	if res.Metrics.Latency.Max > 0 {
		fmt.Printf("Latency:    avg %s / p99 %s\n",
			units.FormatLatency(res.Metrics.Latency.Avg),
			units.FormatLatency(res.Metrics.Latency.P99()))
	}

	// -write-config captures the winning configuration for future runs.
	f.MaybeWriteConfig(tuned)
}
