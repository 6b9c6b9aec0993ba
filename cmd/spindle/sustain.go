package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"spindle/pkg/analyze"
	"spindle/pkg/engine"
	"spindle/pkg/trace"
	"spindle/pkg/units"
)

// runSustainCmd handles "spindle sustain [flags]": it runs a benchmark
// with tracing on and reports how long each operation rate was held,
// rather than just the average.
func runSustainCmd(args []string) {
	fs := flag.NewFlagSet("sustain", flag.ExitOnError)
	f := SetupFlags(fs)
	resolution := fs.Duration("resolution", 1*time.Millisecond, "Bin size for the output profile")
	tolerance := fs.Float64("tolerance", 0.05, "Relative tolerance for the linearity analysis")
	output := fs.String("output", "sustain.csv", "Output CSV file")
	fs.Parse(args)

	cfg, err := f.LoadConfig()
	if err != nil {
		fatal(err)
	}
	f.MaybeWriteConfig(cfg)
	lg := f.newLogger()

	ctx, stop := signalContext()
	defer stop()

	m, err := engine.NewManager(cfg, lg)
	if err != nil {
		fatal(err)
	}

	traceCh := make(chan trace.Msg, 1024)
	m.Trace = traceCh
	analyzer := analyze.NewSustainAnalyzer(cfg.Workers)
	done := make(chan struct{})
	go func() {
		analyzer.Consume(traceCh)
		close(done)
	}()

	fmt.Printf("Running %s on %s\n", cfg.Summary(), cfg.TargetDir)

	progress, err := m.Start(ctx)
	if err != nil {
		fatal(err)
	}
	for update := range progress {
		printProgress(update)
	}
	fmt.Println()

	results, err := m.WaitForCompletion()
	close(traceCh)
	<-done
	if err != nil {
		fatal(err)
	}

	combined, err := engine.CombineResults(results)
	if err != nil {
		fatal(err)
	}

	points := analyzer.Profile()
	if len(points) > 0 {
		// The lowest-rate bin is usually a single-sample artifact.
		points = points[:len(points)-1]
	}
	points = downsamplePoints(points, *resolution)

	if err := writeSustainCSV(*output, points); err != nil {
		fmt.Printf("Failed to write output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sustain profile written to %s\n", *output)
	fmt.Printf("Average: %s, %s\n",
		units.FormatThroughput(combined.Metrics.ThroughputMBps),
		units.FormatIOPS(combined.Metrics.IOPS))

	if len(points) > 2 {
		printStability(points, *tolerance)
	}
}

// printStability fits the dominant linear region of the sustain curve
// and reports how much the rate drifted across it.
func printStability(points []analyze.Point, tolerance float64) {
	fit := analyze.FitLinearRegion(points, tolerance)
	if fit.InlierCount < 2 {
		fmt.Println("No dominant linear region found.")
		return
	}

	span := fit.EndX - fit.StartX
	variation := math.Abs(fit.Slope * span)
	midX := (fit.StartX + fit.EndX) / 2
	mean := fit.Intercept + fit.Slope*midX
	relVar := 0.0
	if mean > 0 {
		relVar = variation / mean * 100
	}

	fmt.Println("\n>>> Stability Analysis <<<")
	fmt.Printf("Linear region: %.1f%% of the curve (%.2fs - %.2fs)\n",
		fit.Coverage*100, fit.StartX, fit.EndX)
	fmt.Printf("Slope:         %.4f IOPS/s\n", fit.Slope)
	fmt.Printf("Variation:     %.2f IOPS (%.2f%%) over %.2fs\n", variation, relVar, span)
}

// downsamplePoints merges profile points into fixed-width time bins,
// averaging the rates inside each bin.
func downsamplePoints(points []analyze.Point, resolution time.Duration) []analyze.Point {
	if resolution <= 0 || len(points) == 0 {
		return points
	}

	resSec := resolution.Seconds()
	var result []analyze.Point

	currentBin := int64(-1)
	var sumY float64
	var count int

	for _, p := range points {
		bin := int64(p.X / resSec)
		if bin != currentBin {
			if count > 0 {
				result = append(result, analyze.Point{
					X: float64(currentBin+1) * resSec,
					Y: sumY / float64(count),
				})
			}
			currentBin = bin
			sumY = 0
			count = 0
		}
		sumY += p.Y
		count++
	}
	if count > 0 {
		result = append(result, analyze.Point{
			X: float64(currentBin+1) * resSec,
			Y: sumY / float64(count),
		})
	}
	return result
}

func writeSustainCSV(path string, points []analyze.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"duration_seconds", "min_iops"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := w.Write([]string{
			fmt.Sprintf("%.4f", p.X),
			fmt.Sprintf("%.2f", p.Y),
		}); err != nil {
			return err
		}
	}
	return nil
}
