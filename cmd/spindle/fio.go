package main

import (
	"flag"
	"fmt"
	"os"

	"spindle/pkg/errs"
	"spindle/pkg/fio"
	"spindle/pkg/units"
)

// runFioCmd handles "spindle fio [flags]": it emits the fio job file
// equivalent to the effective configuration, or imports fio JSON
// output so the two tools' numbers line up side by side.
func runFioCmd(args []string) {
	fs := flag.NewFlagSet("fio", flag.ExitOnError)
	f := SetupFlags(fs)
	out := fs.String("out", "", "Write the job file here instead of stdout")
	importPath := fs.String("import", "", "Parse this fio JSON output instead of generating a job")
	fs.Parse(args)

	if *importPath != "" {
		importFioResult(*importPath, *f.JSON)
		return
	}

	cfg, err := f.LoadConfig()
	if err != nil {
		fatal(err)
	}
	f.MaybeWriteConfig(cfg)

	job := fio.GenerateJob(cfg)
	if *out == "" {
		fmt.Print(job)
		return
	}
	if err := os.WriteFile(*out, []byte(job), 0644); err != nil {
		fatal(errs.FromOS("write job file", err))
	}
	fmt.Printf("Job file written to %s\n", *out)
	fmt.Printf("Run it with: fio --output-format=json %s\n", *out)
}

func importFioResult(path string, asJSON bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal(errs.FromOS("read fio output", err))
	}
	metrics, err := fio.ParseResult(data, 0)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(metrics)
		return
	}

	fmt.Println(">>> fio Import Complete <<<")
	fmt.Printf("Processed:   %s in %s\n",
		units.FormatBytes(uint64(metrics.BytesProcessed)),
		units.FormatDuration(metrics.ElapsedTime))
	fmt.Printf("Throughput:  %s\n", units.FormatThroughput(metrics.ThroughputMBps))
	fmt.Printf("IOPS:        %s\n", units.FormatIOPS(metrics.IOPS))
	fmt.Printf("Latency:     min %s / avg %s / max %s\n",
		units.FormatLatency(metrics.Latency.Min),
		units.FormatLatency(metrics.Latency.Avg),
		units.FormatLatency(metrics.Latency.Max))
	fmt.Printf("Percentiles: p50 %s / p95 %s / p99 %s\n",
		units.FormatLatency(metrics.Latency.Percentiles[50]),
		units.FormatLatency(metrics.Latency.P95()),
		units.FormatLatency(metrics.Latency.P99()))
}
