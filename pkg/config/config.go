// Package config defines the benchmark configuration consumed by the
// engine. A config is built by the caller, validated once, and never
// mutated afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spindle/pkg/errs"
	"spindle/pkg/units"
)

// Mode selects the workload shape.
type Mode string

const (
	SequentialWrite Mode = "sequential_write"
	SequentialRead  Mode = "sequential_read"
	RandomReadWrite Mode = "random_rw"
	Mixed           Mode = "mixed"
)

// UsesFileSize reports whether the mode is bounded by file size.
func (m Mode) UsesFileSize() bool {
	return m == SequentialWrite || m == SequentialRead
}

// UsesDuration reports whether the mode is bounded by wall time.
func (m Mode) UsesDuration() bool {
	return m == RandomReadWrite || m == Mixed
}

// DefaultBlockSize returns the block size the mode is usually run with:
// large blocks for streaming, 4 KiB for random access.
func (m Mode) DefaultBlockSize() int64 {
	if m.UsesDuration() {
		return 4 * 1024
	}
	return 64 * 1024
}

// DefaultWorkers returns the worker count the mode defaults to.
func (m Mode) DefaultWorkers() int {
	if m == Mixed {
		return 4
	}
	return 1
}

// Description returns the human-readable mode name.
func (m Mode) Description() string {
	switch m {
	case SequentialWrite:
		return "Sequential Write"
	case SequentialRead:
		return "Sequential Read"
	case RandomReadWrite:
		return "Random Read/Write"
	case Mixed:
		return "Mixed Read/Write"
	default:
		return string(m)
	}
}

// Duration wraps time.Duration so YAML/JSON use readable strings
// ("30s", "1m 30s") instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return units.FormatDuration(time.Duration(d)), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Accept both "30s" strings and raw nanosecond integers.
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := units.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(units.FormatDuration(time.Duration(d)))
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := units.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Validation bounds.
const (
	MaxFileSize  = 100 << 30 // 100 GiB
	MinBlockSize = 512
	MaxBlockSize = 1 << 20 // 1 MiB
	MaxDuration  = Duration(time.Hour)
	MaxWorkers   = 64
)

// BenchmarkConfig describes one benchmark run.
type BenchmarkConfig struct {
	// TargetDir is the directory scratch files are created in.
	TargetDir string `yaml:"target_dir" json:"target_dir"`
	Mode      Mode   `yaml:"mode" json:"mode"`
	// FileSize bounds sequential modes and sizes the scratch file for
	// random modes, in bytes.
	FileSize  int64 `yaml:"file_size" json:"file_size"`
	BlockSize int64 `yaml:"block_size" json:"block_size"`
	// Duration bounds random/mixed modes.
	Duration Duration `yaml:"duration" json:"duration"`
	Workers  int      `yaml:"workers" json:"workers"`
	// ReadRatio applies to Mixed mode only: 0.0 all writes, 1.0 all reads.
	ReadRatio float32 `yaml:"read_ratio" json:"read_ratio"`
	// KeepScratch leaves benchmark files on disk after the run.
	KeepScratch bool `yaml:"keep_scratch" json:"keep_scratch"`
}

// Default returns the baseline configuration: 1 GiB sequential write in
// the current directory with 64 KiB blocks and one worker.
func Default() BenchmarkConfig {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return BenchmarkConfig{
		TargetDir: dir,
		Mode:      SequentialWrite,
		FileSize:  1 << 30,
		BlockSize: 64 * 1024,
		Duration:  Duration(30 * time.Second),
		Workers:   1,
	}
}

// Preset returns the default configuration tuned for a mode.
func Preset(mode Mode) BenchmarkConfig {
	cfg := Default()
	cfg.Mode = mode
	cfg.BlockSize = mode.DefaultBlockSize()
	cfg.Workers = mode.DefaultWorkers()
	if mode == Mixed {
		cfg.ReadRatio = 0.5
	}
	return cfg
}

// EffectiveReadRatio is the read fraction the random executor runs
// with: the configured ratio for Mixed, an even split for RandomReadWrite.
func (c BenchmarkConfig) EffectiveReadRatio() float32 {
	switch c.Mode {
	case Mixed:
		return c.ReadRatio
	case RandomReadWrite:
		return 0.5
	case SequentialRead:
		return 1.0
	default:
		return 0.0
	}
}

// Validate checks every invariant the engine depends on. It must pass
// before any executor is constructed.
func (c BenchmarkConfig) Validate() error {
	info, err := os.Stat(c.TargetDir)
	if err != nil {
		return errs.Newf(errs.KindConfig, "target path does not exist: %s", c.TargetDir)
	}
	if !info.IsDir() {
		return errs.Newf(errs.KindConfig, "target path is not a directory: %s", c.TargetDir)
	}

	if c.FileSize <= 0 {
		return errs.New(errs.KindConfig, "file size must be greater than 0")
	}
	if c.FileSize > MaxFileSize {
		return errs.Newf(errs.KindConfig, "file size too large: %d bytes (max: %d bytes)", c.FileSize, int64(MaxFileSize))
	}

	if c.BlockSize <= 0 {
		return errs.New(errs.KindConfig, "block size must be greater than 0")
	}
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return errs.New(errs.KindConfig, "block size must be a power of 2")
	}
	if c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize {
		return errs.Newf(errs.KindConfig, "block size must be between %d and %d bytes", MinBlockSize, int64(MaxBlockSize))
	}

	if c.Mode.UsesFileSize() && c.FileSize < c.BlockSize {
		return errs.New(errs.KindConfig, "file size must be larger than block size for sequential operations")
	}

	if c.Duration <= 0 {
		return errs.New(errs.KindConfig, "duration must be greater than 0")
	}
	if c.Duration > MaxDuration {
		return errs.Newf(errs.KindConfig, "duration too long: %s (max: %s)",
			units.FormatDuration(c.Duration.Std()), units.FormatDuration(MaxDuration.Std()))
	}

	if c.Workers <= 0 {
		return errs.New(errs.KindConfig, "worker count must be greater than 0")
	}
	if c.Workers > MaxWorkers {
		return errs.Newf(errs.KindConfig, "too many workers: %d (max: %d)", c.Workers, MaxWorkers)
	}

	if c.Mode == Mixed && (c.ReadRatio < 0.0 || c.ReadRatio > 1.0) {
		return errs.New(errs.KindConfig, "read ratio must be between 0.0 and 1.0")
	}

	switch c.Mode {
	case SequentialWrite, SequentialRead, RandomReadWrite, Mixed:
	default:
		return errs.Newf(errs.KindConfig, "unknown mode: %q", string(c.Mode))
	}

	return nil
}

// Summary renders a one-line description for logs and result listings.
func (c BenchmarkConfig) Summary() string {
	if c.Mode.UsesDuration() {
		return fmt.Sprintf("%s, %s blocks, %s, %d workers",
			c.Mode.Description(), units.FormatBytes(uint64(c.BlockSize)),
			units.FormatDuration(c.Duration.Std()), c.Workers)
	}
	return fmt.Sprintf("%s, %s file, %s blocks, %d workers",
		c.Mode.Description(), units.FormatBytes(uint64(c.FileSize)),
		units.FormatBytes(uint64(c.BlockSize)), c.Workers)
}
