package units

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{1 << 30, "1.0 GiB"},
		{1 << 40, "1.0 TiB"},
		{3 << 29, "1.5 GiB"},
	}
	for _, c := range cases {
		if got := FormatBytes(c.bytes); got != c.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		input string
		want  uint64
	}{
		{"1024", 1024},
		{"64KiB", 64 * 1024},
		{"1.5 MiB", 1572864},
		{"2 GB", 2_000_000_000},
		{"1gib", 1 << 30},
		{"100 B", 100},
		{"0", 0},
		{"  512  ", 512},
	}
	for _, c := range cases {
		got, err := ParseBytes(c.input)
		if err != nil {
			t.Errorf("ParseBytes(%q) failed: %v", c.input, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseBytes(%q) = %d, want %d", c.input, got, c.want)
		}
	}
}

func TestParseBytesRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "abc", "-5", "10 XB", "KiB"} {
		if _, err := ParseBytes(input); err == nil {
			t.Errorf("ParseBytes(%q) succeeded, want error", input)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{500 * time.Millisecond, "500ms"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "1.50s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
		{2 * time.Hour, "2h 0m 0s"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"1.5s", 1500 * time.Millisecond},
		{"1m 30s", 90 * time.Second},
		{"2h 15m 10s", 2*time.Hour + 15*time.Minute + 10*time.Second},
		{"1h", time.Hour},
		{"1M 30S", 90 * time.Second},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.input)
		if err != nil {
			t.Errorf("ParseDuration(%q) failed: %v", c.input, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "abc", "10x", "s", "1h2m"} {
		if _, err := ParseDuration(input); err == nil {
			t.Errorf("ParseDuration(%q) succeeded, want error", input)
		}
	}
}

func TestFormatParseDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		250 * time.Millisecond,
		45 * time.Second,
		90 * time.Second,
		time.Hour + 30*time.Minute,
	} {
		parsed, err := ParseDuration(FormatDuration(d))
		if err != nil {
			t.Fatalf("round trip of %v failed: %v", d, err)
		}
		if parsed != d {
			t.Errorf("round trip of %v yielded %v", d, parsed)
		}
	}
}

func TestThroughputMBps(t *testing.T) {
	if got := ThroughputMBps(1<<20, time.Second); got != 1.0 {
		t.Errorf("1 MiB over 1s = %f MBps, want 1.0", got)
	}
	if got := ThroughputMBps(100<<20, 2*time.Second); got != 50.0 {
		t.Errorf("100 MiB over 2s = %f MBps, want 50.0", got)
	}
	if got := ThroughputMBps(1<<20, 0); got != 0 {
		t.Errorf("zero elapsed = %f MBps, want 0", got)
	}
}

func TestIOPS(t *testing.T) {
	if got := IOPS(1000, 2*time.Second); got != 500.0 {
		t.Errorf("1000 ops over 2s = %f IOPS, want 500", got)
	}
	if got := IOPS(1000, 0); got != 0 {
		t.Errorf("zero elapsed = %f IOPS, want 0", got)
	}
}

func TestFormatThroughput(t *testing.T) {
	cases := []struct {
		mbps float64
		want string
	}{
		{2048.0, "2.0 GiB/s"},
		{100.0, "100.0 MiB/s"},
		{0.5, "512.0 KiB/s"},
	}
	for _, c := range cases {
		if got := FormatThroughput(c.mbps); got != c.want {
			t.Errorf("FormatThroughput(%f) = %q, want %q", c.mbps, got, c.want)
		}
	}
}

func TestFormatIOPS(t *testing.T) {
	cases := []struct {
		iops float64
		want string
	}{
		{2_500_000, "2.5M IOPS"},
		{12_500, "12.5K IOPS"},
		{500, "500 IOPS"},
	}
	for _, c := range cases {
		if got := FormatIOPS(c.iops); got != c.want {
			t.Errorf("FormatIOPS(%f) = %q, want %q", c.iops, got, c.want)
		}
	}
}

func TestFormatLatency(t *testing.T) {
	if got := FormatLatency(1500 * time.Microsecond); got != "1.50ms" {
		t.Errorf("FormatLatency(1.5ms) = %q, want 1.50ms", got)
	}
	if got := FormatLatency(500 * time.Microsecond); got != "500µs" {
		t.Errorf("FormatLatency(500µs) = %q, want 500µs", got)
	}
}
