// Package units converts between human-readable strings and the raw
// byte/duration/rate values used throughout spindle.
package units

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// FormatBytes renders a byte count with binary units ("1.5 KiB").
// Counts below one KiB print as integers.
func FormatBytes(bytes uint64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

	if bytes == 0 {
		return "0 B"
	}

	size := float64(bytes)
	idx := 0
	for size >= 1024.0 && idx < len(units)-1 {
		size /= 1024.0
		idx++
	}

	if idx == 0 {
		return fmt.Sprintf("%d %s", bytes, units[0])
	}
	return fmt.Sprintf("%.1f %s", size, units[idx])
}

// ParseBytes parses strings like "1024", "64KiB", "1.5 MiB" or "2 GB".
// Decimal units (KB/MB/GB/TB) are powers of 1000, binary units
// (KiB/MiB/GiB/TiB) powers of 1024.
func ParseBytes(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, fmt.Errorf("empty size")
	}

	var numPart, unitPart string
	if i := strings.LastIndex(input, " "); i >= 0 {
		numPart, unitPart = input[:i], input[i+1:]
	} else {
		split := len(input)
		for i, c := range input {
			if unicode.IsLetter(c) {
				split = i
				break
			}
		}
		numPart, unitPart = input[:split], input[split:]
	}

	number, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", numPart)
	}
	if number < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}

	var mult float64
	switch strings.ToUpper(strings.TrimSpace(unitPart)) {
	case "", "B":
		mult = 1
	case "KB":
		mult = 1e3
	case "MB":
		mult = 1e6
	case "GB":
		mult = 1e9
	case "TB":
		mult = 1e12
	case "KIB":
		mult = 1 << 10
	case "MIB":
		mult = 1 << 20
	case "GIB":
		mult = 1 << 30
	case "TIB":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("unknown unit: %q", unitPart)
	}

	return uint64(number * mult), nil
}

// FormatDuration renders a duration in the most natural unit:
// "500ms", "1.50s", "1m 30s", "1h 1m 1s".
func FormatDuration(d time.Duration) string {
	totalSecs := uint64(d / time.Second)
	millis := uint64(d/time.Millisecond) % 1000

	switch {
	case totalSecs >= 3600:
		return fmt.Sprintf("%dh %dm %ds", totalSecs/3600, (totalSecs%3600)/60, totalSecs%60)
	case totalSecs >= 60:
		return fmt.Sprintf("%dm %ds", totalSecs/60, totalSecs%60)
	case totalSecs > 0:
		if millis > 0 {
			return fmt.Sprintf("%d.%02ds", totalSecs, millis/10)
		}
		return fmt.Sprintf("%ds", totalSecs)
	default:
		return fmt.Sprintf("%dms", millis)
	}
}

// ParseDuration parses space-separated components like "30s",
// "1m 30s", "1h 30m", "500ms". Unlike time.ParseDuration it accepts
// the spaced form the config files use.
func ParseDuration(input string) (time.Duration, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for _, part := range strings.Fields(input) {
		switch {
		case strings.HasSuffix(part, "ms"):
			n, err := strconv.ParseUint(part[:len(part)-2], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid milliseconds: %q", part)
			}
			total += time.Duration(n) * time.Millisecond
		case strings.HasSuffix(part, "s"):
			f, err := strconv.ParseFloat(part[:len(part)-1], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid seconds: %q", part)
			}
			total += time.Duration(f * float64(time.Second))
		case strings.HasSuffix(part, "m"):
			n, err := strconv.ParseUint(part[:len(part)-1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid minutes: %q", part)
			}
			total += time.Duration(n) * time.Minute
		case strings.HasSuffix(part, "h"):
			n, err := strconv.ParseUint(part[:len(part)-1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid hours: %q", part)
			}
			total += time.Duration(n) * time.Hour
		default:
			return 0, fmt.Errorf("unknown duration format: %q", part)
		}
	}
	return total, nil
}

// ThroughputMBps converts bytes moved over an elapsed time into MiB/s.
// Zero elapsed yields zero, never a division fault.
func ThroughputMBps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return (float64(bytes) / (1 << 20)) / elapsed.Seconds()
}

// IOPS converts an operation count over an elapsed time into ops/sec.
func IOPS(operations int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(operations) / elapsed.Seconds()
}

// FormatThroughput renders a MiB/s value with a readable unit.
func FormatThroughput(mbps float64) string {
	switch {
	case mbps >= 1024.0:
		return fmt.Sprintf("%.1f GiB/s", mbps/1024.0)
	case mbps >= 1.0:
		return fmt.Sprintf("%.1f MiB/s", mbps)
	case mbps >= 0.001:
		return fmt.Sprintf("%.1f KiB/s", mbps*1024.0)
	default:
		return fmt.Sprintf("%.3f MiB/s", mbps)
	}
}

// FormatIOPS renders an IOPS value with K/M suffixes.
func FormatIOPS(iops float64) string {
	switch {
	case iops >= 1e6:
		return fmt.Sprintf("%.1fM IOPS", iops/1e6)
	case iops >= 1e3:
		return fmt.Sprintf("%.1fK IOPS", iops/1e3)
	default:
		return fmt.Sprintf("%.0f IOPS", iops)
	}
}

// FormatLatency renders sub-millisecond values in microseconds and
// everything else in milliseconds.
func FormatLatency(d time.Duration) string {
	micros := d.Microseconds()
	if micros >= 1000 {
		return fmt.Sprintf("%.2fms", float64(micros)/1000.0)
	}
	return fmt.Sprintf("%dµs", micros)
}
