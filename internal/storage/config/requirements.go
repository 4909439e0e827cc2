package config

import (
	"fmt"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Memory requirements
	QueueBytes    int64
	DuckDBBytes   int64
	TotalRAMBytes int64

	// Storage requirements per tier
	RawStorageBytes    int64
	HourlyStorageBytes int64
	DailyStorageBytes  int64
	TotalStorageBytes  int64

	// Throughput
	SamplesPerSecond float64
	SamplesPerDay    int64
	SummariesPerDay  int64
}

// Constants for calculations
const (
	// In-memory footprint of a queued sample: struct, pointers, boxed floats.
	bytesPerQueuedSample = 256

	// Assumed horizon for tiers with unlimited retention.
	unlimitedRetentionDays = 365
)

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	interval := c.Scale.SampleInterval.Seconds()
	if interval <= 0 {
		return r
	}
	machines := int64(c.Scale.Machines)

	r.SamplesPerSecond = float64(machines) / interval
	r.SamplesPerDay = int64(r.SamplesPerSecond * 86400)
	r.SummariesPerDay = machines * 25 // 24 hourly + 1 daily

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	r.QueueBytes = int64(c.Ingestion.MaxQueueSize) * bytesPerQueuedSample
	r.DuckDBBytes = parseMemoryLimit(c.Store.MemoryLimit)
	r.TotalRAMBytes = r.QueueBytes + r.DuckDBBytes
	// Add 256MB for the Go runtime and HTTP buffers
	r.TotalRAMBytes += 256 * 1024 * 1024

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	days := func(n int) float64 {
		if n == 0 {
			return unlimitedRetentionDays
		}
		return float64(n)
	}

	r.RawStorageBytes = int64(float64(r.SamplesPerDay*types.TierRaw.EstimatedRowBytes()) * days(c.Retention.RawDays))
	r.HourlyStorageBytes = int64(float64(24*machines*types.TierHourly.EstimatedRowBytes()) * days(c.Retention.HourlyDays))
	r.DailyStorageBytes = int64(float64(machines*types.TierDaily.EstimatedRowBytes()) * days(c.Retention.DailyDays))
	r.TotalStorageBytes = r.RawStorageBytes + r.HourlyStorageBytes + r.DailyStorageBytes

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Samples/sec:       %.1f
  Samples/day:       %s
  Summaries/day:     %s

Memory:
  Ingestion Queue:   %s
  DuckDB:            %s
  Total RAM:         %s (recommended)

Storage:
  Raw Tier:          %s
  Hourly Tier:       %s
  Daily Tier:        %s
  Total Storage:     %s (estimated)
`,
		r.SamplesPerSecond,
		formatNumber(r.SamplesPerDay),
		formatNumber(r.SummariesPerDay),
		FormatBytes(r.QueueBytes),
		FormatBytes(r.DuckDBBytes),
		FormatBytes(r.TotalRAMBytes),
		FormatBytes(r.RawStorageBytes),
		FormatBytes(r.HourlyStorageBytes),
		FormatBytes(r.DailyStorageBytes),
		FormatBytes(r.TotalStorageBytes),
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 2 * 1024 * 1024 * 1024 // Default 2GB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		// Try without space
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
