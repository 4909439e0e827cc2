package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/storage/aggregate"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
)

// RunResult describes one rollup firing or reaggregation.
type RunResult struct {
	Tier types.Tier `json:"resolution"`

	// FromMs and ToMs delimit the processed buckets, [FromMs, ToMs).
	FromMs int64 `json:"from_ms"`
	ToMs   int64 `json:"to_ms"`

	Buckets       int `json:"buckets"`
	Summaries     int `json:"summaries"`
	MachineErrors int `json:"machine_errors"`

	// SkippedBuckets counts buckets older than the catch-up window that
	// were never processed.
	SkippedBuckets int64 `json:"skipped_buckets,omitempty"`

	Paused bool `json:"paused,omitempty"`
}

// =============================================================================
// Scheduled Rollups
// =============================================================================

// RunHourly rolls every complete hour from the hourly watermark up to the
// hour containing now. The watermark advances after each bucket that
// completed without store errors; a failing bucket stops the firing.
func (e *Engine) RunHourly(ctx context.Context, now time.Time) (RunResult, error) {
	end := types.TierHourly.TruncateMs(now.UnixMilli())
	window := int64(e.config.MaxCatchUpHours) * types.HourMs
	return e.runWatermarked(ctx, types.TierHourly, store.KeyWatermarkHourly, end, window)
}

// RunDaily folds every complete day from the daily watermark whose hours
// have all been rolled up, bounded by the day containing now.
func (e *Engine) RunDaily(ctx context.Context, now time.Time) (RunResult, error) {
	hourlyWM, err := e.store.Watermark(ctx, store.KeyWatermarkHourly)
	if err != nil {
		return RunResult{Tier: types.TierDaily}, fmt.Errorf("read hourly watermark: %w", err)
	}

	end := types.TierDaily.TruncateMs(now.UnixMilli())
	if limit := types.TierDaily.TruncateMs(hourlyWM); limit < end {
		end = limit
	}

	window := int64(e.config.MaxCatchUpDays) * types.DayMs
	return e.runWatermarked(ctx, types.TierDaily, store.KeyWatermarkDaily, end, window)
}

func (e *Engine) runWatermarked(ctx context.Context, tier types.Tier, key string, end, window int64) (RunResult, error) {
	result := RunResult{Tier: tier}

	if e.pause != nil && e.pause.ShouldPauseCompaction() {
		e.stats.PausedFirings.Add(1)
		result.Paused = true
		log.WarnContext(ctx, "rollup postponed, ingestion under pressure", "resolution", tier.String())
		return result, nil
	}

	wm, err := e.store.Watermark(ctx, key)
	if err != nil {
		return result, fmt.Errorf("read %s watermark: %w", tier, err)
	}

	earliest := end - window
	if wm < earliest {
		if wm > 0 {
			result.SkippedBuckets = (earliest - wm) / tier.BucketMs()
			e.stats.SkippedBuckets.Add(result.SkippedBuckets)
			log.WarnContext(ctx, "rollup gap older than catch-up window skipped",
				"resolution", tier.String(),
				"from", time.UnixMilli(wm).UTC().Format(time.RFC3339),
				"to", time.UnixMilli(earliest).UTC().Format(time.RFC3339),
				"buckets", result.SkippedBuckets)
		}
		wm = earliest
	}

	result.FromMs = wm
	result.ToMs = wm

	for bucket := wm; bucket < end; bucket += tier.BucketMs() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		written, machineErrs, err := e.rollupBucket(ctx, tier, bucket, "")
		result.Summaries += written
		result.MachineErrors += machineErrs
		if err != nil {
			return result, err
		}

		if err := e.store.SetWatermark(ctx, key, bucket+tier.BucketMs()); err != nil {
			return result, fmt.Errorf("advance %s watermark: %w", tier, err)
		}
		result.Buckets++
		result.ToMs = bucket + tier.BucketMs()
	}

	if result.Buckets > 0 {
		log.InfoContext(ctx, "rollup completed",
			"resolution", tier.String(),
			"buckets", result.Buckets,
			"summaries", result.Summaries)
	}

	return result, nil
}

// =============================================================================
// Reaggregation
// =============================================================================

// Reaggregate recomputes the summaries of tier for the buckets overlapping
// [start, end), for one machine or all machines when machineID is empty.
// It produces exactly what the scheduled path produces and leaves the
// watermarks alone. Buckets without source rows keep their stored summary.
func (e *Engine) Reaggregate(ctx context.Context, machineID string, start, end time.Time, tier types.Tier) (RunResult, error) {
	result := RunResult{Tier: tier}

	if !tier.IsSummary() {
		return result, fmt.Errorf("reaggregate %s: %w", tier, errors.ErrInvalidResolution)
	}
	if !end.After(start) {
		return result, errors.NewInvalidRange("end must be after start")
	}

	from := tier.TruncateMs(start.UnixMilli())
	to := tier.CeilMs(end.UnixMilli())
	result.FromMs = from
	result.ToMs = from

	for bucket := from; bucket < to; bucket += tier.BucketMs() {
		written, machineErrs, err := e.rollupBucket(ctx, tier, bucket, machineID)
		result.Summaries += written
		result.MachineErrors += machineErrs
		if err != nil {
			return result, err
		}
		result.Buckets++
		result.ToMs = bucket + tier.BucketMs()
	}

	e.stats.Reaggregations.Add(1)
	log.Info("reaggregation completed",
		"resolution", tier.String(),
		"machine", machineID,
		"buckets", result.Buckets,
		"summaries", result.Summaries)

	return result, nil
}

// =============================================================================
// Per-Bucket Rollup
// =============================================================================

// rollupBucket recomputes one bucket. A read failure aborts immediately.
// A write failure for one machine is logged and counted, the remaining
// machines are still written, and an error is returned so the bucket is
// retried.
func (e *Engine) rollupBucket(ctx context.Context, tier types.Tier, bucket int64, machineID string) (int, int, error) {
	var summaries []types.Summary
	var err error

	switch tier {
	case types.TierHourly:
		summaries, err = e.hourlySummaries(ctx, bucket, machineID)
		e.stats.HourlyBuckets.Add(1)
	case types.TierDaily:
		summaries, err = e.dailySummaries(ctx, bucket, machineID)
		e.stats.DailyBuckets.Add(1)
	default:
		return 0, 0, fmt.Errorf("rollup %s: %w", tier, errors.ErrInvalidResolution)
	}
	if err != nil {
		return 0, 0, err
	}

	written, failed := 0, 0
	var firstErr error
	for i := range summaries {
		sum := summaries[i]
		if err := e.store.UpsertSummaries(ctx, tier, []types.Summary{sum}); err != nil {
			failed++
			e.stats.MachineErrors.Add(1)
			log.ErrorContext(logging.ContextWithMachineID(ctx, sum.MachineID), "write summary failed",
				"resolution", tier.String(),
				"bucket", sum.BucketStartTime().Format(time.RFC3339),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	e.stats.SummariesWritten.Add(int64(written))

	if firstErr != nil {
		return written, failed, fmt.Errorf("%s bucket %s: %d machines failed: %w",
			tier, time.UnixMilli(bucket).UTC().Format(time.RFC3339), failed, firstErr)
	}
	return written, 0, nil
}

// hourlySummaries streams the fine rows of one hour through per-machine
// rollups.
func (e *Engine) hourlySummaries(ctx context.Context, bucket int64, machineID string) ([]types.Summary, error) {
	mgr := aggregate.NewManager(bucket, e.accuracy)

	err := e.store.ScanSamples(ctx, machineID, bucket, bucket+types.HourMs, func(s *types.Sample) error {
		mgr.Process(s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read samples for hour %s: %w", time.UnixMilli(bucket).UTC().Format(time.RFC3339), err)
	}

	return mgr.Results(), nil
}

// dailySummaries folds the hourly rows of one day per machine.
func (e *Engine) dailySummaries(ctx context.Context, day int64, machineID string) ([]types.Summary, error) {
	hours, err := e.store.ReadSummaries(ctx, types.TierDaily.Previous(), machineID, day, day+types.DayMs)
	if err != nil {
		return nil, fmt.Errorf("read hourly summaries for day %s: %w", time.UnixMilli(day).UTC().Format("2006-01-02"), err)
	}

	// Rows arrive ordered by machine, then bucket.
	var out []types.Summary
	for i := 0; i < len(hours); {
		j := i
		for j < len(hours) && hours[j].MachineID == hours[i].MachineID {
			j++
		}
		out = append(out, aggregate.FoldDaily(hours[i].MachineID, day, hours[i:j]))
		i = j
	}

	return out, nil
}
