// Package compaction runs the scheduled rollup and retention jobs.
//
// The hourly job rolls fine samples into hourly summaries, the daily job
// folds hourly summaries into daily summaries and the retention job deletes
// expired rows. Each job has its own timer and may overlap with the others.
// Progress of the rollup jobs is kept in persisted watermarks so missed
// firings are caught up, within a bounded window, on the next firing.
package compaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/retention"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

var log = logging.Component("compaction")

// Job names.
const (
	JobHourly    = "hourly"
	JobDaily     = "daily"
	JobRetention = "retention"
)

// Store is the subset of the store the engine needs.
type Store interface {
	ScanSamples(ctx context.Context, machineID string, startMs, endMs int64, fn func(*types.Sample) error) error
	ReadSummaries(ctx context.Context, tier types.Tier, machineID string, startMs, endMs int64) ([]types.Summary, error)
	UpsertSummaries(ctx context.Context, tier types.Tier, summaries []types.Summary) error
	Watermark(ctx context.Context, key string) (int64, error)
	SetWatermark(ctx context.Context, key string, nextBucketMs int64) error
}

// PauseChecker reports whether rollups should yield to ingestion.
type PauseChecker interface {
	ShouldPauseCompaction() bool
}

// Engine owns the job timers.
type Engine struct {
	config    config.SchedulerConfig
	accuracy  float64
	store     Store
	retention *retention.Manager
	pause     PauseChecker
	metrics   *metrics.Metrics
	monitor   *JobMonitor
	clock     Clock

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats
}

// Stats holds rollup statistics.
type Stats struct {
	HourlyBuckets    atomic.Int64
	DailyBuckets     atomic.Int64
	SummariesWritten atomic.Int64
	MachineErrors    atomic.Int64
	SkippedBuckets   atomic.Int64
	PausedFirings    atomic.Int64
	Reaggregations   atomic.Int64
	RetentionDeletes atomic.Int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPauseChecker lets rollups skip firings while ingestion is under
// pressure.
func WithPauseChecker(p PauseChecker) Option {
	return func(e *Engine) { e.pause = p }
}

// WithMetrics exports job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a new engine.
func New(cfg *config.Config, store Store, ret *retention.Manager, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:    cfg.Scheduler,
		accuracy:  cfg.Query.PercentileAccuracy,
		store:     store,
		retention: ret,
		monitor:   NewJobMonitor(),
		clock:     realClock{},
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// =============================================================================
// Lifecycle
// =============================================================================

type jobSpec struct {
	name   string
	period time.Duration
	offset time.Duration
	run    func(ctx context.Context, now time.Time) error
}

func (e *Engine) jobs() []jobSpec {
	return []jobSpec{
		{
			name:   JobHourly,
			period: time.Hour,
			offset: e.config.HourlyDelay,
			run: func(ctx context.Context, now time.Time) error {
				_, err := e.RunHourly(ctx, now)
				return err
			},
		},
		{
			name:   JobDaily,
			period: 24 * time.Hour,
			offset: e.config.DailyDelay,
			run: func(ctx context.Context, now time.Time) error {
				_, err := e.RunDaily(ctx, now)
				return err
			},
		},
		{
			name:   JobRetention,
			period: 24 * time.Hour,
			offset: e.config.RetentionOffset,
			run:    e.runRetention,
		},
	}
}

// Start starts one timer loop per job.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("compaction: %w", errors.ErrAlreadyRunning)
	}

	for _, job := range e.jobs() {
		e.wg.Add(1)
		go e.loop(job)
	}

	log.Info("scheduler started",
		"hourly_delay", e.config.HourlyDelay,
		"daily_delay", e.config.DailyDelay,
		"retention_offset", e.config.RetentionOffset)

	return nil
}

// Stop stops the timers and waits for running firings, bounded by ctx.
// Running firings are cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		log.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// loop fires job at every period boundary plus offset.
func (e *Engine) loop(job jobSpec) {
	defer e.wg.Done()

	for {
		now := e.clock.Now()
		next := nextFire(now, job.period, job.offset)
		e.monitor.SetNextRun(job.name, next)

		select {
		case <-e.ctx.Done():
			return
		case <-e.clock.After(next.Sub(now)):
			e.fire(job)
		}
	}
}

// fire runs one firing under a timeout equal to the job period.
func (e *Engine) fire(job jobSpec) {
	start := e.clock.Now()

	ctx, cancel := context.WithTimeout(e.ctx, job.period)
	defer cancel()

	err := e.executeWithRecovery(ctx, job, start)
	elapsed := e.clock.Now().Sub(start)

	result := "success"
	if err != nil {
		result = "error"
		log.Error("job failed", "job", job.name, "duration", elapsed, "error", err)
	} else {
		log.Debug("job completed", "job", job.name, "duration", elapsed)
	}

	e.monitor.Record(job.name, start, elapsed, err)
	e.metrics.ObserveJob(job.name, result, elapsed)
}

// executeWithRecovery converts a panic in a job into an error.
func (e *Engine) executeWithRecovery(ctx context.Context, job jobSpec, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job", "job", job.name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return job.run(logging.ContextWithJob(ctx, job.name), now)
}

func (e *Engine) runRetention(ctx context.Context, now time.Time) error {
	if e.retention == nil {
		return nil
	}

	results, err := e.retention.RunCleanup(ctx, now)
	for _, r := range results {
		e.stats.RetentionDeletes.Add(r.Deleted)
	}
	return err
}

// Monitor returns the job monitor.
func (e *Engine) Monitor() *JobMonitor {
	return e.monitor
}

// IsRunning returns whether the engine is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Stats returns current statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Running:          e.running.Load(),
		HourlyBuckets:    e.stats.HourlyBuckets.Load(),
		DailyBuckets:     e.stats.DailyBuckets.Load(),
		SummariesWritten: e.stats.SummariesWritten.Load(),
		MachineErrors:    e.stats.MachineErrors.Load(),
		SkippedBuckets:   e.stats.SkippedBuckets.Load(),
		PausedFirings:    e.stats.PausedFirings.Load(),
		Reaggregations:   e.stats.Reaggregations.Load(),
		RetentionDeletes: e.stats.RetentionDeletes.Load(),
		Jobs:             e.monitor.Snapshot(),
	}
}

// EngineStats holds engine statistics.
type EngineStats struct {
	Running          bool        `json:"running"`
	HourlyBuckets    int64       `json:"hourly_buckets"`
	DailyBuckets     int64       `json:"daily_buckets"`
	SummariesWritten int64       `json:"summaries_written"`
	MachineErrors    int64       `json:"machine_errors"`
	SkippedBuckets   int64       `json:"skipped_buckets"`
	PausedFirings    int64       `json:"paused_firings"`
	Reaggregations   int64       `json:"reaggregations"`
	RetentionDeletes int64       `json:"retention_deletes"`
	Jobs             []JobStatus `json:"jobs"`
}
