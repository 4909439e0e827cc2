package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/rigwatch/internal/constants"
	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/live"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/registry"
	"github.com/xtxerr/rigwatch/internal/storage/compaction"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/export"
	"github.com/xtxerr/rigwatch/internal/storage/ingestion"
	"github.com/xtxerr/rigwatch/internal/storage/query"
	"github.com/xtxerr/rigwatch/internal/storage/retention"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/storage/wal"
	"github.com/xtxerr/rigwatch/internal/store"
)

var log = logging.Component("storage")

// Service is the main storage service that orchestrates all components.
type Service struct {
	config  *config.Config
	store   *store.Store
	metrics *metrics.Metrics

	// ownsStore is true when New opened the store and Stop must close it.
	ownsStore bool

	// Components
	ingestion  *ingestion.Service
	compaction *compaction.Engine
	query      *query.Service
	retention  *retention.Manager
	registry   *registry.Registry
	live       *live.Hub
	exporter   *export.Exporter
	journal    *wal.Writer

	statsGroup singleflight.Group
	now        func() time.Time

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	store   *store.Store
	metrics *metrics.Metrics
	clock   compaction.Clock
	now     func() time.Time
}

// WithStore injects an open store. The caller keeps ownership.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics exports pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces the scheduler clock and the registry time source.
func WithClock(c compaction.Clock) Option {
	return func(o *options) {
		o.clock = c
		o.now = c.Now
	}
}

// New creates a new storage service. Unless a store is injected, the
// DuckDB database at cfg.DatabasePath() is opened.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	owns := false
	if st == nil {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}

		var err error
		st, err = store.New(store.Config{
			DSN:             cfg.DatabasePath(),
			QueryTimeout:    cfg.Store.Timeout,
			InsertChunkSize: cfg.Store.InsertChunkSize,
			MemoryLimit:     cfg.Store.MemoryLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		owns = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()
	if err := st.SeedRetention(ctx, types.RetentionConfig{
		RawDays:    cfg.Retention.RawDays,
		HourlyDays: cfg.Retention.HourlyDays,
		DailyDays:  cfg.Retention.DailyDays,
	}); err != nil {
		if owns {
			st.Close()
		}
		return nil, fmt.Errorf("seed retention: %w", err)
	}

	var (
		journal *wal.Writer
		ingOpts []ingestion.Option
	)
	if cfg.Ingestion.Journal.Enabled {
		j, err := wal.NewWriter(cfg.JournalDir(), wal.Options{
			SyncMode:       cfg.Ingestion.Journal.SyncMode,
			MaxSegmentSize: cfg.Ingestion.Journal.MaxSegmentSize,
		})
		if err != nil {
			if owns {
				st.Close()
			}
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = j
		ingOpts = append(ingOpts, ingestion.WithJournal(j))
	}

	ing := ingestion.New(cfg, st, o.metrics, ingOpts...)
	ret := retention.New(st)

	engineOpts := []compaction.Option{
		compaction.WithPauseChecker(ing.Pressure()),
		compaction.WithMetrics(o.metrics),
	}
	if o.clock != nil {
		engineOpts = append(engineOpts, compaction.WithClock(o.clock))
	}

	reg := registry.New(st, o.metrics)
	reg.SetClock(o.now)

	hub := live.NewHub(o.metrics)

	svcCtx, svcCancel := context.WithCancel(context.Background())

	return &Service{
		config:     cfg,
		store:      st,
		metrics:    o.metrics,
		ownsStore:  owns,
		ingestion:  ing,
		compaction: compaction.New(cfg, st, ret, engineOpts...),
		query:      query.New(cfg, st, o.metrics),
		retention:  ret,
		registry:   reg,
		live:       hub,
		exporter:   export.New(st, export.DefaultOptions()),
		journal:    journal,
		now:        o.now,
		ctx:        svcCtx,
		cancel:     svcCancel,
	}, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts all components.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("storage: %w", errors.ErrAlreadyRunning)
	}

	s.startTime = s.now()

	if err := s.ingestion.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start ingestion: %w", err)
	}

	if s.config.Scheduler.Enabled {
		if err := s.compaction.Start(); err != nil {
			s.ingestion.Stop(context.Background())
			s.running.Store(false)
			return fmt.Errorf("start compaction: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, rollups and retention only run on demand")
	}

	s.wg.Add(1)
	go s.backpressureWorker()

	log.Info("storage started",
		"database", s.config.DatabasePath(),
		"queue_size", s.config.Ingestion.MaxQueueSize,
		"journal", s.journal != nil)

	return nil
}

// Stop stops all components gracefully: the scheduler first, then the
// ingestion queue with a final flush, then the store.
func (s *Service) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	var errs []error

	if err := s.compaction.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop compaction: %w", err))
	}

	if err := s.ingestion.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop ingestion: %w", err))
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	return errors.Join(errs...)
}

// backpressureWorker re-evaluates the queue level once per second so the
// level also drops while no samples arrive.
func (s *Service) backpressureWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.ingestion.Pressure().Check()
		}
	}
}

// =============================================================================
// Ingestion
// =============================================================================

// Batch is one push from a machine: identity fields, an optional metadata
// payload and samples.
type Batch struct {
	MachineID   string          `json:"machine_id"`
	Hostname    string          `json:"hostname,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Samples     []types.Sample  `json:"-"`

	// Sync writes the samples directly in one transaction instead of
	// queueing them.
	Sync bool `json:"sync,omitempty"`
}

// IngestResult reports what Ingest did.
type IngestResult struct {
	Accepted        int    `json:"accepted"`
	Evicted         int    `json:"evicted,omitempty"`
	QueueLevel      string `json:"queue_level,omitempty"`
	Synced          bool   `json:"synced,omitempty"`
	Created         bool   `json:"created,omitempty"`
	MetadataChanged bool   `json:"metadata_changed,omitempty"`
}

// Validate checks the whole batch. Samples without a machine id inherit
// the batch's; samples for another machine are rejected.
func (b *Batch) Validate() error {
	errs := errors.NewValidationErrors()

	if b.MachineID == "" {
		errs.AddMissing("machine_id")
	}

	for i := range b.Samples {
		sm := &b.Samples[i]
		if sm.MachineID == "" {
			sm.MachineID = b.MachineID
		}
		if b.MachineID != "" && sm.MachineID != b.MachineID {
			errs.Add(errors.NewInvalidValue(fmt.Sprintf("samples[%d].machine_id", i), sm.MachineID, "does not match batch machine_id"))
			continue
		}
		if err := sm.Validate(); err != nil {
			errs.Add(fmt.Errorf("samples[%d]: %w: %w", i, errors.ErrInvalidValue, err))
		}
	}

	return errs.Err()
}

// Ingest validates the batch as a whole, registers the machine and then
// queues the samples, or writes them directly when b.Sync is set. A
// rejected batch leaves no trace.
func (s *Service) Ingest(ctx context.Context, b Batch) (IngestResult, error) {
	if !s.running.Load() {
		return IngestResult{}, errors.ErrServiceStopped
	}

	if err := b.Validate(); err != nil {
		return IngestResult{}, err
	}

	reg, err := s.registry.Register(ctx, registry.Registration{
		MachineID:   b.MachineID,
		Hostname:    b.Hostname,
		DisplayName: b.DisplayName,
		Address:     b.Address,
		Metadata:    b.Metadata,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("register machine: %w", err)
	}

	result := IngestResult{
		Created:         reg.Created,
		MetadataChanged: reg.MetadataChanged,
	}

	if len(b.Samples) == 0 {
		return result, nil
	}

	if b.Sync {
		if err := s.store.InsertSamples(ctx, b.Samples); err != nil {
			return result, fmt.Errorf("write batch: %w", err)
		}
		result.Accepted = len(b.Samples)
		result.Synced = true
	} else {
		enq, err := s.ingestion.Enqueue(b.Samples...)
		if err != nil {
			return result, err
		}
		result.Accepted = enq.Accepted
		result.Evicted = enq.Evicted
		result.QueueLevel = enq.Level
	}

	s.live.Publish(b.Samples...)

	return result, nil
}

// Flush writes everything queued so far.
func (s *Service) Flush(ctx context.Context) (int, error) {
	return s.ingestion.Flush(ctx)
}

// =============================================================================
// Query and Export
// =============================================================================

// Query answers a range query.
func (s *Service) Query(ctx context.Context, req query.Request) (*query.Result, error) {
	return s.query.Query(ctx, req)
}

// Export streams the selected rows to w as Parquet.
func (s *Service) Export(ctx context.Context, w io.Writer, req export.Request) (int64, error) {
	return s.exporter.Export(ctx, w, req)
}

// =============================================================================
// Administration
// =============================================================================

// Retention returns the retention windows in effect.
func (s *Service) Retention(ctx context.Context) (types.RetentionConfig, error) {
	return s.store.GetRetention(ctx)
}

// SetRetention replaces the retention windows. The next sweep uses them.
func (s *Service) SetRetention(ctx context.Context, cfg types.RetentionConfig) (types.RetentionConfig, error) {
	if err := s.store.SetRetention(ctx, cfg); err != nil {
		return types.RetentionConfig{}, err
	}
	log.Info("retention changed",
		"raw_days", cfg.RawDays,
		"hourly_days", cfg.HourlyDays,
		"daily_days", cfg.DailyDays)
	return s.store.GetRetention(ctx)
}

// CleanupRequest selects rows of one resolution older than a cutoff.
type CleanupRequest struct {
	Tier      types.Tier
	OlderThan time.Duration
	MachineID string
}

// Cleanup deletes rows older than now minus req.OlderThan.
func (s *Service) Cleanup(ctx context.Context, req CleanupRequest) (retention.CleanupResult, error) {
	if req.OlderThan <= 0 {
		return retention.CleanupResult{}, errors.NewInvalidValue("older_than", req.OlderThan, "must be positive")
	}
	return s.retention.Cleanup(ctx, req.Tier, s.now().Add(-req.OlderThan), req.MachineID)
}

// RunRetention runs the scheduled retention sweep now.
func (s *Service) RunRetention(ctx context.Context) ([]retention.CleanupResult, error) {
	return s.retention.RunCleanup(ctx, s.now())
}

// Reaggregate recomputes summaries over [start, end). An empty resolution
// recomputes hourly first and then daily.
func (s *Service) Reaggregate(ctx context.Context, machineID string, start, end time.Time, resolution string) ([]compaction.RunResult, error) {
	var tiers []types.Tier
	if resolution == "" {
		tiers = []types.Tier{types.TierHourly, types.TierDaily}
	} else {
		tier, err := types.ParseTier(resolution)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", resolution, errors.ErrInvalidResolution)
		}
		tiers = []types.Tier{tier}
	}

	var results []compaction.RunResult
	for _, tier := range tiers {
		res, err := s.compaction.Reaggregate(ctx, machineID, start, end, tier)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// RunRollups runs the hourly and then the daily rollup now.
func (s *Service) RunRollups(ctx context.Context) ([]compaction.RunResult, error) {
	now := s.now()

	hourly, err := s.compaction.RunHourly(ctx, now)
	if err != nil {
		return []compaction.RunResult{hourly}, err
	}
	daily, err := s.compaction.RunDaily(ctx, now)
	return []compaction.RunResult{hourly, daily}, err
}

// =============================================================================
// Statistics and Health
// =============================================================================

// AdminStats is the storage report of the admin API.
type AdminStats struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Uptime      time.Duration     `json:"uptime"`
	Usage       []types.TierStats `json:"usage"`
	Totals      []TierTotal       `json:"totals"`

	Ingestion  ingestion.ServiceStats `json:"ingestion"`
	Compaction compaction.EngineStats `json:"compaction"`
	Query      query.ServiceStats     `json:"query"`
	Retention  retention.Stats        `json:"retention"`
	Live       live.HubStats          `json:"live"`
}

// TierTotal sums one resolution over all machines.
type TierTotal struct {
	Tier           types.Tier    `json:"resolution"`
	Rows           int64         `json:"rows"`
	EstimatedBytes int64         `json:"estimated_bytes"`
	OldestAge      time.Duration `json:"oldest_age"`
}

// Stats builds the storage report. Concurrent callers share one
// computation, which runs under the store timeout rather than the
// cancellation of whichever caller started it.
func (s *Service) Stats(ctx context.Context) (*AdminStats, error) {
	v, err, _ := s.statsGroup.Do("stats", func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Store.Timeout)
		defer cancel()
		return s.buildStats(sctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AdminStats), nil
}

func (s *Service) buildStats(ctx context.Context) (*AdminStats, error) {
	usage, err := s.retention.Usage(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("collect usage: %w", err)
	}

	now := s.now()
	totals := make([]TierTotal, 0, 3)
	for _, tier := range types.AllTiers() {
		t := TierTotal{Tier: tier}
		for _, u := range usage {
			if u.Tier != tier {
				continue
			}
			t.Rows += u.Rows
			t.EstimatedBytes += u.EstimatedBytes
			if age := u.OldestAge(now); age > t.OldestAge {
				t.OldestAge = age
			}
		}
		totals = append(totals, t)
	}

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = now.Sub(s.startTime)
	}

	return &AdminStats{
		GeneratedAt: now,
		Uptime:      uptime,
		Usage:       usage,
		Totals:      totals,
		Ingestion:   s.ingestion.Stats(),
		Compaction:  s.compaction.Stats(),
		Query:       s.query.Stats(),
		Retention:   s.retention.Stats(),
		Live:        s.live.Stats(),
	}, nil
}

// Health is the liveness report of the daemon.
type Health struct {
	Status       string                 `json:"status"`
	Store        string                 `json:"store"`
	Running      bool                   `json:"running"`
	BufferCount  int                    `json:"buffer_count"`
	BufferUsage  float64                `json:"buffer_usage"`
	Backpressure string                 `json:"backpressure"`
	Jobs         []compaction.JobStatus `json:"jobs"`
}

// Health reports store reachability, queue level and job health.
// Status is one of the constants.Health* states.
func (s *Service) Health(ctx context.Context) Health {
	ing := s.ingestion.Stats()
	h := Health{
		Status:       constants.HealthOK,
		Store:        "ok",
		Running:      s.running.Load(),
		BufferCount:  ing.BufferCount,
		BufferUsage:  ing.BufferUsage,
		Backpressure: ing.Backpressure.CurrentLevel,
		Jobs:         s.compaction.Monitor().Snapshot(),
	}

	if err := s.store.Health(ctx); err != nil {
		h.Store = err.Error()
		h.Status = constants.HealthDown
		return h
	}
	if !h.Running {
		h.Status = constants.HealthDown
		return h
	}
	if !s.compaction.Monitor().Healthy() {
		h.Status = constants.HealthDegraded
	}
	return h
}

// =============================================================================
// Accessors
// =============================================================================

// Registry returns the machine registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Live returns the live snapshot hub.
func (s *Service) Live() *live.Hub {
	return s.live
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
