package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

var log = logging.Component("query")

// Reader is the subset of the store the planner reads from.
type Reader interface {
	ReadSamples(ctx context.Context, machineID string, startMs, endMs int64) ([]types.Sample, error)
	ReadSummaries(ctx context.Context, tier types.Tier, machineID string, startMs, endMs int64) ([]types.Summary, error)
}

// Result is the answer to one Request.
type Result struct {
	MachineID string `json:"machine_id"`

	// Resolution is the tier actually read.
	Resolution types.Tier `json:"resolution"`

	// Requested echoes the requested resolution ("auto" when empty).
	Requested string `json:"requested"`

	EffectiveStart time.Time `json:"effective_start"`
	EffectiveEnd   time.Time `json:"effective_end"`

	// Widened is true when bucket alignment moved a bound.
	Widened bool `json:"widened"`

	Rows   int      `json:"rows"`
	Series []Series `json:"series"`
}

// Service provides query capabilities over stored data.
type Service struct {
	mu sync.RWMutex

	limits  Limits
	store   Reader
	metrics *metrics.Metrics

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
	ByResolution    [3]int64
}

// New creates a new query service.
func New(cfg *config.Config, store Reader, m *metrics.Metrics) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Service{
		limits: Limits{
			RawMaxSpan:    cfg.Query.RawMaxSpan,
			HourlyMaxSpan: cfg.Query.HourlyMaxSpan,
		},
		store:   store,
		metrics: m,
	}
}

// Query plans req, reads the selected tier and shapes the rows.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	plan, err := PlanRequest(req, s.limits)
	if err != nil {
		s.countError()
		return nil, err
	}

	var series []Series
	var rows int

	switch plan.Tier {
	case types.TierRaw:
		samples, err := s.store.ReadSamples(ctx, req.MachineID, plan.StartMs, plan.EndMs)
		if err != nil {
			s.countError()
			return nil, fmt.Errorf("read samples: %w", err)
		}
		rows = len(samples)
		series = ShapeSamples(samples)
	default:
		summaries, err := s.store.ReadSummaries(ctx, plan.Tier, req.MachineID, plan.StartMs, plan.EndMs)
		if err != nil {
			s.countError()
			return nil, fmt.Errorf("read %s summaries: %w", plan.Tier, err)
		}
		rows = len(summaries)
		series = ShapeSummaries(summaries)
	}

	requested := req.Resolution
	if plan.Auto {
		requested = ResolutionAuto
	}

	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(rows)
	s.stats.ByResolution[plan.Tier]++
	s.mu.Unlock()
	s.metrics.IncQuery(plan.Tier.String())

	log.Debug("query served",
		"machine", req.MachineID,
		"resolution", plan.Tier.String(),
		"auto", plan.Auto,
		"rows", rows)

	if series == nil {
		series = []Series{}
	}

	return &Result{
		MachineID:      req.MachineID,
		Resolution:     plan.Tier,
		Requested:      requested,
		EffectiveStart: plan.EffectiveStart(),
		EffectiveEnd:   plan.EffectiveEnd(),
		Widened:        plan.Widened(req),
		Rows:           rows,
		Series:         series,
	}, nil
}

func (s *Service) countError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted,
		RowsReturned:    s.stats.RowsReturned,
		Errors:          s.stats.Errors,
		Raw:             s.stats.ByResolution[types.TierRaw],
		Hourly:          s.stats.ByResolution[types.TierHourly],
		Daily:           s.stats.ByResolution[types.TierDaily],
	}
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64 `json:"queries_executed"`
	RowsReturned    int64 `json:"rows_returned"`
	Errors          int64 `json:"errors"`
	Raw             int64 `json:"raw"`
	Hourly          int64 `json:"hourly"`
	Daily           int64 `json:"daily"`
}
