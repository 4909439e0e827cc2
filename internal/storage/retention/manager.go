// Package retention deletes rows that fell out of their tier's retention
// window.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

var log = logging.Component("retention")

// Store is the subset of the store the manager needs.
type Store interface {
	GetRetention(ctx context.Context) (types.RetentionConfig, error)
	DeleteOlderThan(ctx context.Context, tier types.Tier, cutoffMs int64, machineID string) (int64, error)
	TierStats(ctx context.Context, tier types.Tier, machineID string) ([]types.TierStats, error)
}

// Manager handles scheduled and manual cleanup of expired rows.
type Manager struct {
	mu    sync.Mutex
	store Store
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime time.Time
	Runs        int64
	RowsDeleted int64
	Errors      int64
}

// CleanupResult holds the result of cleaning one tier.
type CleanupResult struct {
	Tier      types.Tier `json:"resolution"`
	MachineID string     `json:"machine,omitempty"`
	CutoffMs  int64      `json:"cutoff_ms"`
	Deleted   int64      `json:"deleted"`

	// Skipped is true when the tier has no retention window.
	Skipped bool `json:"skipped,omitempty"`
}

// New creates a new retention manager.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// RunCleanup reads the retention windows from the store and, for every tier
// with a window, deletes rows of all machines older than now minus the
// window. Tiers are processed independently; the first store failure stops
// the run and is returned together with the results so far.
func (m *Manager) RunCleanup(ctx context.Context, now time.Time) ([]CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = now
	m.stats.Runs++

	cfg, err := m.store.GetRetention(ctx)
	if err != nil {
		m.stats.Errors++
		return nil, fmt.Errorf("read retention config: %w", err)
	}

	var results []CleanupResult
	for _, tier := range types.AllTiers() {
		window := cfg.Window(tier)
		if window <= 0 {
			results = append(results, CleanupResult{Tier: tier, Skipped: true})
			continue
		}

		result, err := m.cleanup(ctx, tier, now.Add(-window), "")
		if err != nil {
			m.stats.Errors++
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

// Cleanup deletes rows of one tier older than cutoff, for one machine or all
// machines when machineID is empty. It ignores the configured windows.
func (m *Manager) Cleanup(ctx context.Context, tier types.Tier, cutoff time.Time, machineID string) (CleanupResult, error) {
	if !tier.Valid() {
		return CleanupResult{}, fmt.Errorf("cleanup: unknown resolution %d", tier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.cleanup(ctx, tier, cutoff, machineID)
	if err != nil {
		m.stats.Errors++
	}
	return result, err
}

func (m *Manager) cleanup(ctx context.Context, tier types.Tier, cutoff time.Time, machineID string) (CleanupResult, error) {
	result := CleanupResult{
		Tier:      tier,
		MachineID: machineID,
		CutoffMs:  cutoff.UnixMilli(),
	}

	n, err := m.store.DeleteOlderThan(ctx, tier, result.CutoffMs, machineID)
	if err != nil {
		return result, fmt.Errorf("delete %s rows before %s: %w", tier, cutoff.UTC().Format(time.RFC3339), err)
	}
	result.Deleted = n
	m.stats.RowsDeleted += n

	if n > 0 {
		log.Info("deleted expired rows",
			"resolution", tier.String(),
			"machine", machineID,
			"cutoff", cutoff.UTC().Format(time.RFC3339),
			"rows", n)
	}

	return result, nil
}

// Usage returns per-machine row statistics for every tier.
func (m *Manager) Usage(ctx context.Context, machineID string) ([]types.TierStats, error) {
	var out []types.TierStats
	for _, tier := range types.AllTiers() {
		stats, err := m.store.TierStats(ctx, tier, machineID)
		if err != nil {
			return nil, fmt.Errorf("%s stats: %w", tier, err)
		}
		out = append(out, stats...)
	}
	return out, nil
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
