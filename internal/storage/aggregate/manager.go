package aggregate

import (
	"sort"
	"sync"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Manager routes the samples of one hour bucket to one Rollup per machine.
// The hourly job streams a whole bucket through a Manager and then writes
// one summary per machine.
type Manager struct {
	mu sync.Mutex

	bucketStart int64
	accuracy    float64

	// rollups: machine id -> rollup
	rollups map[string]*Rollup

	// Statistics
	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	Machines         int
	SamplesProcessed int64
	SamplesIgnored   int64
}

// NewManager creates a manager for the hour starting at bucketStart.
func NewManager(bucketStart int64, accuracy float64) *Manager {
	return &Manager{
		bucketStart: types.TierHourly.TruncateMs(bucketStart),
		accuracy:    accuracy,
		rollups:     make(map[string]*Rollup),
	}
}

// Process adds a sample to the rollup of its machine.
func (m *Manager) Process(sample *types.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rollups[sample.MachineID]
	if !ok {
		r = NewRollup(sample.MachineID, m.bucketStart, m.accuracy)
		m.rollups[sample.MachineID] = r
	}

	if r.Add(sample) {
		m.stats.SamplesProcessed++
	} else {
		m.stats.SamplesIgnored++
	}
}

// Results returns one summary per machine that contributed samples,
// ordered by machine id.
func (m *Manager) Results() []types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.rollups))
	for id, r := range m.rollups {
		if !r.IsEmpty() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]types.Summary, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.rollups[id].Result())
	}
	return out
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Machines = len(m.rollups)
	return stats
}

// BucketStart returns the hour this manager covers.
func (m *Manager) BucketStart() int64 {
	return m.bucketStart
}
