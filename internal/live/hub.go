// Package live keeps the most recent sample of every machine in memory for
// the live push channel.
//
// Snapshots are fed from the ingestion path, before samples reach the
// store, so live consumers never wait for a flush.
package live

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Snapshot is the latest reported state of one machine.
type Snapshot struct {
	MachineID   string    `json:"machine_id"`
	TimestampMs int64     `json:"ts"`
	ReceivedAt  time.Time `json:"received_at"`

	// Values holds the reported fields only; unreported fields are absent.
	Values map[string]float64 `json:"values"`
}

// Age returns how old the sample is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.TimestampMs))
}

// NewSnapshot converts a sample.
func NewSnapshot(s *types.Sample, received time.Time) Snapshot {
	values := make(map[string]float64, s.Reported())
	for _, f := range types.AllFields() {
		if v := s.Get(f); v != nil {
			values[f.String()] = *v
		}
	}
	return Snapshot{
		MachineID:   s.MachineID,
		TimestampMs: s.TimestampMs,
		ReceivedAt:  received,
		Values:      values,
	}
}

// Hub caches the latest snapshot per machine.
// Hub is safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	latest   map[string]Snapshot
	watchers map[string]int

	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		latest:   make(map[string]Snapshot),
		watchers: make(map[string]int),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish records samples. Older samples never replace a newer snapshot.
func (h *Hub) Publish(samples ...types.Sample) {
	if len(samples) == 0 {
		return
	}
	received := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range samples {
		s := &samples[i]
		if cur, ok := h.latest[s.MachineID]; ok && cur.TimestampMs > s.TimestampMs {
			continue
		}
		h.latest[s.MachineID] = NewSnapshot(s, received)
	}
}

// Latest returns the snapshot of one machine.
func (h *Hub) Latest(machineID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[machineID]
	return s, ok
}

// All returns every snapshot ordered by machine id.
func (h *Hub) All() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Snapshot, 0, len(h.latest))
	for _, s := range h.latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}

// Forget drops the snapshot of a machine.
func (h *Hub) Forget(machineID string) {
	h.mu.Lock()
	delete(h.latest, machineID)
	h.mu.Unlock()
}

// Watch registers a live consumer of machineID. The returned func
// unregisters it and must be called exactly once.
func (h *Hub) Watch(machineID string) func() {
	h.mu.Lock()
	h.watchers[machineID]++
	h.mu.Unlock()
	h.metrics.AddLiveSubscribers(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.watchers[machineID]--; h.watchers[machineID] <= 0 {
				delete(h.watchers, machineID)
			}
			h.mu.Unlock()
			h.metrics.AddLiveSubscribers(-1)
		})
	}
}

// Watchers returns the number of live consumers per machine.
func (h *Hub) Watchers() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.watchers))
	for id, n := range h.watchers {
		out[id] = n
	}
	return out
}

// Stats returns hub statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.watchers {
		n += c
	}
	return HubStats{Machines: len(h.latest), Watchers: n}
}

// HubStats holds hub statistics.
type HubStats struct {
	Machines int `json:"machines"`
	Watchers int `json:"watchers"`
}
