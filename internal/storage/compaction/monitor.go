package compaction

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/rigwatch/internal/constants"
)

// unhealthyAfter is the number of consecutive failed firings after which a
// job reports unhealthy.
const unhealthyAfter = constants.ConsecutiveFailuresForUnhealthy

// JobStatus is the in-memory record of one job.
type JobStatus struct {
	Job               string        `json:"job"`
	Runs              int64         `json:"runs"`
	Failures          int64         `json:"failures"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastRun           time.Time     `json:"last_run,omitempty"`
	LastSuccess       time.Time     `json:"last_success,omitempty"`
	LastDuration      time.Duration `json:"last_duration"`
	LastError         string        `json:"last_error,omitempty"`
	NextRun           time.Time     `json:"next_run,omitempty"`
	Healthy           bool          `json:"healthy"`
}

// JobMonitor tracks the outcome of every job firing.
// JobMonitor is safe for concurrent use.
type JobMonitor struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

// NewJobMonitor creates an empty monitor.
func NewJobMonitor() *JobMonitor {
	return &JobMonitor{jobs: make(map[string]*JobStatus)}
}

func (m *JobMonitor) status(job string) *JobStatus {
	st, ok := m.jobs[job]
	if !ok {
		st = &JobStatus{Job: job, Healthy: true}
		m.jobs[job] = st
	}
	return st
}

// Record stores the outcome of a firing that started at start.
func (m *JobMonitor) Record(job string, start time.Time, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status(job)
	st.Runs++
	st.LastRun = start
	st.LastDuration = d

	if err != nil {
		st.Failures++
		st.ConsecutiveErrors++
		st.LastError = err.Error()
	} else {
		st.ConsecutiveErrors = 0
		st.LastSuccess = start
		st.LastError = ""
	}
	st.Healthy = st.ConsecutiveErrors < unhealthyAfter
}

// SetNextRun records when a job fires next.
func (m *JobMonitor) SetNextRun(job string, next time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status(job).NextRun = next
}

// Get returns the status of one job.
func (m *JobMonitor) Get(job string) (JobStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.jobs[job]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Snapshot returns every job status ordered by name.
func (m *JobMonitor) Snapshot() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for _, st := range m.jobs {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Healthy returns false when any job failed unhealthyAfter times in a row.
func (m *JobMonitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, st := range m.jobs {
		if !st.Healthy {
			return false
		}
	}
	return true
}
