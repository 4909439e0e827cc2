// Package backpressure derives a pressure level from ingestion queue usage.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rigwatch/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - queue filling up, flush eagerly.
	LevelWarning

	// LevelCritical - flush eagerly and postpone rollup jobs.
	LevelCritical

	// LevelEmergency - queue about to overwrite its oldest samples.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// UsageSource reports how full a queue is, 0.0 to 1.0.
type UsageSource interface {
	UsageRatio() float64
}

// Controller tracks the backpressure level of one queue.
type Controller struct {
	mu sync.RWMutex

	config config.BackpressureConfig
	source UsageSource
	now    func() time.Time

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	SamplesDropped int64
}

// New creates a new backpressure controller.
func New(cfg *config.Config, source UsageSource) *Controller {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Controller{
		config: cfg.Backpressure,
		source: source,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for the cooldown.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetOnLevelChange sets the callback for level changes.
// The callback runs with the controller lock held and must not call back
// into the controller.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates queue usage and updates the level.
// It is called after every enqueue and flush.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	newLevel := c.determineLevel(c.source.UsageRatio())
	if newLevel == c.lastLevel {
		return newLevel
	}

	// Going up is immediate, going down waits for the cooldown.
	if newLevel < c.lastLevel && !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Recovery.Cooldown {
		return c.lastLevel
	}

	c.lastCheck = now
	c.setLevel(newLevel)
	return newLevel
}

// determineLevel returns the level usage implies. Levels at or below the
// current one are left only once usage falls hysteresis below their
// threshold, so a single step can drop straight from emergency to normal.
func (c *Controller) determineLevel(usage float64) Level {
	for l := LevelEmergency; l > LevelNormal; l-- {
		threshold := c.threshold(l)
		if l <= c.lastLevel {
			threshold -= c.config.Recovery.Hysteresis
		}
		if usage >= threshold {
			return l
		}
	}
	return LevelNormal
}

func (c *Controller) threshold(l Level) float64 {
	switch l {
	case LevelEmergency:
		return c.config.Thresholds.Emergency
	case LevelCritical:
		return c.config.Thresholds.Critical
	default:
		return c.config.Thresholds.Warning
	}
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldFlushNow returns true if the queue should be flushed without
// waiting for the next interval.
func (c *Controller) ShouldFlushNow() bool {
	return c.CurrentLevel() >= LevelWarning
}

// ShouldPauseCompaction returns true if rollup jobs should wait.
func (c *Controller) ShouldPauseCompaction() bool {
	return c.CurrentLevel() >= LevelCritical
}

// RecordDrop records that n samples were discarded by the queue.
func (c *Controller) RecordDrop(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.stats.SamplesDropped += int64(n)
	c.mu.Unlock()
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel().String(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		SamplesDropped: c.stats.SamplesDropped,
		QueueUsage:     c.source.UsageRatio(),
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   string  `json:"level"`
	LevelChanges   int64   `json:"level_changes"`
	WarningCount   int64   `json:"warning_count"`
	CriticalCount  int64   `json:"critical_count"`
	EmergencyCount int64   `json:"emergency_count"`
	SamplesDropped int64   `json:"samples_dropped"`
	QueueUsage     float64 `json:"queue_usage"`
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
