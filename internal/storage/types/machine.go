package types

import (
	"encoding/json"
	"time"
)

// Machine is a registry row.
type Machine struct {
	ID          string `json:"id"`
	Hostname    string `json:"hostname,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Address     string `json:"address,omitempty"`

	// LastContactMs only moves forward.
	LastContactMs int64 `json:"last_contact_ms"`
	FirstSeenMs   int64 `json:"first_seen_ms"`
	Active        bool  `json:"active"`

	// Metadata is the static hardware/OS description, replaced wholesale.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// MetadataHash is the xxhash64 fingerprint of Metadata.
	MetadataHash uint64 `json:"metadata_hash,omitempty"`
}

// LastContact returns the last-contact time.
func (m *Machine) LastContact() time.Time {
	return time.UnixMilli(m.LastContactMs).UTC()
}

// RetentionConfig holds the per-tier retention windows in days.
// 0 means data of that tier is never deleted.
type RetentionConfig struct {
	RawDays    int `json:"raw_days"`
	HourlyDays int `json:"hourly_days"`
	DailyDays  int `json:"daily_days"`
}

// Days returns the window for a tier.
func (r RetentionConfig) Days(t Tier) int {
	switch t {
	case TierRaw:
		return r.RawDays
	case TierHourly:
		return r.HourlyDays
	case TierDaily:
		return r.DailyDays
	default:
		return 0
	}
}

// Window returns the window for a tier as a duration; 0 means unlimited.
func (r RetentionConfig) Window(t Tier) time.Duration {
	return time.Duration(r.Days(t)) * 24 * time.Hour
}

// TierStats describes the stored rows of one machine in one tier.
type TierStats struct {
	MachineID      string `json:"machine_id"`
	Tier           Tier   `json:"resolution"`
	Rows           int64  `json:"rows"`
	OldestMs       int64  `json:"oldest_ms,omitempty"`
	NewestMs       int64  `json:"newest_ms,omitempty"`
	EstimatedBytes int64  `json:"estimated_bytes"`
}

// OldestAge returns how old the oldest row is at now.
func (s TierStats) OldestAge(now time.Time) time.Duration {
	if s.Rows == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(s.OldestMs))
}
