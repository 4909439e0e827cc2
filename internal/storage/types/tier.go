package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a storage resolution.
type Tier int

const (
	// TierRaw stores samples exactly as pushed by the machines.
	TierRaw Tier = iota

	// TierHourly stores one summary per machine per UTC hour.
	TierHourly

	// TierDaily stores one summary per machine per UTC day.
	TierDaily
)

// Bucket widths in milliseconds.
const (
	HourMs = int64(time.Hour / time.Millisecond)
	DayMs  = 24 * HourMs
)

// Auto-selection limits.
const (
	RawMaxSpan    = 24 * time.Hour
	HourlyMaxSpan = 90 * 24 * time.Hour
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierRaw:
		return "raw"
	case TierHourly:
		return "hourly"
	case TierDaily:
		return "daily"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// MarshalText renders the tier by name in JSON and YAML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Duration returns the bucket width. Raw rows are not bucketed.
func (t Tier) Duration() time.Duration {
	switch t {
	case TierHourly:
		return time.Hour
	case TierDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// BucketMs returns the bucket width in milliseconds.
func (t Tier) BucketMs() int64 {
	return int64(t.Duration() / time.Millisecond)
}

// Next returns the tier that rolls up from this one.
// Returns the same tier if it's the highest tier.
func (t Tier) Next() Tier {
	switch t {
	case TierRaw:
		return TierHourly
	case TierHourly:
		return TierDaily
	default:
		return t
	}
}

// Previous returns the source tier of this one's rollup.
// Returns the same tier if it's the lowest tier.
func (t Tier) Previous() Tier {
	switch t {
	case TierDaily:
		return TierHourly
	case TierHourly:
		return TierRaw
	default:
		return t
	}
}

// IsSummary reports whether rows of this tier are Summary rows.
func (t Tier) IsSummary() bool {
	return t == TierHourly || t == TierDaily
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierRaw && t <= TierDaily
}

// TruncateMs truncates an epoch-ms timestamp down to its bucket start.
// Raw timestamps are returned unchanged.
func (t Tier) TruncateMs(ts int64) int64 {
	width := t.BucketMs()
	if width == 0 {
		return ts
	}
	bucket := ts - ts%width
	if ts%width < 0 {
		bucket -= width
	}
	return bucket
}

// CeilMs rounds an epoch-ms timestamp up to the next bucket boundary
// unless it already sits on one.
func (t Tier) CeilMs(ts int64) int64 {
	start := t.TruncateMs(ts)
	if start == ts {
		return ts
	}
	return start + t.BucketMs()
}

// EstimatedRowBytes is the approximate on-disk width of one row, used to
// derive storage estimates from row counts.
func (t Tier) EstimatedRowBytes() int64 {
	const machineID = 24
	switch t {
	case TierRaw:
		// timestamp + one DOUBLE per field
		return machineID + 8 + int64(NumFields)*8
	case TierHourly, TierDaily:
		// bucket + count + p95 + per-field stats
		width := int64(machineID + 8 + 8 + 8)
		for _, f := range AllFields() {
			width += int64(len(f.Stats())) * 8
		}
		return width
	default:
		return 0
	}
}

// ParseTier parses a string into a Tier. "fine" is accepted for raw.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "fine":
		return TierRaw, nil
	case "hourly", "hour":
		return TierHourly, nil
	case "daily", "day":
		return TierDaily, nil
	default:
		return TierRaw, fmt.Errorf("unknown tier: %s", s)
	}
}

// AllTiers returns all available tiers in order.
func AllTiers() []Tier {
	return []Tier{TierRaw, TierHourly, TierDaily}
}

// SelectTier picks the coarsest tier that keeps the precision a span
// implies: spans up to rawMax read raw rows, up to hourlyMax hourly rows,
// anything longer daily rows.
func SelectTier(span, rawMax, hourlyMax time.Duration) Tier {
	switch {
	case span <= rawMax:
		return TierRaw
	case span <= hourlyMax:
		return TierHourly
	default:
		return TierDaily
	}
}
