package types

import "time"

// FieldStats holds the reduced values of one field inside a bucket.
// Gauges fill Avg, Min and Max; rates fill Avg and Total. A nil stat means
// no source row reported the field.
type FieldStats struct {
	Avg   *float64
	Min   *float64
	Max   *float64
	Total *float64
}

// Get returns the value of one stat.
func (fs FieldStats) Get(s Stat) *float64 {
	switch s {
	case StatAvg:
		return fs.Avg
	case StatMin:
		return fs.Min
	case StatMax:
		return fs.Max
	case StatTotal:
		return fs.Total
	default:
		return nil
	}
}

// Set assigns one stat.
func (fs *FieldStats) Set(s Stat, v *float64) {
	switch s {
	case StatAvg:
		fs.Avg = v
	case StatMin:
		fs.Min = v
	case StatMax:
		fs.Max = v
	case StatTotal:
		fs.Total = v
	}
}

// Empty reports whether no stat is set.
func (fs FieldStats) Empty() bool {
	return fs.Avg == nil && fs.Min == nil && fs.Max == nil && fs.Total == nil
}

// Summary is an hourly or daily rollup row for one machine and bucket.
type Summary struct {
	MachineID string
	Tier      Tier

	// BucketStart is aligned to the tier's bucket grid (UTC epoch ms).
	BucketStart int64

	// SampleCount is the number of fine samples folded into the bucket.
	SampleCount int64

	Fields [NumFields]FieldStats

	// CPULoadP95 is the 95th percentile of cpu_load in hourly rows. Daily
	// rows carry the largest hourly p95 of the day, an upper bound.
	CPULoadP95 *float64
}

// BucketStartTime returns the bucket start as a time.Time.
func (s *Summary) BucketStartTime() time.Time {
	return time.UnixMilli(s.BucketStart).UTC()
}

// BucketEnd returns the exclusive bucket end (epoch ms).
func (s *Summary) BucketEnd() int64 {
	return s.BucketStart + s.Tier.BucketMs()
}

// IsEmpty returns true if no samples were aggregated.
func (s *Summary) IsEmpty() bool {
	return s.SampleCount == 0
}

// Key identifies the row inside its tier.
func (s *Summary) Key() SummaryKey {
	return SummaryKey{MachineID: s.MachineID, BucketStart: s.BucketStart}
}

// SummaryKey is the primary key of a summary table.
type SummaryKey struct {
	MachineID   string
	BucketStart int64
}
