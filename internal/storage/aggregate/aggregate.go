// Package aggregate reduces fine samples into hourly summaries and hourly
// summaries into daily summaries.
//
// Both reducers are pure: the same input always yields the same summary, so
// recomputing a bucket and overwriting the stored row is always safe.
package aggregate

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// DefaultAccuracy is the relative accuracy of the cpu_load p95 sketch.
const DefaultAccuracy = 0.01

// fieldAccumulator keeps running statistics of one field. Null values are
// never added, so count can be lower than the bucket's sample count.
type fieldAccumulator struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (f *fieldAccumulator) add(v float64) {
	if f.count == 0 {
		f.min = v
		f.max = v
	} else {
		f.min = math.Min(f.min, v)
		f.max = math.Max(f.max, v)
	}
	f.count++
	f.sum += v
}

// stats renders the accumulator for a field kind. An accumulator that never
// saw a value renders as all-null.
func (f *fieldAccumulator) stats(kind types.Kind) types.FieldStats {
	if f.count == 0 {
		return types.FieldStats{}
	}

	avg := f.sum / float64(f.count)
	switch kind {
	case types.KindRate:
		return types.FieldStats{
			Avg:   types.Float(avg),
			Total: types.Float(f.sum),
		}
	default:
		return types.FieldStats{
			Avg: types.Float(avg),
			Min: types.Float(f.min),
			Max: types.Float(f.max),
		}
	}
}

// =============================================================================
// Hourly Rollup
// =============================================================================

// Rollup accumulates the fine samples of one machine in one hour bucket.
// A Rollup is not safe for concurrent use.
type Rollup struct {
	machineID   string
	bucketStart int64
	bucketEnd   int64

	count  int64
	fields [types.NumFields]fieldAccumulator

	// sketch tracks cpu_load for the p95; nil if it could not be created.
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// NewRollup creates a Rollup for the hour starting at bucketStart.
func NewRollup(machineID string, bucketStart int64, accuracy float64) *Rollup {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}

	r := &Rollup{
		machineID:   machineID,
		bucketStart: bucketStart,
		bucketEnd:   bucketStart + types.HourMs,
		accuracy:    accuracy,
	}

	if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		r.sketch = sketch
	}

	return r
}

// Add folds a sample into the rollup. Samples of other machines or outside
// [bucketStart, bucketStart+1h) are ignored and reported as false.
func (r *Rollup) Add(s *types.Sample) bool {
	if s.MachineID != r.machineID || s.TimestampMs < r.bucketStart || s.TimestampMs >= r.bucketEnd {
		return false
	}

	r.count++
	for i, v := range s.Values {
		if v == nil {
			continue
		}
		r.fields[i].add(*v)
	}

	if cpu := s.Get(types.FieldCPULoad); cpu != nil && r.sketch != nil {
		r.sketch.Add(*cpu)
	}

	return true
}

// Count returns the number of samples added.
func (r *Rollup) Count() int64 {
	return r.count
}

// IsEmpty returns true if no samples have been added.
func (r *Rollup) IsEmpty() bool {
	return r.count == 0
}

// Result returns the hourly summary.
func (r *Rollup) Result() types.Summary {
	sum := types.Summary{
		MachineID:   r.machineID,
		Tier:        types.TierHourly,
		BucketStart: r.bucketStart,
		SampleCount: r.count,
	}

	for _, f := range types.AllFields() {
		sum.Fields[f] = r.fields[f].stats(f.Kind())
	}

	if r.sketch != nil && r.fields[types.FieldCPULoad].count > 0 {
		if p95, err := r.sketch.GetValueAtQuantile(0.95); err == nil {
			sum.CPULoadP95 = types.Float(p95)
		}
	}

	return sum
}

// =============================================================================
// Daily Fold
// =============================================================================

// FoldDaily reduces the hourly summaries of one machine in one day.
//
// sample_count is the sum of the hourly counts. avg is the mean of the
// non-null hourly avgs weighted by each hour's sample_count, not by how many
// samples reported the field; min and max are taken over the
// hourly min and max; total is the sum of hourly totals. The daily p95 is
// the maximum hourly p95, an upper bound of the true daily p95.
func FoldDaily(machineID string, dayStart int64, hours []types.Summary) types.Summary {
	sum := types.Summary{
		MachineID:   machineID,
		Tier:        types.TierDaily,
		BucketStart: dayStart,
	}
	dayEnd := dayStart + types.DayMs

	type weighted struct {
		weight    int64
		weightSum float64
		min, max  *float64
		total     *float64
	}
	var acc [types.NumFields]weighted

	for i := range hours {
		h := &hours[i]
		if h.MachineID != machineID || h.BucketStart < dayStart || h.BucketStart >= dayEnd {
			continue
		}

		sum.SampleCount += h.SampleCount

		for _, f := range types.AllFields() {
			st := h.Fields[f]
			a := &acc[f]

			if st.Avg != nil && h.SampleCount > 0 {
				a.weight += h.SampleCount
				a.weightSum += *st.Avg * float64(h.SampleCount)
			}
			a.min = minPtr(a.min, st.Min)
			a.max = maxPtr(a.max, st.Max)
			if st.Total != nil {
				a.total = types.Float(valueOr(a.total) + *st.Total)
			}
		}

		sum.CPULoadP95 = maxPtr(sum.CPULoadP95, h.CPULoadP95)
	}

	for _, f := range types.AllFields() {
		a := &acc[f]
		var st types.FieldStats
		if a.weight > 0 {
			st.Avg = types.Float(a.weightSum / float64(a.weight))
		}
		switch f.Kind() {
		case types.KindRate:
			st.Total = a.total
		default:
			st.Min = a.min
			st.Max = a.max
		}
		sum.Fields[f] = st
	}

	return sum
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func minPtr(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v < *cur {
		return types.Float(*v)
	}
	return cur
}

func maxPtr(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v > *cur {
		return types.Float(*v)
	}
	return cur
}
