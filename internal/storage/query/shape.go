package query

import "github.com/xtxerr/rigwatch/internal/storage/types"

// Point is one entry of a series. Raw points fill Value; summary points
// fill the stats of the field kind plus Count.
type Point struct {
	TimestampMs int64    `json:"ts"`
	Value       *float64 `json:"value,omitempty"`
	Avg         *float64 `json:"avg,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Total       *float64 `json:"total,omitempty"`
	Count       int64    `json:"count,omitempty"`
}

// Series is the time series of one field, ascending by timestamp.
type Series struct {
	Field  string  `json:"field"`
	Kind   string  `json:"kind"`
	Points []Point `json:"points"`
}

// ShapeSamples turns raw rows into one series per reported field.
// Null values are omitted, and fields no row reported are left out.
func ShapeSamples(samples []types.Sample) []Series {
	var points [types.NumFields][]Point
	for i := range samples {
		s := &samples[i]
		for _, f := range types.AllFields() {
			if v := s.Get(f); v != nil {
				points[f] = append(points[f], Point{TimestampMs: s.TimestampMs, Value: v})
			}
		}
	}
	return collect(points)
}

// ShapeSummaries turns hourly or daily rows into one series per field.
func ShapeSummaries(summaries []types.Summary) []Series {
	var points [types.NumFields][]Point
	for i := range summaries {
		sum := &summaries[i]
		for _, f := range types.AllFields() {
			st := sum.Fields[f]
			if st.Empty() {
				continue
			}
			points[f] = append(points[f], Point{
				TimestampMs: sum.BucketStart,
				Avg:         st.Avg,
				Min:         st.Min,
				Max:         st.Max,
				Total:       st.Total,
				Count:       sum.SampleCount,
			})
		}
	}

	series := collect(points)

	var p95 []Point
	for i := range summaries {
		if v := summaries[i].CPULoadP95; v != nil {
			p95 = append(p95, Point{TimestampMs: summaries[i].BucketStart, Value: v, Count: summaries[i].SampleCount})
		}
	}
	if len(p95) > 0 {
		series = append(series, Series{Field: FieldCPULoadP95, Kind: types.KindGauge.String(), Points: p95})
	}

	return series
}

// FieldCPULoadP95 names the percentile series of summary results.
const FieldCPULoadP95 = "cpu_load_p95"

func collect(points [types.NumFields][]Point) []Series {
	var out []Series
	for _, f := range types.AllFields() {
		if len(points[f]) == 0 {
			continue
		}
		out = append(out, Series{
			Field:  f.String(),
			Kind:   f.Kind().String(),
			Points: points[f],
		})
	}
	return out
}
