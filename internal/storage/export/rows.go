package export

import (
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// SampleRow is a fine sample in Parquet form. Unreported fields are
// written as nulls.
type SampleRow struct {
	MachineID   string   `parquet:"machine_id,dict,zstd"`
	TimestampMs int64    `parquet:"timestamp_ms,delta"`
	CPULoad     *float64 `parquet:"cpu_load,optional"`
	CPUTemp     *float64 `parquet:"cpu_temp,optional"`
	RAMTotal    *float64 `parquet:"ram_total,optional"`
	RAMUsed     *float64 `parquet:"ram_used,optional"`
	RAMPercent  *float64 `parquet:"ram_percent,optional"`
	SwapTotal   *float64 `parquet:"swap_total,optional"`
	SwapUsed    *float64 `parquet:"swap_used,optional"`
	SwapPercent *float64 `parquet:"swap_percent,optional"`
	GPUUtil     *float64 `parquet:"gpu_util,optional"`
	GPUTemp     *float64 `parquet:"gpu_temp,optional"`
	GPUMemUsed  *float64 `parquet:"gpu_mem_used,optional"`
	GPUMemTotal *float64 `parquet:"gpu_mem_total,optional"`
	NetRxRate   *float64 `parquet:"net_rx_rate,optional"`
	NetTxRate   *float64 `parquet:"net_tx_rate,optional"`
}

// values returns the field slots of the row in catalogue order.
func (r *SampleRow) values() [types.NumFields]**float64 {
	return [types.NumFields]**float64{
		types.FieldCPULoad:     &r.CPULoad,
		types.FieldCPUTemp:     &r.CPUTemp,
		types.FieldRAMTotal:    &r.RAMTotal,
		types.FieldRAMUsed:     &r.RAMUsed,
		types.FieldRAMPercent:  &r.RAMPercent,
		types.FieldSwapTotal:   &r.SwapTotal,
		types.FieldSwapUsed:    &r.SwapUsed,
		types.FieldSwapPercent: &r.SwapPercent,
		types.FieldGPUUtil:     &r.GPUUtil,
		types.FieldGPUTemp:     &r.GPUTemp,
		types.FieldGPUMemUsed:  &r.GPUMemUsed,
		types.FieldGPUMemTotal: &r.GPUMemTotal,
		types.FieldNetRxRate:   &r.NetRxRate,
		types.FieldNetTxRate:   &r.NetTxRate,
	}
}

// SampleToRow converts a Sample to a SampleRow.
func SampleToRow(s *types.Sample) SampleRow {
	row := SampleRow{MachineID: s.MachineID, TimestampMs: s.TimestampMs}
	slots := row.values()
	for f, slot := range slots {
		*slot = s.Values[f]
	}
	return row
}

// RowToSample converts a SampleRow to a Sample.
func RowToSample(r *SampleRow) types.Sample {
	s := types.Sample{MachineID: r.MachineID, TimestampMs: r.TimestampMs}
	for f, slot := range r.values() {
		s.Values[f] = *slot
	}
	return s
}

// GaugeStats are the summary columns of a gauge.
type GaugeStats struct {
	Avg *float64 `parquet:"avg,optional"`
	Min *float64 `parquet:"min,optional"`
	Max *float64 `parquet:"max,optional"`
}

// RateStats are the summary columns of a rate.
type RateStats struct {
	Avg   *float64 `parquet:"avg,optional"`
	Total *float64 `parquet:"total,optional"`
}

// SummaryRow is an hourly or daily summary in Parquet form. Field stats
// are nested groups, e.g. cpu_load.avg.
type SummaryRow struct {
	MachineID   string     `parquet:"machine_id,dict,zstd"`
	Resolution  string     `parquet:"resolution,dict"`
	BucketStart int64      `parquet:"bucket_start,delta"`
	SampleCount int64      `parquet:"sample_count"`
	CPULoadP95  *float64   `parquet:"cpu_load_p95,optional"`
	CPULoad     GaugeStats `parquet:"cpu_load"`
	CPUTemp     GaugeStats `parquet:"cpu_temp"`
	RAMTotal    GaugeStats `parquet:"ram_total"`
	RAMUsed     GaugeStats `parquet:"ram_used"`
	RAMPercent  GaugeStats `parquet:"ram_percent"`
	SwapTotal   GaugeStats `parquet:"swap_total"`
	SwapUsed    GaugeStats `parquet:"swap_used"`
	SwapPercent GaugeStats `parquet:"swap_percent"`
	GPUUtil     GaugeStats `parquet:"gpu_util"`
	GPUTemp     GaugeStats `parquet:"gpu_temp"`
	GPUMemUsed  GaugeStats `parquet:"gpu_mem_used"`
	GPUMemTotal GaugeStats `parquet:"gpu_mem_total"`
	NetRxRate   RateStats  `parquet:"net_rx_rate"`
	NetTxRate   RateStats  `parquet:"net_tx_rate"`
}

func (r *SummaryRow) gauges() map[types.Field]*GaugeStats {
	return map[types.Field]*GaugeStats{
		types.FieldCPULoad:     &r.CPULoad,
		types.FieldCPUTemp:     &r.CPUTemp,
		types.FieldRAMTotal:    &r.RAMTotal,
		types.FieldRAMUsed:     &r.RAMUsed,
		types.FieldRAMPercent:  &r.RAMPercent,
		types.FieldSwapTotal:   &r.SwapTotal,
		types.FieldSwapUsed:    &r.SwapUsed,
		types.FieldSwapPercent: &r.SwapPercent,
		types.FieldGPUUtil:     &r.GPUUtil,
		types.FieldGPUTemp:     &r.GPUTemp,
		types.FieldGPUMemUsed:  &r.GPUMemUsed,
		types.FieldGPUMemTotal: &r.GPUMemTotal,
	}
}

func (r *SummaryRow) rates() map[types.Field]*RateStats {
	return map[types.Field]*RateStats{
		types.FieldNetRxRate: &r.NetRxRate,
		types.FieldNetTxRate: &r.NetTxRate,
	}
}

// SummaryToRow converts a Summary to a SummaryRow.
func SummaryToRow(s *types.Summary) SummaryRow {
	row := SummaryRow{
		MachineID:   s.MachineID,
		Resolution:  s.Tier.String(),
		BucketStart: s.BucketStart,
		SampleCount: s.SampleCount,
		CPULoadP95:  s.CPULoadP95,
	}
	for f, g := range row.gauges() {
		st := s.Fields[f]
		*g = GaugeStats{Avg: st.Avg, Min: st.Min, Max: st.Max}
	}
	for f, r := range row.rates() {
		st := s.Fields[f]
		*r = RateStats{Avg: st.Avg, Total: st.Total}
	}
	return row
}

// RowToSummary converts a SummaryRow to a Summary. An unknown resolution
// name yields the raw tier.
func RowToSummary(r *SummaryRow) types.Summary {
	tier, _ := types.ParseTier(r.Resolution)
	s := types.Summary{
		MachineID:   r.MachineID,
		Tier:        tier,
		BucketStart: r.BucketStart,
		SampleCount: r.SampleCount,
		CPULoadP95:  r.CPULoadP95,
	}
	for f, g := range r.gauges() {
		s.Fields[f] = types.FieldStats{Avg: g.Avg, Min: g.Min, Max: g.Max}
	}
	for f, rt := range r.rates() {
		s.Fields[f] = types.FieldStats{Avg: rt.Avg, Total: rt.Total}
	}
	return s
}
