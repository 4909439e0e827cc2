package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind tells the reducers how a field is summarized.
type Kind int

const (
	// KindGauge is a point-in-time measurement (load, temperature, bytes in use).
	// Summaries keep avg, min and max.
	KindGauge Kind = iota
	// KindRate is a per-second throughput (bytes/s). Summaries keep avg and total.
	KindRate
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	default:
		return "unknown"
	}
}

// Stat names one column of a summarized field.
type Stat string

const (
	StatAvg   Stat = "avg"
	StatMin   Stat = "min"
	StatMax   Stat = "max"
	StatTotal Stat = "total"
)

// Field identifies one numeric sample column.
type Field int

const (
	FieldCPULoad Field = iota
	FieldCPUTemp
	FieldRAMTotal
	FieldRAMUsed
	FieldRAMPercent
	FieldSwapTotal
	FieldSwapUsed
	FieldSwapPercent
	FieldGPUUtil
	FieldGPUTemp
	FieldGPUMemUsed
	FieldGPUMemTotal
	FieldNetRxRate
	FieldNetTxRate

	NumFields
)

type fieldInfo struct {
	name    string
	kind    Kind
	percent bool
	bytes   bool
}

var fields = [NumFields]fieldInfo{
	FieldCPULoad:     {name: "cpu_load", kind: KindGauge, percent: true},
	FieldCPUTemp:     {name: "cpu_temp", kind: KindGauge},
	FieldRAMTotal:    {name: "ram_total", kind: KindGauge, bytes: true},
	FieldRAMUsed:     {name: "ram_used", kind: KindGauge, bytes: true},
	FieldRAMPercent:  {name: "ram_percent", kind: KindGauge, percent: true},
	FieldSwapTotal:   {name: "swap_total", kind: KindGauge, bytes: true},
	FieldSwapUsed:    {name: "swap_used", kind: KindGauge, bytes: true},
	FieldSwapPercent: {name: "swap_percent", kind: KindGauge, percent: true},
	FieldGPUUtil:     {name: "gpu_util", kind: KindGauge, percent: true},
	FieldGPUTemp:     {name: "gpu_temp", kind: KindGauge},
	FieldGPUMemUsed:  {name: "gpu_mem_used", kind: KindGauge, bytes: true},
	FieldGPUMemTotal: {name: "gpu_mem_total", kind: KindGauge, bytes: true},
	FieldNetRxRate:   {name: "net_rx_rate", kind: KindRate, bytes: true},
	FieldNetTxRate:   {name: "net_tx_rate", kind: KindRate, bytes: true},
}

var fieldByName = func() map[string]Field {
	m := make(map[string]Field, NumFields)
	for f := Field(0); f < NumFields; f++ {
		m[fields[f].name] = f
	}
	return m
}()

// String returns the column name of the field.
func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fields[f].name
}

// Kind returns how the field is summarized.
func (f Field) Kind() Kind {
	return fields[f].kind
}

// Stats returns the summary columns kept for the field, in column order.
func (f Field) Stats() []Stat {
	if fields[f].kind == KindRate {
		return []Stat{StatAvg, StatTotal}
	}
	return []Stat{StatAvg, StatMin, StatMax}
}

// Column returns the summary column name for a stat, e.g. cpu_load_avg.
func (f Field) Column(s Stat) string {
	return fields[f].name + "_" + string(s)
}

// Check validates a reported value for the field.
func (f Field) Check(v float64) error {
	info := fields[f]
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%s: value must be finite", info.name)
	case info.percent && (v < 0 || v > 100):
		return fmt.Errorf("%s: percentage %v out of range [0, 100]", info.name, v)
	case info.bytes && v < 0:
		return fmt.Errorf("%s: value %v must be non-negative", info.name, v)
	}
	return nil
}

// ParseField looks a field up by column name.
func ParseField(name string) (Field, bool) {
	f, ok := fieldByName[name]
	return f, ok
}

// AllFields returns every field in column order.
func AllFields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Sample is one fine-resolution telemetry record for one machine.
// A nil value means the machine did not report that field; it is never
// coerced to zero.
type Sample struct {
	MachineID   string
	TimestampMs int64
	Values      [NumFields]*float64
}

// Get returns the value of f, or nil when it was not reported.
func (s *Sample) Get(f Field) *float64 {
	return s.Values[f]
}

// Set stores a copy of v for f.
func (s *Sample) Set(f Field, v float64) {
	s.Values[f] = &v
}

// Clear marks f as not reported.
func (s *Sample) Clear(f Field) {
	s.Values[f] = nil
}

// Reported returns how many fields carry a value.
func (s *Sample) Reported() int {
	n := 0
	for _, v := range s.Values {
		if v != nil {
			n++
		}
	}
	return n
}

// TimestampTime returns the timestamp as a time.Time.
func (s *Sample) TimestampTime() time.Time {
	return time.UnixMilli(s.TimestampMs).UTC()
}

// Validate reports every problem with the sample.
func (s *Sample) Validate() error {
	var errs []error
	if s.MachineID == "" {
		errs = append(errs, errors.New("machine_id is required"))
	}
	if s.TimestampMs <= 0 {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if s.Reported() == 0 {
		errs = append(errs, errors.New("sample carries no values"))
	}
	for f, v := range s.Values {
		if v == nil {
			continue
		}
		if err := Field(f).Check(*v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}
