package types

import (
	"math"
	"testing"
	"time"
)

func TestSampleTimestampTime(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	s := Sample{
		TimestampMs: now.UnixMilli(),
	}

	if !s.TimestampTime().Equal(now) {
		t.Errorf("expected %v, got %v", now, s.TimestampTime())
	}
}

func TestSampleSetGetClear(t *testing.T) {
	var s Sample

	if s.Get(FieldGPUTemp) != nil {
		t.Fatal("expected unreported field to be nil")
	}

	s.Set(FieldGPUTemp, 0)
	v := s.Get(FieldGPUTemp)
	if v == nil || *v != 0 {
		t.Fatalf("expected reported zero, got %v", v)
	}

	if s.Reported() != 1 {
		t.Errorf("expected 1 reported field, got %d", s.Reported())
	}

	s.Clear(FieldGPUTemp)
	if s.Get(FieldGPUTemp) != nil {
		t.Error("expected nil after Clear")
	}
}

func TestSampleValidate(t *testing.T) {
	valid := Sample{MachineID: "m1", TimestampMs: 1700000000000}
	valid.Set(FieldCPULoad, 42)

	tests := []struct {
		name    string
		mutate  func(s *Sample)
		wantErr bool
	}{
		{"valid", func(s *Sample) {}, false},
		{"missing machine", func(s *Sample) { s.MachineID = "" }, true},
		{"missing timestamp", func(s *Sample) { s.TimestampMs = 0 }, true},
		{"no values", func(s *Sample) { s.Clear(FieldCPULoad) }, true},
		{"percent out of range", func(s *Sample) { s.Set(FieldRAMPercent, 101) }, true},
		{"negative bytes", func(s *Sample) { s.Set(FieldRAMUsed, -1) }, true},
		{"nan", func(s *Sample) { s.Set(FieldCPUTemp, math.NaN()) }, true},
		{"negative temperature allowed", func(s *Sample) { s.Set(FieldCPUTemp, -5) }, false},
		{"zero rate allowed", func(s *Sample) { s.Set(FieldNetRxRate, 0) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFieldCatalogue(t *testing.T) {
	if len(AllFields()) != int(NumFields) {
		t.Fatalf("expected %d fields, got %d", NumFields, len(AllFields()))
	}

	for _, f := range AllFields() {
		parsed, ok := ParseField(f.String())
		if !ok || parsed != f {
			t.Errorf("ParseField(%s) = %v, %v", f, parsed, ok)
		}
	}

	if FieldNetRxRate.Kind() != KindRate {
		t.Error("net_rx_rate should be a rate")
	}
	if got := FieldNetTxRate.Stats(); len(got) != 2 || got[1] != StatTotal {
		t.Errorf("rate stats = %v", got)
	}
	if got := FieldCPULoad.Stats(); len(got) != 3 || got[1] != StatMin || got[2] != StatMax {
		t.Errorf("gauge stats = %v", got)
	}
	if FieldCPULoad.Column(StatMax) != "cpu_load_max" {
		t.Errorf("unexpected column %s", FieldCPULoad.Column(StatMax))
	}
	if _, ok := ParseField("fan_speed"); ok {
		t.Error("unknown field should not parse")
	}
}

func TestFieldStatsGetSet(t *testing.T) {
	var fs FieldStats
	if !fs.Empty() {
		t.Fatal("zero FieldStats should be empty")
	}

	fs.Set(StatTotal, Float(12))
	if fs.Get(StatTotal) == nil || *fs.Get(StatTotal) != 12 {
		t.Errorf("expected total 12, got %v", fs.Get(StatTotal))
	}
	if fs.Empty() {
		t.Error("expected non-empty")
	}
}

func TestTierString(t *testing.T) {
	tests := []struct {
		tier     Tier
		expected string
	}{
		{TierRaw, "raw"},
		{TierHourly, "hourly"},
		{TierDaily, "daily"},
	}

	for _, tt := range tests {
		if tt.tier.String() != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, tt.tier.String())
		}
	}
}

func TestTierDuration(t *testing.T) {
	tests := []struct {
		tier     Tier
		expected time.Duration
	}{
		{TierRaw, 0},
		{TierHourly, time.Hour},
		{TierDaily, 24 * time.Hour},
	}

	for _, tt := range tests {
		if tt.tier.Duration() != tt.expected {
			t.Errorf("tier %s: expected %v, got %v", tt.tier, tt.expected, tt.tier.Duration())
		}
	}
}

func TestTierNextPrevious(t *testing.T) {
	if TierRaw.Next() != TierHourly || TierHourly.Next() != TierDaily || TierDaily.Next() != TierDaily {
		t.Error("unexpected Next chain")
	}
	if TierDaily.Previous() != TierHourly || TierHourly.Previous() != TierRaw || TierRaw.Previous() != TierRaw {
		t.Error("unexpected Previous chain")
	}
}

func TestTierTruncateMs(t *testing.T) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	ts := base + 13*HourMs + 27*60*1000 + 5123

	tests := []struct {
		tier     Tier
		expected int64
	}{
		{TierRaw, ts},
		{TierHourly, base + 13*HourMs},
		{TierDaily, base},
	}

	for _, tt := range tests {
		if got := tt.tier.TruncateMs(ts); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.tier, tt.expected, got)
		}
	}
}

func TestTierCeilMs(t *testing.T) {
	hour := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC).UnixMilli()

	if got := TierHourly.CeilMs(hour); got != hour {
		t.Errorf("aligned timestamp should stay, got %d", got)
	}
	if got := TierHourly.CeilMs(hour + 1); got != hour+HourMs {
		t.Errorf("expected next boundary, got %d", got)
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
		wantErr  bool
	}{
		{"raw", TierRaw, false},
		{"fine", TierRaw, false},
		{"hourly", TierHourly, false},
		{"Daily", TierDaily, false},
		{"weekly", TierRaw, true},
		{"", TierRaw, true},
	}

	for _, tt := range tests {
		tier, err := ParseTier(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q): error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && tier != tt.expected {
			t.Errorf("ParseTier(%q): expected %s, got %s", tt.input, tt.expected, tier)
		}
	}
}

func TestEstimatedRowBytes(t *testing.T) {
	if TierRaw.EstimatedRowBytes() <= 0 {
		t.Error("expected positive raw width")
	}
	if TierHourly.EstimatedRowBytes() <= TierRaw.EstimatedRowBytes() {
		t.Error("summary rows should be wider than raw rows")
	}
}

func TestRetentionConfigWindow(t *testing.T) {
	cfg := RetentionConfig{RawDays: 1, HourlyDays: 0, DailyDays: 365}

	if cfg.Window(TierRaw) != 24*time.Hour {
		t.Errorf("raw window = %v", cfg.Window(TierRaw))
	}
	if cfg.Window(TierHourly) != 0 {
		t.Errorf("hourly window should be unlimited, got %v", cfg.Window(TierHourly))
	}
	if cfg.Days(TierDaily) != 365 {
		t.Errorf("daily days = %d", cfg.Days(TierDaily))
	}
}
