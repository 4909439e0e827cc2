package query

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
)

var end = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func TestPlanRequest_AutoResolution(t *testing.T) {
	tests := []struct {
		name string
		span time.Duration
		want types.Tier
	}{
		{"2 hours", 2 * time.Hour, types.TierRaw},
		{"exactly 24 hours", 24 * time.Hour, types.TierRaw},
		{"25 hours", 25 * time.Hour, types.TierHourly},
		{"30 days", 30 * 24 * time.Hour, types.TierHourly},
		{"exactly 90 days", 90 * 24 * time.Hour, types.TierHourly},
		{"200 days", 200 * 24 * time.Hour, types.TierDaily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, res := range []string{"", "auto", "AUTO"} {
				plan, err := PlanRequest(Request{MachineID: "m1", Start: end.Add(-tt.span), End: end, Resolution: res}, DefaultLimits())
				if err != nil {
					t.Fatalf("PlanRequest: %v", err)
				}
				if plan.Tier != tt.want || !plan.Auto {
					t.Errorf("resolution %q: got %v (auto=%v), want %v", res, plan.Tier, plan.Auto, tt.want)
				}
			}
		})
	}
}

func TestPlanRequest_ExplicitResolutionHonored(t *testing.T) {
	plan, err := PlanRequest(Request{MachineID: "m1", Start: end.Add(-200 * 24 * time.Hour), End: end, Resolution: "raw"}, DefaultLimits())
	if err != nil {
		t.Fatalf("PlanRequest: %v", err)
	}
	if plan.Tier != types.TierRaw || plan.Auto {
		t.Errorf("explicit raw must be honored over a long span, got %+v", plan)
	}
}

func TestPlanRequest_Alignment(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 17, 0, 0, time.UTC)
	stop := time.Date(2024, 6, 3, 14, 42, 0, 0, time.UTC)

	tests := []struct {
		resolution string
		wantStart  time.Time
		wantEnd    time.Time
	}{
		{"raw", start, stop},
		{"hourly", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)},
		{"daily", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.resolution, func(t *testing.T) {
			req := Request{MachineID: "m1", Start: start, End: stop, Resolution: tt.resolution}
			plan, err := PlanRequest(req, DefaultLimits())
			if err != nil {
				t.Fatalf("PlanRequest: %v", err)
			}
			if !plan.EffectiveStart().Equal(tt.wantStart) || !plan.EffectiveEnd().Equal(tt.wantEnd) {
				t.Errorf("effective range [%v, %v), want [%v, %v)",
					plan.EffectiveStart(), plan.EffectiveEnd(), tt.wantStart, tt.wantEnd)
			}
			if widened := plan.Widened(req); widened != (tt.resolution != "raw") {
				t.Errorf("widened = %v", widened)
			}
		})
	}

	// Aligned bounds stay put.
	req := Request{MachineID: "m1", Start: end.Add(-3 * time.Hour), End: end, Resolution: "hourly"}
	plan, _ := PlanRequest(req, DefaultLimits())
	if plan.Widened(req) {
		t.Error("aligned bounds must not be widened")
	}
}

func TestPlanRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing machine", Request{Start: end.Add(-time.Hour), End: end}, errors.ErrMissingField},
		{"zero start", Request{MachineID: "m1", End: end}, errors.ErrInvalidRange},
		{"end equals start", Request{MachineID: "m1", Start: end, End: end}, errors.ErrInvalidRange},
		{"end before start", Request{MachineID: "m1", Start: end, End: end.Add(-time.Hour)}, errors.ErrInvalidRange},
		{"unknown resolution", Request{MachineID: "m1", Start: end.Add(-time.Hour), End: end, Resolution: "weekly"}, errors.ErrInvalidResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlanRequest(tt.req, DefaultLimits())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestShapeSamples_OmitsNulls(t *testing.T) {
	a := types.Sample{MachineID: "m1", TimestampMs: 1000}
	a.Set(types.FieldCPULoad, 0)
	a.Set(types.FieldNetRxRate, 5)
	b := types.Sample{MachineID: "m1", TimestampMs: 2000}
	b.Set(types.FieldCPULoad, 40)

	series := ShapeSamples([]types.Sample{a, b})
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}

	cpu := series[0]
	if cpu.Field != "cpu_load" || cpu.Kind != "gauge" || len(cpu.Points) != 2 {
		t.Fatalf("unexpected cpu series %+v", cpu)
	}
	if cpu.Points[0].Value == nil || *cpu.Points[0].Value != 0 {
		t.Error("a reported zero must be kept")
	}

	rx := series[1]
	if rx.Field != "net_rx_rate" || rx.Kind != "rate" || len(rx.Points) != 1 || rx.Points[0].TimestampMs != 1000 {
		t.Errorf("null rx value must be omitted, got %+v", rx)
	}
}

func TestShapeSummaries(t *testing.T) {
	sum := types.Summary{MachineID: "m1", Tier: types.TierHourly, BucketStart: 3600000, SampleCount: 10}
	sum.Fields[types.FieldCPULoad] = types.FieldStats{Avg: types.Float(20), Min: types.Float(5), Max: types.Float(60)}
	sum.Fields[types.FieldNetTxRate] = types.FieldStats{Avg: types.Float(2), Total: types.Float(20)}
	sum.CPULoadP95 = types.Float(55)

	series := ShapeSummaries([]types.Summary{sum})
	if len(series) != 3 {
		t.Fatalf("expected cpu, tx and p95 series, got %d", len(series))
	}

	cpu := series[0].Points[0]
	if *cpu.Avg != 20 || *cpu.Min != 5 || *cpu.Max != 60 || cpu.Total != nil || cpu.Count != 10 {
		t.Errorf("unexpected gauge point %+v", cpu)
	}

	tx := series[1].Points[0]
	if series[1].Field != "net_tx_rate" || *tx.Total != 20 || tx.Min != nil {
		t.Errorf("unexpected rate point %+v", tx)
	}

	if series[2].Field != FieldCPULoadP95 || *series[2].Points[0].Value != 55 {
		t.Errorf("unexpected p95 series %+v", series[2])
	}
}

func TestService_Query(t *testing.T) {
	s, err := store.New(store.Config{DSN: ":memory:", QueryTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var samples []types.Sample
	for i := 0; i < 4; i++ {
		sm := types.Sample{MachineID: "m1", TimestampMs: end.Add(-time.Duration(i+1) * 10 * time.Minute).UnixMilli()}
		sm.Set(types.FieldCPULoad, float64(i))
		samples = append(samples, sm)
	}
	if err := s.InsertSamples(ctx, samples); err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}

	day := types.TierDaily.TruncateMs(end.Add(-48 * time.Hour).UnixMilli())
	daily := types.Summary{MachineID: "m1", Tier: types.TierDaily, BucketStart: day, SampleCount: 100}
	daily.Fields[types.FieldCPULoad] = types.FieldStats{Avg: types.Float(12), Min: types.Float(1), Max: types.Float(90)}
	if err := s.UpsertSummary(ctx, &daily); err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}

	svc := New(config.DefaultConfig(), s, nil)

	res, err := svc.Query(ctx, Request{MachineID: "m1", Start: end.Add(-2 * time.Hour), End: end})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Resolution != types.TierRaw || res.Requested != ResolutionAuto {
		t.Errorf("unexpected resolution %v / %q", res.Resolution, res.Requested)
	}
	if res.Rows != 4 || len(res.Series) != 1 || len(res.Series[0].Points) != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Series[0].Points[0].TimestampMs > res.Series[0].Points[3].TimestampMs {
		t.Error("points must be ascending")
	}

	res, err = svc.Query(ctx, Request{MachineID: "m1", Start: end.Add(-200 * 24 * time.Hour), End: end})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Resolution != types.TierDaily || res.Rows != 1 {
		t.Errorf("expected 1 daily row, got %v rows at %v", res.Rows, res.Resolution)
	}
	if !res.Widened || !res.EffectiveEnd.Equal(end.Truncate(24*time.Hour).Add(24*time.Hour)) {
		t.Errorf("unexpected effective end %v", res.EffectiveEnd)
	}

	res, err = svc.Query(ctx, Request{MachineID: "other", Start: end.Add(-time.Hour), End: end, Resolution: "hourly"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Series == nil || len(res.Series) != 0 {
		t.Errorf("empty result should carry an empty series list, got %v", res.Series)
	}

	if _, err := svc.Query(ctx, Request{MachineID: "m1", Start: end, End: end}); err == nil {
		t.Error("expected range error")
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 3 || stats.Errors != 1 || stats.Raw != 1 || stats.Daily != 1 || stats.Hourly != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
