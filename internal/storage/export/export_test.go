package export

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
)

var base = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DSN: ":memory:", QueryTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExport_Samples(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var in []types.Sample
	for i := 0; i < 25; i++ {
		sm := types.Sample{MachineID: "m1", TimestampMs: base.Add(time.Duration(i) * time.Minute).UnixMilli()}
		sm.Set(types.FieldCPULoad, float64(i))
		sm.Set(types.FieldSwapUsed, 0)
		if i%2 == 0 {
			sm.Set(types.FieldGPUUtil, 50)
		}
		in = append(in, sm)
	}
	other := types.Sample{MachineID: "m2", TimestampMs: base.UnixMilli()}
	other.Set(types.FieldCPULoad, 1)
	if err := s.InsertSamples(ctx, append(in, other)); err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}

	var buf bytes.Buffer
	e := New(s, Options{Compression: CompressionZstd, BatchSize: 10})
	n, err := e.Export(ctx, &buf, Request{
		MachineID: "m1",
		Tier:      types.TierRaw,
		StartMs:   base.UnixMilli(),
		EndMs:     base.Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 25 {
		t.Fatalf("expected 25 rows, got %d", n)
	}

	out, err := ReadSamples(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip changed the samples")
	}
	if out[1].Get(types.FieldGPUUtil) != nil {
		t.Error("null must stay null")
	}
	if v := out[1].Get(types.FieldSwapUsed); v == nil || *v != 0 {
		t.Error("zero must stay zero")
	}
}

func TestExport_Summaries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sum := types.Summary{MachineID: "m1", Tier: types.TierHourly, BucketStart: base.UnixMilli(), SampleCount: 1800}
	sum.Fields[types.FieldCPULoad] = types.FieldStats{Avg: types.Float(50), Min: types.Float(10), Max: types.Float(90)}
	sum.Fields[types.FieldNetRxRate] = types.FieldStats{Avg: types.Float(100), Total: types.Float(180000)}
	sum.CPULoadP95 = types.Float(86)
	if err := s.UpsertSummary(ctx, &sum); err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}

	var buf bytes.Buffer
	n, err := New(s, DefaultOptions()).Export(ctx, &buf, Request{
		Tier:    types.TierHourly,
		StartMs: base.UnixMilli(),
		EndMs:   base.Add(24 * time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	out, err := ReadSummaries(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadSummaries: %v", err)
	}
	if len(out) != 1 || !reflect.DeepEqual(out[0], sum) {
		t.Errorf("round trip changed the summary:\n got %+v\nwant %+v", out, sum)
	}
}

func TestExport_Empty(t *testing.T) {
	s := setupStore(t)

	var buf bytes.Buffer
	n, err := New(s, Options{Compression: CompressionNone}).Export(context.Background(), &buf, Request{
		Tier:    types.TierDaily,
		StartMs: 0,
		EndMs:   base.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 0 || buf.Len() == 0 {
		t.Errorf("expected a valid empty file, got %d rows and %d bytes", n, buf.Len())
	}

	out, err := ReadSummaries(bytes.NewReader(buf.Bytes()))
	if err != nil || len(out) != 0 {
		t.Errorf("expected no rows, got %v (%v)", out, err)
	}
}

func TestRequest_Validate(t *testing.T) {
	if err := (Request{Tier: types.TierRaw, StartMs: 10, EndMs: 10}).Validate(); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("expected range error, got %v", err)
	}
	if err := (Request{Tier: types.Tier(7), StartMs: 0, EndMs: 10}).Validate(); !errors.Is(err, errors.ErrInvalidResolution) {
		t.Errorf("expected resolution error, got %v", err)
	}

	name := Request{Tier: types.TierDaily, StartMs: 1, EndMs: 2}.Filename()
	if !strings.HasPrefix(name, "rigwatch-all-daily-") || !strings.HasSuffix(name, ".parquet") {
		t.Errorf("unexpected filename %q", name)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"snappy": CompressionSnappy,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"zstd":   CompressionZstd,
		"":       CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}
