package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/query"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
	"github.com/xtxerr/rigwatch/internal/testutil"
)

func newService(t *testing.T, now time.Time, mutate func(*config.Config)) (*storage.Service, *store.Store) {
	t.Helper()

	st := testutil.MemoryStore(t)

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Scheduler.Enabled = false
	cfg.Ingestion.FlushInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := storage.New(cfg, storage.WithStore(st), storage.WithClock(testutil.NewClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, st
}

func startService(t *testing.T, svc *storage.Service) {
	t.Helper()
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
}

var now = time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC)

func TestService_StartStop(t *testing.T) {
	svc, _ := newService(t, now, nil)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.IsRunning() {
		t.Fatal("service should be running")
	}
	if err := svc.Start(); !errors.Is(err, errors.ErrAlreadyRunning) {
		t.Errorf("second Start: expected ErrAlreadyRunning, got %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.IsRunning() {
		t.Error("service should be stopped")
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestService_IngestRequiresRunning(t *testing.T) {
	svc, _ := newService(t, now, nil)

	_, err := svc.Ingest(context.Background(), storage.Batch{MachineID: "m1"})
	if !errors.Is(err, errors.ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestService_IngestRejectsWholeBatch(t *testing.T) {
	svc, st := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	tests := []struct {
		name  string
		batch storage.Batch
	}{
		{"missing machine", storage.Batch{Samples: []types.Sample{testutil.LoadSample("", now, 1)}}},
		{"foreign sample", storage.Batch{MachineID: "m1", Samples: []types.Sample{
			testutil.LoadSample("m1", now, 1),
			testutil.LoadSample("m2", now, 1),
		}}},
		{"bad value", storage.Batch{MachineID: "m1", Samples: []types.Sample{
			testutil.LoadSample("m1", now, 1),
			testutil.LoadSample("m1", now, 250),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, tt.batch)
			if !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := st.GetMachine(ctx, "m1"); !errors.IsNotFound(err) {
		t.Errorf("rejected batch must not register the machine, got %v", err)
	}
	if n, _ := svc.Flush(ctx); n != 0 {
		t.Errorf("rejected batch must not be queued, flushed %d", n)
	}
}

func TestService_IngestFillsMachineID(t *testing.T) {
	svc, st := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, storage.Batch{
		MachineID: "m1",
		Samples:   []types.Sample{testutil.LoadSample("", now, 5)},
		Sync:      true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Synced || res.Accepted != 1 || !res.Created {
		t.Errorf("unexpected result %+v", res)
	}

	n, err := st.CountSamples(ctx, "m1")
	if err != nil || n != 1 {
		t.Errorf("expected 1 stored sample, got %d (%v)", n, err)
	}
}

func TestService_AsyncIngestAndFlush(t *testing.T) {
	svc, st := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	var samples []types.Sample
	for i := 0; i < 5; i++ {
		samples = append(samples, testutil.LoadSample("m1", now.Add(time.Duration(i)*time.Second), float64(i)))
	}

	res, err := svc.Ingest(ctx, storage.Batch{MachineID: "m1", Hostname: "rig-01", Samples: samples})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Accepted != 5 || res.Synced || res.QueueLevel == "" {
		t.Errorf("unexpected result %+v", res)
	}

	snap, ok := svc.Live().Latest("m1")
	if !ok || snap.Values["cpu_load"] != 4 {
		t.Errorf("live snapshot should hold the newest sample, got %+v", snap)
	}

	flushed, err := svc.Flush(ctx)
	if err != nil || flushed != 5 {
		t.Fatalf("Flush = %d, %v", flushed, err)
	}
	if n, _ := st.CountSamples(ctx, "m1"); n != 5 {
		t.Errorf("expected 5 stored samples, got %d", n)
	}
}

func TestService_ReRegistrationKeepsMetadata(t *testing.T) {
	svc, _ := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, storage.Batch{
		MachineID: "m1",
		Hostname:  "rig-01",
		Metadata:  json.RawMessage(`{"gpu": "RTX 4090"}`),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !first.Created || !first.MetadataChanged {
		t.Errorf("first push should create with metadata, got %+v", first)
	}

	second, err := svc.Ingest(ctx, storage.Batch{MachineID: "m1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if second.Created || second.MetadataChanged {
		t.Errorf("bare push must not change the machine, got %+v", second)
	}

	m, err := svc.Registry().Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Hostname != "rig-01" || string(m.Metadata) != `{"gpu":"RTX 4090"}` {
		t.Errorf("stored identity changed: %+v", m)
	}
	if m.LastContactMs != now.UnixMilli() {
		t.Errorf("last contact = %d, want %d", m.LastContactMs, now.UnixMilli())
	}
}

func TestService_QueryAfterSyncIngest(t *testing.T) {
	svc, _ := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, storage.Batch{
		MachineID: "m1",
		Samples: []types.Sample{
			testutil.LoadSample("m1", now.Add(-20*time.Minute), 10),
			testutil.LoadSample("m1", now.Add(-10*time.Minute), 20),
			testutil.LoadSample("m1", now.Add(-2*time.Hour), 30),
		},
		Sync: true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	res, err := svc.Query(ctx, query.Request{
		MachineID: "m1",
		Start:     now.Add(-time.Hour),
		End:       now,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Resolution != types.TierRaw || res.Rows != 2 {
		t.Fatalf("expected 2 raw rows, got %s with %d", res.Resolution, res.Rows)
	}
	if len(res.Series) != 1 || res.Series[0].Field != "cpu_load" || len(res.Series[0].Points) != 2 {
		t.Errorf("unexpected series %+v", res.Series)
	}
}

func TestService_Retention(t *testing.T) {
	svc, _ := newService(t, now, func(c *config.Config) {
		c.Retention = config.RetentionConfig{RawDays: 3, HourlyDays: 30, DailyDays: 0}
	})
	ctx := context.Background()

	got, err := svc.Retention(ctx)
	if err != nil {
		t.Fatalf("Retention: %v", err)
	}
	if got != (types.RetentionConfig{RawDays: 3, HourlyDays: 30, DailyDays: 0}) {
		t.Errorf("seeded retention = %+v", got)
	}

	got, err = svc.SetRetention(ctx, types.RetentionConfig{RawDays: 1, HourlyDays: 30, DailyDays: 365})
	if err != nil {
		t.Fatalf("SetRetention: %v", err)
	}
	if got.RawDays != 1 || got.DailyDays != 365 {
		t.Errorf("updated retention = %+v", got)
	}

	if _, err := svc.SetRetention(ctx, types.RetentionConfig{RawDays: -1}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_Cleanup(t *testing.T) {
	svc, st := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, storage.Batch{
		MachineID: "m1",
		Samples: []types.Sample{
			testutil.LoadSample("m1", now.Add(-72*time.Hour), 1),
			testutil.LoadSample("m1", now.Add(-time.Hour), 2),
		},
		Sync: true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	res, err := svc.Cleanup(ctx, storage.CleanupRequest{Tier: types.TierRaw, OlderThan: 48 * time.Hour})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", res.Deleted)
	}
	if n, _ := st.CountSamples(ctx, "m1"); n != 1 {
		t.Errorf("expected 1 remaining sample, got %d", n)
	}

	if _, err := svc.Cleanup(ctx, storage.CleanupRequest{Tier: types.TierRaw}); !errors.IsValidation(err) {
		t.Errorf("zero age: expected validation error, got %v", err)
	}
}

func TestService_ReaggregateResolution(t *testing.T) {
	svc, _ := newService(t, now, nil)
	ctx := context.Background()
	start, end := now.Add(-2*time.Hour), now

	if _, err := svc.Reaggregate(ctx, "m1", start, end, "raw"); !errors.Is(err, errors.ErrInvalidResolution) {
		t.Errorf("raw: expected ErrInvalidResolution, got %v", err)
	}
	if _, err := svc.Reaggregate(ctx, "m1", start, end, "weekly"); !errors.Is(err, errors.ErrInvalidResolution) {
		t.Errorf("weekly: expected ErrInvalidResolution, got %v", err)
	}

	results, err := svc.Reaggregate(ctx, "m1", start, end, "")
	if err != nil {
		t.Fatalf("Reaggregate: %v", err)
	}
	if len(results) != 2 || results[0].Tier != types.TierHourly || results[1].Tier != types.TierDaily {
		t.Errorf("expected hourly then daily, got %+v", results)
	}
}

func TestService_StatsAndHealth(t *testing.T) {
	svc, _ := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, storage.Batch{
		MachineID: "m1",
		Samples:   []types.Sample{testutil.LoadSample("m1", now.Add(-time.Hour), 1), testutil.LoadSample("m1", now, 2)},
		Sync:      true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Totals) != 3 {
		t.Fatalf("expected one total per resolution, got %d", len(stats.Totals))
	}
	raw := stats.Totals[0]
	if raw.Tier != types.TierRaw || raw.Rows != 2 || raw.EstimatedBytes <= 0 {
		t.Errorf("unexpected raw total %+v", raw)
	}
	if raw.OldestAge != time.Hour {
		t.Errorf("oldest age = %v, want 1h", raw.OldestAge)
	}
	if stats.Live.Machines != 1 {
		t.Errorf("live machines = %d", stats.Live.Machines)
	}

	h := svc.Health(ctx)
	if h.Status != "ok" || !h.Running || h.Store != "ok" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestService_StatsIgnoresCallerCancel(t *testing.T) {
	svc, _ := newService(t, now, nil)
	startService(t, svc)

	_, err := svc.Ingest(context.Background(), storage.Batch{
		MachineID: "m1",
		Samples:   []types.Sample{testutil.LoadSample("m1", now, 1)},
		Sync:      true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// A caller that gave up must not fail the report shared with others.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats with canceled caller: %v", err)
	}
	if stats.Totals[0].Rows != 1 {
		t.Errorf("raw rows = %d, want 1", stats.Totals[0].Rows)
	}
}

func TestService_ConcurrentIngest(t *testing.T) {
	svc, _ := newService(t, now, nil)
	startService(t, svc)
	ctx := context.Background()

	gt := testutil.NewGoroutineTest(t)
	for i := 0; i < 8; i++ {
		machine := fmt.Sprintf("rig-%02d", i)
		gt.Go(func() error {
			samples := testutil.Series(machine, now.Add(-time.Hour), time.Minute, 30, func(j int) float64 {
				return float64(j)
			})
			res, err := svc.Ingest(ctx, storage.Batch{MachineID: machine, Samples: samples})
			if err != nil {
				return fmt.Errorf("%s: %w", machine, err)
			}
			if res.Accepted != 30 {
				return fmt.Errorf("%s: accepted %d, want 30", machine, res.Accepted)
			}
			return nil
		})
	}
	gt.Wait()

	n, err := svc.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 240 {
		t.Errorf("flushed %d, want 240", n)
	}

	machines, err := svc.Registry().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(machines) != 8 {
		t.Errorf("registered %d machines, want 8", len(machines))
	}
	if got := svc.Live().Stats().Machines; got != 8 {
		t.Errorf("live machines = %d, want 8", got)
	}
}

func TestService_JournalSurvivesCrash(t *testing.T) {
	st := testutil.MemoryStore(t)
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Scheduler.Enabled = false
	cfg.Ingestion.FlushInterval = time.Hour
	cfg.Ingestion.Journal.Enabled = true

	crashed, err := storage.New(cfg, storage.WithStore(st), storage.WithClock(testutil.NewClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startService(t, crashed)

	samples := testutil.Series("m1", now, 2*time.Second, 3, func(i int) float64 { return float64(10 + i) })
	if _, err := crashed.Ingest(ctx, storage.Batch{MachineID: "m1", Samples: samples}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// A second process over the same data dir picks the queued samples up.
	restarted, err := storage.New(cfg, storage.WithStore(st), storage.WithClock(testutil.NewClock(now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startService(t, restarted)

	if n, err := restarted.Flush(ctx); err != nil || n != 3 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if n, _ := st.CountSamples(ctx, "m1"); n != 3 {
		t.Errorf("expected 3 stored samples, got %d", n)
	}
}
