package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rwerrors "github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/storage/wal"
)

// recordingWriter collects written batches and can be told to fail.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]types.Sample
	fail    error
}

func (w *recordingWriter) InsertSamples(ctx context.Context, samples []types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	batch := make([]types.Sample, len(samples))
	copy(batch, samples)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *recordingWriter) setFail(err error) {
	w.mu.Lock()
	w.fail = err
	w.mu.Unlock()
}

func (w *recordingWriter) written() []types.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Sample
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func testConfig(queue int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingestion.MaxQueueSize = queue
	cfg.Ingestion.FlushInterval = time.Hour
	cfg.Ingestion.EagerFlushThreshold = 0
	cfg.Backpressure.Enabled = false
	return cfg
}

func numbered(n int) types.Sample {
	s := types.Sample{MachineID: "m1", TimestampMs: int64(n) * 2000}
	s.Set(types.FieldCPULoad, float64(n))
	return s
}

func startService(t *testing.T, cfg *config.Config, w Writer, opts ...Option) *Service {
	t.Helper()
	svc := New(cfg, w, nil, opts...)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func TestService_StartStop(t *testing.T) {
	svc := New(testConfig(10), &recordingWriter{}, nil)

	if svc.IsRunning() {
		t.Error("service should not be running before Start()")
	}

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := svc.Start(); !errors.Is(err, rwerrors.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning on double start, got %v", err)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if svc.IsRunning() {
		t.Error("service should not be running after Stop()")
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestService_EnqueueWhenNotRunning(t *testing.T) {
	svc := New(testConfig(10), &recordingWriter{}, nil)

	_, err := svc.Enqueue(numbered(1))
	if !errors.Is(err, rwerrors.ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestService_OverflowKeepsNewestInOrder(t *testing.T) {
	w := &recordingWriter{}
	svc := startService(t, testConfig(5), w)

	evicted := 0
	for i := 1; i <= 7; i++ {
		res, err := svc.Enqueue(numbered(i))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		evicted += res.Evicted
	}

	if evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}

	n, err := svc.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 flushed, got %d", n)
	}

	got := w.written()
	for i, s := range got {
		if want := float64(i + 3); *s.Get(types.FieldCPULoad) != want {
			t.Errorf("position %d: expected #%v, got #%v", i, want, *s.Get(types.FieldCPULoad))
		}
	}

	stats := svc.Stats()
	if stats.SamplesEvicted != 2 || stats.SamplesFlushed != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestService_FailedFlushRequeues(t *testing.T) {
	w := &recordingWriter{}
	svc := startService(t, testConfig(100), w)

	for i := 1; i <= 3; i++ {
		svc.Enqueue(numbered(i))
	}

	w.setFail(errors.New("disk full"))
	if _, err := svc.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if svc.Buffer().Len() != 3 {
		t.Fatalf("expected batch requeued, buffer has %d", svc.Buffer().Len())
	}

	svc.Enqueue(numbered(4))

	w.setFail(nil)
	n, err := svc.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 flushed, got %d", n)
	}

	got := w.written()
	for i, s := range got {
		if *s.Get(types.FieldCPULoad) != float64(i+1) {
			t.Errorf("position %d out of order: %v", i, *s.Get(types.FieldCPULoad))
		}
	}

	if svc.Stats().FlushFailures != 1 {
		t.Errorf("expected 1 flush failure, got %d", svc.Stats().FlushFailures)
	}
}

func TestService_EmptyFlush(t *testing.T) {
	w := &recordingWriter{}
	svc := startService(t, testConfig(10), w)

	n, err := svc.Flush(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected empty flush, got %d, %v", n, err)
	}
	if len(w.batches) != 0 {
		t.Error("writer should not be called for an empty buffer")
	}
}

func TestService_EagerFlush(t *testing.T) {
	cfg := testConfig(100)
	cfg.Ingestion.EagerFlushThreshold = 3

	w := &recordingWriter{}
	svc := startService(t, cfg, w)

	for i := 1; i <= 3; i++ {
		svc.Enqueue(numbered(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(w.written()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("eager flush did not happen, written=%d", len(w.written()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if svc.Stats().EagerFlushes == 0 {
		t.Error("expected an eager flush to be counted")
	}
}

func TestService_IntervalFlush(t *testing.T) {
	cfg := testConfig(100)
	cfg.Ingestion.FlushInterval = 20 * time.Millisecond

	w := &recordingWriter{}
	svc := startService(t, cfg, w)

	svc.Enqueue(numbered(1))

	deadline := time.Now().Add(2 * time.Second)
	for len(w.written()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_StopFlushesRemainder(t *testing.T) {
	w := &recordingWriter{}
	svc := New(testConfig(100), w, nil)
	svc.Start()

	svc.Enqueue(numbered(1), numbered(2))

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(w.written()) != 2 {
		t.Errorf("expected final flush of 2 samples, got %d", len(w.written()))
	}
}

func TestService_StopReportsFailedFinalFlush(t *testing.T) {
	w := &recordingWriter{fail: errors.New("gone")}
	svc := New(testConfig(100), w, nil)
	svc.Start()

	svc.Enqueue(numbered(1))

	if err := svc.Stop(context.Background()); err == nil {
		t.Error("expected error from failed final flush")
	}
}

func TestService_ConcurrentEnqueue(t *testing.T) {
	w := &recordingWriter{}
	svc := startService(t, testConfig(10000), w)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				svc.Enqueue(numbered(i))
			}
		}()
	}
	wg.Wait()

	svc.Flush(context.Background())

	if len(w.written()) != 800 {
		t.Errorf("expected 800 samples written, got %d", len(w.written()))
	}
}

func TestService_JournalReplaysUnflushed(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(10)

	j1, err := wal.NewWriter(dir, wal.Options{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	down := &recordingWriter{fail: errors.New("disk gone")}
	svc1 := New(cfg, down, nil, WithJournal(j1))
	if err := svc1.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := svc1.Enqueue(numbered(i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := svc1.Stop(context.Background()); err == nil {
		t.Fatal("expected final flush error")
	}
	j1.Close()

	j2, err := wal.NewWriter(dir, wal.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	w := &recordingWriter{}
	svc2 := startService(t, cfg, w, WithJournal(j2))

	if got := svc2.Buffer().Len(); got != 3 {
		t.Fatalf("buffer after replay = %d, want 3", got)
	}
	if n, err := svc2.Flush(context.Background()); err != nil || n != 3 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	for i, s := range w.written() {
		if *s.Get(types.FieldCPULoad) != float64(i+1) {
			t.Errorf("sample %d out of order: %v", i, *s.Get(types.FieldCPULoad))
		}
	}

	// Only the segment being written is left.
	paths, _ := wal.ListSegments(dir)
	if len(paths) != 1 || paths[0] != j2.CurrentSegment() {
		t.Errorf("segments after flush = %v", paths)
	}
}

func TestService_JournalReleasedOnlyAfterCommit(t *testing.T) {
	dir := t.TempDir()
	j, err := wal.NewWriter(dir, wal.Options{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer j.Close()

	w := &recordingWriter{}
	svc := startService(t, testConfig(10), w, WithJournal(j))

	svc.Enqueue(numbered(1))
	w.setFail(errors.New("locked"))
	if _, err := svc.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if st := j.Stats(); st.SegmentsReleased != 0 {
		t.Errorf("released %d segments before commit", st.SegmentsReleased)
	}

	w.setFail(nil)
	svc.Enqueue(numbered(2))
	if n, err := svc.Flush(context.Background()); err != nil || n != 2 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if st := j.Stats(); st.SegmentsReleased != 2 {
		t.Errorf("released = %d, want 2", st.SegmentsReleased)
	}
	if st := svc.Stats(); st.Journal == nil || st.Journal.RecordsWritten != 2 {
		t.Errorf("journal stats = %+v", st.Journal)
	}
}
