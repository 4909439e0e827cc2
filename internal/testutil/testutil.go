// Package testutil provides test helpers for rigwatch packages.
//
// Using t.Fatal or t.FailNow in a goroutine only exits that goroutine, not
// the test. GoroutineTest collects errors from goroutines and reports them
// on the test goroutine instead.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest runs functions in goroutines and collects their errors.
//
//	gt := testutil.NewGoroutineTest(t)
//	for i := 0; i < 8; i++ {
//	    gt.Go(func() error { return ingestOne(i) })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t testing.TB) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine. fn returns an error instead of calling t.Fatal.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping error: %v", err)
			}
		}
	}()
}

// GoWithContext runs fn with the helper's context, which Cancel and Wait end.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.Go(func() error { return fn(gt.ctx) })
}

// Cancel signals GoWithContext functions to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()

	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var n int
	for err := range gt.errors {
		n++
		gt.t.Errorf("goroutine error [%d]: %v", n, err)
	}
	if n > 0 {
		gt.t.FailNow()
	}
}

// Eventually polls condition until it holds or timeout passes.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// =============================================================================
// Clock
// =============================================================================

// Clock is a settable clock whose timers never fire. Jobs driven by it only
// run when a test calls them directly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that never delivers.
func (c *Clock) After(time.Duration) <-chan time.Time {
	return nil
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// Store and Samples
// =============================================================================

// MemoryStore opens a private in-memory store closed at test cleanup.
func MemoryStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{DSN: ":memory:", QueryTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Sample builds a sample reporting the given fields.
func Sample(machineID string, ts time.Time, values map[types.Field]float64) types.Sample {
	s := types.Sample{MachineID: machineID, TimestampMs: ts.UnixMilli()}
	for f, v := range values {
		s.Set(f, v)
	}
	return s
}

// LoadSample builds a sample reporting cpu_load only.
func LoadSample(machineID string, ts time.Time, load float64) types.Sample {
	return Sample(machineID, ts, map[types.Field]float64{types.FieldCPULoad: load})
}

// Series builds n samples step apart starting at start, each reporting
// cpu_load from loadAt(i).
func Series(machineID string, start time.Time, step time.Duration, n int, loadAt func(i int) float64) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = LoadSample(machineID, start.Add(time.Duration(i)*step), loadAt(i))
	}
	return out
}
