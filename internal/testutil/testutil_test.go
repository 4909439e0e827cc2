package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

func TestClock(t *testing.T) {
	start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("Now = %v", got)
	}
	if c.After(time.Millisecond) != nil {
		t.Error("After should never fire")
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Error("Set did not move the clock")
	}
}

func TestSeries(t *testing.T) {
	start := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	s := Series("rig-01", start, time.Minute, 3, func(i int) float64 { return float64(i * 10) })
	if len(s) != 3 {
		t.Fatalf("len = %d", len(s))
	}
	if s[2].TimestampMs != start.Add(2*time.Minute).UnixMilli() {
		t.Errorf("timestamp = %d", s[2].TimestampMs)
	}
	if v := s[2].Get(types.FieldCPULoad); v == nil || *v != 20 {
		t.Errorf("cpu_load = %v", v)
	}
	if s[0].Reported() != 1 {
		t.Errorf("reported = %d", s[0].Reported())
	}
}

func TestEventually(t *testing.T) {
	var n atomic.Int32
	gt := NewGoroutineTest(t)
	gt.Go(func() error {
		n.Store(1)
		return nil
	})
	if err := Eventually(time.Second, time.Millisecond, func() bool { return n.Load() == 1 }); err != nil {
		t.Fatal(err)
	}
	gt.Wait()

	if err := Eventually(10*time.Millisecond, time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected timeout")
	}
}
