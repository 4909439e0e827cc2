// Package buffer holds accepted samples in memory until they are flushed to
// the store.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// RingBuffer is a thread-safe bounded FIFO of samples.
// When full, new samples push out the oldest ones.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Sample
	head     int64 // Next write slot, in [0, capacity)
	tail     int64 // Oldest data slot, in [0, capacity)
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount    atomic.Int64
	popCount     atomic.Int64
	dropCount    atomic.Int64
	requeueCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Sample, capacity),
		capacity: int64(capacity),
	}
}

// PushOverwrite adds a sample, discarding the oldest one if the buffer is
// full. It reports whether a sample was discarded.
func (rb *RingBuffer) PushOverwrite(sample types.Sample) (dropped bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.data[rb.tail] = types.Sample{}
		rb.tail = rb.index(rb.tail + 1)
		rb.count--
		rb.dropCount.Add(1)
		dropped = true
	}

	rb.data[rb.head] = sample
	rb.head = rb.index(rb.head + 1)
	rb.count++
	rb.pushCount.Add(1)
	return dropped
}

// Drain removes and returns every buffered sample, oldest first.
func (rb *RingBuffer) Drain() []types.Sample {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil
	}

	result := make([]types.Sample, rb.count)
	for i := range result {
		idx := rb.index(rb.tail + int64(i))
		result[i] = rb.data[idx]
		rb.data[idx] = types.Sample{}
	}

	rb.popCount.Add(rb.count)
	rb.tail = rb.head
	rb.count = 0

	return result
}

// Requeue puts samples that failed to flush back in front of the buffered
// ones, keeping their order. Samples that no longer fit are discarded
// oldest first; the number discarded is returned.
func (rb *RingBuffer) Requeue(samples []types.Sample) int {
	if len(samples) == 0 {
		return 0
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.capacity - rb.count
	dropped := 0
	if int64(len(samples)) > free {
		dropped = len(samples) - int(free)
		samples = samples[dropped:]
		rb.dropCount.Add(int64(dropped))
	}

	// Walk backwards so the first requeued sample ends up at tail.
	for i := len(samples) - 1; i >= 0; i-- {
		rb.tail = rb.index(rb.tail - 1)
		rb.data[rb.tail] = samples[i]
		rb.count++
	}
	rb.requeueCount.Add(int64(len(samples)))

	return dropped
}

// index wraps a position into [0, capacity).
func (rb *RingBuffer) index(pos int64) int64 {
	idx := pos % rb.capacity
	if idx < 0 {
		idx += rb.capacity
	}
	return idx
}

// Len returns the current number of samples in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Age returns how long the oldest buffered sample has been waiting at now,
// judged by its timestamp. An empty buffer has age 0.
func (rb *RingBuffer) Age(now time.Time) time.Duration {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return 0
	}
	oldest := rb.data[rb.tail].TimestampMs
	for i := int64(1); i < rb.count; i++ {
		if ts := rb.data[rb.index(rb.tail+i)].TimestampMs; ts < oldest {
			oldest = ts
		}
	}
	if age := now.Sub(time.UnixMilli(oldest)); age > 0 {
		return age
	}
	return 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:     int(rb.capacity),
		Count:        int(rb.count),
		UsageRatio:   float64(rb.count) / float64(rb.capacity),
		PushCount:    rb.pushCount.Load(),
		PopCount:     rb.popCount.Load(),
		DropCount:    rb.dropCount.Load(),
		RequeueCount: rb.requeueCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity     int     `json:"capacity"`
	Count        int     `json:"count"`
	UsageRatio   float64 `json:"usage_ratio"`
	PushCount    int64   `json:"push_count"`
	PopCount     int64   `json:"pop_count"`
	DropCount    int64   `json:"drop_count"`
	RequeueCount int64   `json:"requeue_count"`
}
