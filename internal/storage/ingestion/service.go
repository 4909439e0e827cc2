// Package ingestion buffers accepted samples and flushes them to the store
// in batches.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/storage/backpressure"
	"github.com/xtxerr/rigwatch/internal/storage/buffer"
	"github.com/xtxerr/rigwatch/internal/storage/config"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/storage/wal"
)

var log = logging.Component("ingestion")

// Writer persists a batch of samples atomically.
type Writer interface {
	InsertSamples(ctx context.Context, samples []types.Sample) error
}

// Service orchestrates the sample ingestion pipeline.
// It manages the flow: Enqueue → RingBuffer → Flush → Writer.
type Service struct {
	config  *config.Config
	writer  Writer
	metrics *metrics.Metrics

	// Components
	buffer   *buffer.RingBuffer
	pressure *backpressure.Controller

	// journal is optional. journalMu orders journal writes against the
	// checkpoint taken when the buffer is drained.
	journal   *wal.Writer
	journalMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// flushMu allows one flush at a time so requeued batches keep their
	// position ahead of newer samples.
	flushMu sync.Mutex

	// Statistics
	stats Stats

	// evictedSinceLog is reported and reset once per flush tick.
	evictedSinceLog atomic.Int64

	// Channels
	flushCh chan struct{}
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesReceived  atomic.Int64
	SamplesFlushed   atomic.Int64
	SamplesEvicted   atomic.Int64
	FlushesCompleted atomic.Int64
	FlushFailures    atomic.Int64
	EagerFlushes     atomic.Int64
}

// EnqueueResult reports what Enqueue did with a batch.
type EnqueueResult struct {
	Accepted int    `json:"accepted"`
	Evicted  int    `json:"evicted"`
	Level    string `json:"queue_level"`
}

// Option configures the service.
type Option func(*Service)

// WithJournal keeps enqueued samples in j until they are flushed.
func WithJournal(j *wal.Writer) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// New creates a new ingestion service writing to w.
func New(cfg *config.Config, w Writer, m *metrics.Metrics, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ringBuffer := buffer.New(cfg.Ingestion.MaxQueueSize)
	pressure := backpressure.New(cfg, ringBuffer)
	pressure.SetOnLevelChange(func(old, new backpressure.Level) {
		m.SetBackpressureLevel(int(new))
		if new > old {
			log.Warn("backpressure level raised", "from", old.String(), "to", new.String())
		} else {
			log.Info("backpressure level lowered", "from", old.String(), "to", new.String())
		}
	})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:   cfg,
		writer:   w,
		metrics:  m,
		buffer:   ringBuffer,
		pressure: pressure,
		ctx:      ctx,
		cancel:   cancel,
		flushCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the flush worker.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ingestion: %w", errors.ErrAlreadyRunning)
	}

	if s.journal != nil {
		if err := s.replay(); err != nil {
			s.running.Store(false)
			return err
		}
	}

	s.wg.Add(1)
	go s.flushWorker()

	log.Info("ingestion started",
		"max_queue_size", s.buffer.Cap(),
		"flush_interval", s.config.Ingestion.FlushInterval,
		"eager_flush_threshold", s.config.Ingestion.EagerFlushThreshold)

	return nil
}

// Stop stops the flush worker and performs a final flush.
// Samples still buffered when the final flush fails are lost unless a
// journal holds them; the error reports how many.
func (s *Service) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	n, err := s.Flush(ctx)
	if err != nil {
		return fmt.Errorf("final flush, %d samples left in buffer: %w", s.buffer.Len(), err)
	}

	log.Info("ingestion stopped", "final_flush", n)
	return nil
}

// Enqueue appends samples to the buffer. It never blocks on I/O. When the
// buffer is full the oldest samples are evicted to make room.
func (s *Service) Enqueue(samples ...types.Sample) (EnqueueResult, error) {
	if !s.running.Load() {
		return EnqueueResult{}, errors.ErrServiceStopped
	}

	var result EnqueueResult
	if s.journal != nil {
		s.journalMu.RLock()
		if err := s.journal.Write(samples); err != nil {
			s.journalMu.RUnlock()
			return EnqueueResult{}, errors.Database("journal samples", err)
		}
	}
	for i := range samples {
		if s.buffer.PushOverwrite(samples[i]) {
			result.Evicted++
		}
		result.Accepted++
	}
	if s.journal != nil {
		s.journalMu.RUnlock()
	}

	s.stats.SamplesReceived.Add(int64(result.Accepted))
	s.metrics.AddEnqueued(result.Accepted)
	s.recordEvictions(result.Evicted)
	s.metrics.SetBufferLength(s.buffer.Len())

	level := s.pressure.Check()
	result.Level = level.String()

	threshold := s.config.Ingestion.EagerFlushThreshold
	if (threshold > 0 && s.buffer.Len() >= threshold) || s.pressure.ShouldFlushNow() {
		s.signalFlush()
	}

	return result, nil
}

// Flush drains the buffer and writes the batch in one transaction.
// On failure the batch is put back ahead of newer samples and the error is
// returned. It returns the number of samples written.
func (s *Service) Flush(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	checkpoint := int64(-1)
	var batch []types.Sample
	if s.journal != nil {
		s.journalMu.Lock()
		seq, err := s.journal.Checkpoint()
		if err != nil {
			log.Warn("journal checkpoint failed, segments kept", "error", err)
		} else {
			checkpoint = seq
		}
		batch = s.buffer.Drain()
		s.journalMu.Unlock()
	} else {
		batch = s.buffer.Drain()
	}

	if len(batch) == 0 {
		s.release(checkpoint)
		return 0, nil
	}

	start := time.Now()
	err := s.writer.InsertSamples(ctx, batch)
	elapsed := time.Since(start)

	s.metrics.ObserveFlush(len(batch), elapsed, err)

	if err != nil {
		s.stats.FlushFailures.Add(1)
		evicted := s.buffer.Requeue(batch)
		s.recordEvictions(evicted)
		s.metrics.SetBufferLength(s.buffer.Len())
		s.pressure.Check()
		log.Error("flush failed, batch requeued", "samples", len(batch), "evicted", evicted, "error", err)
		return 0, fmt.Errorf("flush %d samples: %w", len(batch), err)
	}

	s.release(checkpoint)

	s.stats.SamplesFlushed.Add(int64(len(batch)))
	s.stats.FlushesCompleted.Add(1)
	s.metrics.SetBufferLength(s.buffer.Len())
	s.pressure.Check()

	log.Debug("flushed samples", "samples", len(batch), "duration", elapsed)
	return len(batch), nil
}

// release drops the journal segments below checkpoint once their samples
// are committed.
func (s *Service) release(checkpoint int64) {
	if s.journal == nil || checkpoint < 0 {
		return
	}
	if _, err := s.journal.Release(checkpoint); err != nil {
		log.Warn("journal release failed", "error", err)
	}
}

// replay loads the samples a previous process journaled but never flushed.
func (s *Service) replay() error {
	samples, stats, err := s.journal.Replay()
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	if stats.CorruptRecords > 0 {
		log.Warn("journal had corrupt records, replay stopped at each", "corrupt", stats.CorruptRecords)
	}
	if len(samples) == 0 {
		return nil
	}

	evicted := 0
	for i := range samples {
		if s.buffer.PushOverwrite(samples[i]) {
			evicted++
		}
	}
	s.recordEvictions(evicted)
	s.metrics.SetBufferLength(s.buffer.Len())

	log.Info("replayed journal", "samples", len(samples), "segments", stats.Segments, "evicted", evicted)
	return nil
}

// ForceFlush asks the worker for an immediate flush without waiting for it.
func (s *Service) ForceFlush() {
	s.signalFlush()
}

func (s *Service) signalFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// flushWorker flushes on every interval tick and on eager signals.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Ingestion.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flushOnce()
			s.logEvictions()
		case <-s.flushCh:
			s.stats.EagerFlushes.Add(1)
			s.flushOnce()
		}
	}
}

func (s *Service) flushOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.Store.Timeout)
	defer cancel()

	// Errors are logged by Flush; the next tick retries the requeued batch.
	s.Flush(ctx)
}

func (s *Service) recordEvictions(n int) {
	if n <= 0 {
		return
	}
	s.stats.SamplesEvicted.Add(int64(n))
	s.evictedSinceLog.Add(int64(n))
	s.pressure.RecordDrop(n)
	s.metrics.AddEvictions(n)
}

// logEvictions writes at most one eviction line per tick.
func (s *Service) logEvictions() {
	if n := s.evictedSinceLog.Swap(0); n > 0 {
		log.Warn("buffer full, oldest samples evicted", "evicted", n, "capacity", s.buffer.Cap())
	}
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bufferStats := s.buffer.Stats()

	return ServiceStats{
		Running:          s.running.Load(),
		SamplesReceived:  s.stats.SamplesReceived.Load(),
		SamplesFlushed:   s.stats.SamplesFlushed.Load(),
		SamplesEvicted:   s.stats.SamplesEvicted.Load(),
		FlushesCompleted: s.stats.FlushesCompleted.Load(),
		FlushFailures:    s.stats.FlushFailures.Load(),
		EagerFlushes:     s.stats.EagerFlushes.Load(),
		BufferCount:      bufferStats.Count,
		BufferCapacity:   bufferStats.Capacity,
		BufferUsage:      bufferStats.UsageRatio,
		OldestPending:    s.buffer.Age(time.Now()).Seconds(),
		Backpressure:     s.pressure.Stats(),
		Journal:          s.journalStats(),
	}
}

func (s *Service) journalStats() *wal.WriterStats {
	if s.journal == nil {
		return nil
	}
	st := s.journal.Stats()
	return &st
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running          bool                         `json:"running"`
	SamplesReceived  int64                        `json:"samples_received"`
	SamplesFlushed   int64                        `json:"samples_flushed"`
	SamplesEvicted   int64                        `json:"samples_evicted"`
	FlushesCompleted int64                        `json:"flushes_completed"`
	FlushFailures    int64                        `json:"flush_failures"`
	EagerFlushes     int64                        `json:"eager_flushes"`
	BufferCount      int                          `json:"buffer_count"`
	BufferCapacity   int                          `json:"buffer_capacity"`
	BufferUsage      float64                      `json:"buffer_usage"`
	OldestPending    float64                      `json:"oldest_pending_seconds"`
	Backpressure     backpressure.ControllerStats `json:"backpressure"`
	Journal          *wal.WriterStats             `json:"journal,omitempty"`
}

// Buffer returns the ring buffer.
func (s *Service) Buffer() *buffer.RingBuffer {
	return s.buffer
}

// Pressure returns the backpressure controller.
func (s *Service) Pressure() *backpressure.Controller {
	return s.pressure
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
