// Package export streams stored rows of one resolution as a Parquet file.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

var log = logging.Component("export")

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// BatchSize is the number of rows buffered before each write.
	BatchSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// DefaultOptions returns zstd with 1024-row batches.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		BatchSize:   1024,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func (ct CompressionType) codec() compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Source streams stored rows.
type Source interface {
	ScanSamples(ctx context.Context, machineID string, startMs, endMs int64, fn func(*types.Sample) error) error
	ScanSummaries(ctx context.Context, tier types.Tier, machineID string, startMs, endMs int64, fn func(*types.Summary) error) error
}

// Request selects the rows to export.
type Request struct {
	MachineID string
	Tier      types.Tier
	StartMs   int64
	EndMs     int64
}

// Validate checks the range and tier.
func (r Request) Validate() error {
	if !r.Tier.Valid() {
		return fmt.Errorf("export %s: %w", r.Tier, errors.ErrInvalidResolution)
	}
	if r.EndMs <= r.StartMs {
		return errors.NewInvalidRange("end must be after start")
	}
	return nil
}

// Filename suggests a download name for the export.
func (r Request) Filename() string {
	machine := r.MachineID
	if machine == "" {
		machine = "all"
	}
	return fmt.Sprintf("rigwatch-%s-%s-%d-%d.parquet", machine, r.Tier, r.StartMs, r.EndMs)
}

// Exporter writes Parquet files from a Source.
type Exporter struct {
	source Source
	opts   Options
}

// New creates an exporter.
func New(source Source, opts Options) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &Exporter{source: source, opts: opts}
}

// Export writes the selected rows to w and returns how many were written.
// The file is complete only when err is nil.
func (e *Exporter) Export(ctx context.Context, w io.Writer, req Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	var n int64
	var err error
	if req.Tier == types.TierRaw {
		n, err = e.exportSamples(ctx, w, req)
	} else {
		n, err = e.exportSummaries(ctx, w, req)
	}
	if err != nil {
		return n, err
	}

	log.Info("export written",
		"machine", req.MachineID,
		"resolution", req.Tier.String(),
		"rows", n)
	return n, nil
}

func (e *Exporter) exportSamples(ctx context.Context, w io.Writer, req Request) (int64, error) {
	writer := parquet.NewGenericWriter[SampleRow](w, parquet.Compression(e.opts.Compression.codec()))
	batch := newBatch[SampleRow](writer, e.opts.BatchSize)

	err := e.source.ScanSamples(ctx, req.MachineID, req.StartMs, req.EndMs, func(s *types.Sample) error {
		return batch.add(SampleToRow(s))
	})
	return batch.finish(err)
}

func (e *Exporter) exportSummaries(ctx context.Context, w io.Writer, req Request) (int64, error) {
	writer := parquet.NewGenericWriter[SummaryRow](w, parquet.Compression(e.opts.Compression.codec()))
	batch := newBatch[SummaryRow](writer, e.opts.BatchSize)

	err := e.source.ScanSummaries(ctx, req.Tier, req.MachineID, req.StartMs, req.EndMs, func(s *types.Summary) error {
		return batch.add(SummaryToRow(s))
	})
	return batch.finish(err)
}

// batch buffers rows in front of a generic writer.
type batch[T any] struct {
	writer *parquet.GenericWriter[T]
	rows   []T
	count  int64
}

func newBatch[T any](w *parquet.GenericWriter[T], size int) *batch[T] {
	return &batch[T]{writer: w, rows: make([]T, 0, size)}
}

func (b *batch[T]) add(row T) error {
	b.rows = append(b.rows, row)
	if len(b.rows) == cap(b.rows) {
		return b.flush()
	}
	return nil
}

func (b *batch[T]) flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	n, err := b.writer.Write(b.rows)
	b.count += int64(n)
	b.rows = b.rows[:0]
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// finish flushes and closes the writer unless scanErr is set.
func (b *batch[T]) finish(scanErr error) (int64, error) {
	if scanErr != nil {
		return b.count, scanErr
	}
	if err := b.flush(); err != nil {
		return b.count, err
	}
	if err := b.writer.Close(); err != nil {
		return b.count, fmt.Errorf("close writer: %w", err)
	}
	return b.count, nil
}
