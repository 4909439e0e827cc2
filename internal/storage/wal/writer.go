// Package wal journals queued samples so that a crash between acceptance
// and flush does not lose them.
//
// Every enqueued batch is appended as one record. Before each flush the
// ingestion service takes a checkpoint, which closes the current segment;
// once the flush commits, the closed segments are released. On start the
// segments left behind by a crash are replayed into the queue. Delivery is
// at-least-once: a crash between commit and release replays samples that
// were already written.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Writer appends sample records to segment files.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	currentRecords int64
	currentSeq     int64
	nextSeq        int64

	// firstSeq is the sequence of the first segment this writer created.
	// Everything before it was left by a previous process.
	firstSeq int64

	writer *bufio.Writer

	opts Options

	// Statistics
	stats WriterStats
}

// Sync modes.
const (
	// SyncNone leaves records in the write buffer until the next
	// checkpoint or rotation.
	SyncNone = "none"

	// SyncWrite flushes the write buffer to the OS after each record.
	SyncWrite = "write"

	// SyncFsync also fsyncs the segment after each record.
	SyncFsync = "fsync"
)

// Options configures the writer.
type Options struct {
	// MaxSegmentSize is the size after which a segment is closed and a
	// new one opened. Default: 64MB
	MaxSegmentSize int64

	// SyncMode is one of SyncNone, SyncWrite, SyncFsync. Default: SyncWrite
	SyncMode string

	// BufferSize is the size of the write buffer. Default: 64KB
	BufferSize int
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 * 1024 * 1024,
		SyncMode:       SyncWrite,
		BufferSize:     64 * 1024,
	}
}

// WriterStats holds writer statistics.
type WriterStats struct {
	SegmentsCreated  int64 `json:"segments_created"`
	SegmentsReleased int64 `json:"segments_released"`
	RecordsWritten   int64 `json:"records_written"`
	BytesWritten     int64 `json:"bytes_written"`
	Syncs            int64 `json:"syncs"`
	Errors           int64 `json:"errors"`
}

const (
	walMagic         = 0x5247574A524E0001 // "RGWJRN" + version 1
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
	segmentSuffix    = ".wal"
)

// NewWriter opens a writer in dir. Existing segments are left untouched
// for Replay; writing starts in a fresh segment after them.
func NewWriter(dir string, opts Options) (*Writer, error) {
	defaults := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaults.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = defaults.SyncMode
	}
	switch opts.SyncMode {
	case SyncNone, SyncWrite, SyncFsync:
	default:
		return nil, fmt.Errorf("unknown sync mode %q", opts.SyncMode)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	w := &Writer{
		dir:  dir,
		opts: opts,
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		w.nextSeq = segments[len(segments)-1].seq + 1
	}
	w.firstSeq = w.nextSeq

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return w, nil
}

// Write appends samples as one record.
func (w *Writer) Write(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	payload, err := encodeSamples(samples)
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return errClosed
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if w.currentRecords > 0 && w.currentSize+recordSize > w.opts.MaxSegmentSize {
		if err := w.rotateUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("rotate: %w", err)
		}
	}

	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write record: %w", err)
	}

	w.currentRecords++
	w.stats.RecordsWritten++
	w.stats.BytesWritten += recordSize

	if w.opts.SyncMode != SyncNone {
		if err := w.syncUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("sync: %w", err)
		}
	}

	return nil
}

func (w *Writer) writeRecord(payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	w.currentSize += int64(recordHeaderSize + len(payload))
	return nil
}

func (w *Writer) syncUnlocked() error {
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.SyncMode == SyncFsync {
		if err := w.currentSegment.Sync(); err != nil {
			return err
		}
	}
	w.stats.Syncs++
	return nil
}

// Checkpoint closes the current segment when it holds records and returns
// the sequence of the segment now being written. Every record written
// before the call lives in a segment with a lower sequence.
func (w *Writer) Checkpoint() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return 0, errClosed
	}
	if w.currentRecords == 0 {
		return w.currentSeq, nil
	}
	if err := w.rotateUnlocked(); err != nil {
		w.stats.Errors++
		return 0, err
	}
	return w.currentSeq, nil
}

// Release deletes every segment with a sequence below seq. The segment
// being written is never deleted.
func (w *Writer) Release(seq int64) (int, error) {
	segments, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	deleted := 0
	for _, s := range segments {
		if s.seq >= seq || s.seq == w.currentSeq {
			break
		}
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			w.stats.Errors++
			return deleted, fmt.Errorf("remove %s: %w", s.path, err)
		}
		deleted++
	}
	w.stats.SegmentsReleased += int64(deleted)
	return deleted, nil
}

// Replay reads the segments left behind by a previous process, oldest
// first. A torn or corrupt tail ends the read of its segment.
func (w *Writer) Replay() ([]types.Sample, ReaderStats, error) {
	segments, err := listSegments(w.dir)
	if err != nil {
		return nil, ReaderStats{}, err
	}

	var (
		all   []types.Sample
		total ReaderStats
	)
	for _, s := range segments {
		if s.seq >= w.firstSeq {
			break
		}
		samples, stats, err := ReadSegment(s.path)
		if err != nil {
			// A crash while creating a segment leaves a short header.
			total.CorruptRecords++
			continue
		}
		total.add(stats)
		all = append(all, samples...)
	}
	return all, total, nil
}

func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("flush segment: %w", err)
		}
		if w.opts.SyncMode == SyncFsync {
			w.currentSegment.Sync()
		}
		w.currentSegment.Close()
		w.currentSegment = nil
	}

	seq := w.nextSeq
	path := segmentPath(w.dir, seq)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = path
	w.currentSize = headerSize
	w.currentRecords = 0
	w.currentSeq = seq
	w.nextSeq = seq + 1
	if w.writer == nil {
		w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	} else {
		w.writer.Reset(f)
	}
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return nil
	}

	err := w.writer.Flush()
	if cerr := w.currentSegment.Close(); err == nil {
		err = cerr
	}
	w.currentSegment = nil
	return err
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// CurrentSegment returns the path of the segment being written.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// Dir returns the journal directory.
func (w *Writer) Dir() string {
	return w.dir
}

// =============================================================================
// Segments
// =============================================================================

var errClosed = fmt.Errorf("journal is closed")

type segmentInfo struct {
	path string
	seq  int64
}

func segmentPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("%016d%s", seq, segmentSuffix))
}

// listSegments returns the segment files in dir ordered by sequence.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 16+len(segmentSuffix) || name[16:] != segmentSuffix {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name[:16], "%d", &seq); err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(dir, name),
			seq:  seq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}

// ListSegments returns all segment paths in dir, oldest first.
func ListSegments(dir string) ([]string, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(segments))
	for i, s := range segments {
		paths[i] = s.path
	}
	return paths, nil
}
