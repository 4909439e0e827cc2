package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// maxRecordSize bounds a single record. Larger lengths mean a corrupt header.
const maxRecordSize = 64 * 1024 * 1024

// Reader reads sample records from one segment file.
type Reader struct {
	path string
	file *os.File
	r    *bufio.Reader

	stats ReaderStats
}

// ReaderStats holds reader statistics.
type ReaderStats struct {
	Segments       int64 `json:"segments"`
	RecordsRead    int64 `json:"records_read"`
	SamplesRead    int64 `json:"samples_read"`
	BytesRead      int64 `json:"bytes_read"`
	CorruptRecords int64 `json:"corrupt_records"`
}

func (s *ReaderStats) add(o ReaderStats) {
	s.Segments += o.Segments
	s.RecordsRead += o.RecordsRead
	s.SamplesRead += o.SamplesRead
	s.BytesRead += o.BytesRead
	s.CorruptRecords += o.CorruptRecords
}

// NewReader opens a segment and verifies its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", walMagic, magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path:  path,
		file:  f,
		r:     bufio.NewReader(f),
		stats: ReaderStats{Segments: 1},
	}, nil
}

// ReadAll reads records until the end of the segment. The first torn or
// corrupt record ends the read; the records before it are returned.
func (r *Reader) ReadAll() []types.Sample {
	var all []types.Sample

	for {
		samples, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			break
		}
		all = append(all, samples...)
	}

	return all
}

// ReadRecord reads the next record. It returns io.EOF at a clean end of
// the segment.
func (r *Reader) ReadRecord() ([]types.Sample, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if actual := crc32.ChecksumIEEE(payload); actual != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actual)
	}

	samples, err := decodeSamples(payload)
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.SamplesRead += int64(len(samples))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return samples, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment reads every intact record of a segment file.
func ReadSegment(path string) ([]types.Sample, ReaderStats, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, ReaderStats{}, err
	}
	defer r.Close()

	samples := r.ReadAll()
	return samples, r.Stats(), nil
}
