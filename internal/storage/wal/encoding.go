package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// Sample encoding format (binary, little-endian):
// - Sample count (4 bytes), then per sample:
// - MachineID length (2 bytes) + MachineID string
// - TimestampMs (8 bytes)
// - Reported mask (2 bytes, bit i set when field i carries a value)
// - One float64 (8 bytes) per set bit, in field order

// The mask must cover the whole catalogue.
var _ [16 - types.NumFields]struct{}

// encodeSamples encodes a slice of samples into a binary format.
func encodeSamples(samples []types.Sample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	// ~40 bytes of header per sample plus a handful of values
	buf := make([]byte, 0, len(samples)*96)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))

	for i := range samples {
		s := &samples[i]
		if len(s.MachineID) > math.MaxUint16 {
			return nil, fmt.Errorf("sample %d: machine id too long", i)
		}
		buf = appendString(buf, s.MachineID)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.TimestampMs))

		var mask uint16
		for f, v := range s.Values {
			if v != nil {
				mask |= 1 << f
			}
		}
		buf = binary.LittleEndian.AppendUint16(buf, mask)

		for _, v := range s.Values {
			if v != nil {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(*v))
			}
		}
	}

	return buf, nil
}

// decodeSamples decodes a binary format into a slice of samples.
func decodeSamples(data []byte) ([]types.Sample, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for sample count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}
	// Every sample takes at least 12 bytes; reject counts the payload
	// cannot hold before allocating.
	if count > (len(data)-4)/12 {
		return nil, fmt.Errorf("sample count %d exceeds payload", count)
	}

	samples := make([]types.Sample, count)
	offset := 4

	for i := 0; i < count; i++ {
		s := &samples[i]
		var err error

		s.MachineID, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("sample %d machine id: %w", i, err)
		}

		if offset+10 > len(data) {
			return nil, fmt.Errorf("sample %d: data too short for timestamp", i)
		}
		s.TimestampMs = int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		mask := binary.LittleEndian.Uint16(data[offset:])
		offset += 2

		if mask>>types.NumFields != 0 {
			return nil, fmt.Errorf("sample %d: unknown fields in mask %#x", i, mask)
		}

		for f := types.Field(0); f < types.NumFields; f++ {
			if mask&(1<<f) == 0 {
				continue
			}
			if offset+8 > len(data) {
				return nil, fmt.Errorf("sample %d: data too short for field %d", i, f)
			}
			s.Set(f, math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])))
			offset += 8
		}
	}

	return samples, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
