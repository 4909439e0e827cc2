package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// ReadSamples decodes a file written for the raw resolution.
func ReadSamples(r io.ReaderAt) ([]types.Sample, error) {
	rows, err := readAll[SampleRow](r)
	if err != nil {
		return nil, err
	}

	samples := make([]types.Sample, len(rows))
	for i := range rows {
		samples[i] = RowToSample(&rows[i])
	}
	return samples, nil
}

// ReadSummaries decodes a file written for a summary resolution.
func ReadSummaries(r io.ReaderAt) ([]types.Summary, error) {
	rows, err := readAll[SummaryRow](r)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.Summary, len(rows))
	for i := range rows {
		summaries[i] = RowToSummary(&rows[i])
	}
	return summaries, nil
}

func readAll[T any](r io.ReaderAt) ([]T, error) {
	reader := parquet.NewGenericReader[T](r)
	defer reader.Close()

	rows := make([]T, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
