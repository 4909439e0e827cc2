package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// InsertSample inserts a single sample.
func (s *Store) InsertSample(ctx context.Context, sample *types.Sample) error {
	return s.InsertSamples(ctx, []types.Sample{*sample})
}

// InsertSamples inserts a batch in one transaction: either every row is
// persisted or none is. Large batches are split into multi-row INSERT
// statements of InsertChunkSize rows inside that transaction.
func (s *Store) InsertSamples(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		chunk := s.config.InsertChunkSize
		for i := 0; i < len(samples); i += chunk {
			end := i + chunk
			if end > len(samples) {
				end = len(samples)
			}

			query, args := buildSampleInsert(samples[i:end])
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return errors.Database("insert samples", err)
			}
		}
		return nil
	})
}

// buildSampleInsert builds one multi-row INSERT for the samples table.
func buildSampleInsert(samples []types.Sample) (string, []interface{}) {
	columnsPerRow := 2 + int(types.NumFields)

	args := make([]interface{}, 0, len(samples)*columnsPerRow)

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", columnsPerRow), ",") + ")"

	var query strings.Builder
	query.Grow(200 + len(samples)*len(placeholder))

	query.WriteString("INSERT INTO samples (machine_id, ts_ms, ")
	query.WriteString(strings.Join(sampleColumns(), ", "))
	query.WriteString(") VALUES ")

	for i := range samples {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString(placeholder)

		args = append(args, samples[i].MachineID, samples[i].TimestampMs)
		for _, v := range samples[i].Values {
			args = append(args, nullFloat(v))
		}
	}

	return query.String(), args
}

// ReadSamples returns the samples of a machine with start <= ts < end,
// ascending by time. An empty machineID reads every machine, ordered by
// machine then time.
func (s *Store) ReadSamples(ctx context.Context, machineID string, startMs, endMs int64) ([]types.Sample, error) {
	var out []types.Sample
	err := s.ScanSamples(ctx, machineID, startMs, endMs, func(sample *types.Sample) error {
		out = append(out, *sample)
		return nil
	})
	return out, err
}

// ScanSamples streams the rows ReadSamples would return to fn without
// holding them all in memory.
func (s *Store) ScanSamples(ctx context.Context, machineID string, startMs, endMs int64, fn func(*types.Sample) error) error {
	if endMs <= startMs {
		return nil
	}

	var query strings.Builder
	query.WriteString("SELECT machine_id, ts_ms, ")
	query.WriteString(strings.Join(sampleColumns(), ", "))
	query.WriteString(" FROM samples WHERE ts_ms >= ? AND ts_ms < ?")
	args := []interface{}{startMs, endMs}

	if machineID != "" {
		query.WriteString(" AND machine_id = ?")
		args = append(args, machineID)
	}
	query.WriteString(" ORDER BY machine_id, ts_ms")

	return s.query(ctx, func(rows *sql.Rows) error {
		values := make([]sql.NullFloat64, types.NumFields)
		dest := make([]interface{}, 0, 2+types.NumFields)

		for rows.Next() {
			var sample types.Sample
			dest = dest[:0]
			dest = append(dest, &sample.MachineID, &sample.TimestampMs)
			for i := range values {
				dest = append(dest, &values[i])
			}

			if err := rows.Scan(dest...); err != nil {
				return errors.Database("scan sample", err)
			}
			for i := range values {
				sample.Values[i] = floatPtr(values[i])
			}

			if err := fn(&sample); err != nil {
				return err
			}
		}
		return nil
	}, query.String(), args...)
}

// CountSamples returns the number of samples of a machine ("" for all).
func (s *Store) CountSamples(ctx context.Context, machineID string) (int64, error) {
	query := "SELECT COUNT(*) FROM samples"
	var args []interface{}
	if machineID != "" {
		query += " WHERE machine_id = ?"
		args = append(args, machineID)
	}

	var count int64
	err := s.query(ctx, func(rows *sql.Rows) error {
		if rows.Next() {
			if err := rows.Scan(&count); err != nil {
				return errors.Database("scan count", err)
			}
		}
		return nil
	}, query, args...)
	return count, err
}

// MachinesWithData returns the distinct machine IDs that have rows of a tier
// with start <= time < end, sorted.
func (s *Store) MachinesWithData(ctx context.Context, tier types.Tier, startMs, endMs int64) ([]string, error) {
	table, err := tableFor(tier)
	if err != nil {
		return nil, err
	}
	col := timeColumn(tier)

	query := "SELECT DISTINCT machine_id FROM " + table +
		" WHERE " + col + " >= ? AND " + col + " < ? ORDER BY machine_id"

	var ids []string
	err = s.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return errors.Database("scan machine id", err)
			}
			ids = append(ids, id)
		}
		return nil
	}, query, startMs, endMs)
	return ids, err
}
