package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

func summaryColumnNames() []string {
	cols := summaryColumns()
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.field.Column(c.stat))
	}
	return names
}

// UpsertSummary writes one summary row, replacing any row with the same
// machine and bucket start.
func (s *Store) UpsertSummary(ctx context.Context, summary *types.Summary) error {
	return s.UpsertSummaries(ctx, summary.Tier, []types.Summary{*summary})
}

// UpsertSummaries writes rows of one tier in a single transaction. Each row
// supersedes an existing row for the same (machine, bucket start) without
// error. Keys must be unique within the call.
func (s *Store) UpsertSummaries(ctx context.Context, tier types.Tier, summaries []types.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	if !tier.IsSummary() {
		return fmt.Errorf("upsert summaries into %s: %w", tier, errInvalidTier)
	}
	table, err := tableFor(tier)
	if err != nil {
		return err
	}

	cols := summaryColumns()
	names := summaryColumnNames()
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", 4+len(cols)), ",") + ")"

	query := "INSERT OR REPLACE INTO " + table +
		" (machine_id, bucket_start, sample_count, " + strings.Join(names, ", ") + ", cpu_load_p95) VALUES " +
		placeholder

	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return errors.Database("prepare summary upsert", err)
		}
		defer stmt.Close()

		args := make([]interface{}, 0, 4+len(cols))
		for i := range summaries {
			sum := &summaries[i]
			if sum.Tier != tier {
				return fmt.Errorf("summary for %s in %s batch: %w", sum.Tier, tier, errInvalidTier)
			}
			if tier.TruncateMs(sum.BucketStart) != sum.BucketStart {
				return errors.NewInvalidValue("bucket_start", sum.BucketStart, "not aligned to "+tier.String())
			}

			args = args[:0]
			args = append(args, sum.MachineID, sum.BucketStart, sum.SampleCount)
			for _, c := range cols {
				args = append(args, nullFloat(sum.Fields[c.field].Get(c.stat)))
			}
			args = append(args, nullFloat(sum.CPULoadP95))

			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return errors.Database("upsert summary", err)
			}
		}
		return nil
	})
}

// ReadSummaries returns the rows of a tier for a machine with
// start <= bucket_start < end, ascending. An empty machineID reads every
// machine, ordered by machine then bucket.
func (s *Store) ReadSummaries(ctx context.Context, tier types.Tier, machineID string, startMs, endMs int64) ([]types.Summary, error) {
	var out []types.Summary
	err := s.ScanSummaries(ctx, tier, machineID, startMs, endMs, func(sum *types.Summary) error {
		out = append(out, *sum)
		return nil
	})
	return out, err
}

// ScanSummaries streams the rows ReadSummaries would return to fn.
func (s *Store) ScanSummaries(ctx context.Context, tier types.Tier, machineID string, startMs, endMs int64, fn func(*types.Summary) error) error {
	if !tier.IsSummary() {
		return fmt.Errorf("read summaries from %s: %w", tier, errInvalidTier)
	}
	table, err := tableFor(tier)
	if err != nil {
		return err
	}
	if endMs <= startMs {
		return nil
	}

	cols := summaryColumns()

	var query strings.Builder
	query.WriteString("SELECT machine_id, bucket_start, sample_count, ")
	query.WriteString(strings.Join(summaryColumnNames(), ", "))
	query.WriteString(", cpu_load_p95 FROM ")
	query.WriteString(table)
	query.WriteString(" WHERE bucket_start >= ? AND bucket_start < ?")
	args := []interface{}{startMs, endMs}

	if machineID != "" {
		query.WriteString(" AND machine_id = ?")
		args = append(args, machineID)
	}
	query.WriteString(" ORDER BY machine_id, bucket_start")

	return s.query(ctx, func(rows *sql.Rows) error {
		values := make([]sql.NullFloat64, len(cols))
		var p95 sql.NullFloat64
		dest := make([]interface{}, 0, 4+len(cols))

		for rows.Next() {
			sum := types.Summary{Tier: tier}
			dest = dest[:0]
			dest = append(dest, &sum.MachineID, &sum.BucketStart, &sum.SampleCount)
			for i := range values {
				dest = append(dest, &values[i])
			}
			dest = append(dest, &p95)

			if err := rows.Scan(dest...); err != nil {
				return errors.Database("scan summary", err)
			}
			for i, c := range cols {
				sum.Fields[c.field].Set(c.stat, floatPtr(values[i]))
			}
			sum.CPULoadP95 = floatPtr(p95)

			if err := fn(&sum); err != nil {
				return err
			}
		}
		return nil
	}, query.String(), args...)
}
