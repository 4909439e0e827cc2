package store

import (
	"context"
	"database/sql"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// DeleteOlderThan removes every row of a tier whose time is strictly before
// cutoffMs, for one machine or for all machines when machineID is empty.
// It returns the number of rows removed. A cutoff before all data removes
// nothing; a cutoff in the future removes everything in scope.
func (s *Store) DeleteOlderThan(ctx context.Context, tier types.Tier, cutoffMs int64, machineID string) (int64, error) {
	table, err := tableFor(tier)
	if err != nil {
		return 0, err
	}

	query := "DELETE FROM " + table + " WHERE " + timeColumn(tier) + " < ?"
	args := []interface{}{cutoffMs}
	if machineID != "" {
		query += " AND machine_id = ?"
		args = append(args, machineID)
	}

	return s.exec(ctx, query, args...)
}

// TierStats returns row count, oldest and newest row time and an estimated
// size for each machine in a tier. An empty machineID covers all machines.
func (s *Store) TierStats(ctx context.Context, tier types.Tier, machineID string) ([]types.TierStats, error) {
	table, err := tableFor(tier)
	if err != nil {
		return nil, err
	}
	col := timeColumn(tier)

	query := "SELECT machine_id, COUNT(*), MIN(" + col + "), MAX(" + col + ") FROM " + table
	var args []interface{}
	if machineID != "" {
		query += " WHERE machine_id = ?"
		args = append(args, machineID)
	}
	query += " GROUP BY machine_id ORDER BY machine_id"

	rowBytes := tier.EstimatedRowBytes()

	var out []types.TierStats
	err = s.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			st := types.TierStats{Tier: tier}
			var oldest, newest sql.NullInt64
			if err := rows.Scan(&st.MachineID, &st.Rows, &oldest, &newest); err != nil {
				return errors.Database("scan tier stats", err)
			}
			st.OldestMs = oldest.Int64
			st.NewestMs = newest.Int64
			st.EstimatedBytes = st.Rows * rowBytes
			out = append(out, st)
		}
		return nil
	}, query, args...)
	return out, err
}
