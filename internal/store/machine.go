package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// UpsertResult reports what UpsertMachine changed.
type UpsertResult struct {
	// Created is true when the machine did not exist before.
	Created bool

	// MetadataChanged is true when a metadata payload was supplied and its
	// fingerprint differs from the stored one.
	MetadataChanged bool
}

const machineColumns = `id, hostname, display_name, address, last_contact_ms,
	first_seen_ms, active, metadata, metadata_hash`

// UpsertMachine creates or updates a registry row.
//
// Empty hostname, display name or address keep the stored value.
// LastContactMs only moves forward. A nil Metadata keeps the stored blob;
// a non-nil one replaces it wholesale together with MetadataHash.
// The active flag of an existing row is left alone.
func (s *Store) UpsertMachine(ctx context.Context, m *types.Machine) (UpsertResult, error) {
	var result UpsertResult

	var metadata, hash interface{}
	if len(m.Metadata) > 0 {
		metadata = string(m.Metadata)
		hash = int64(m.MetadataHash)
	}

	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		var prevHash sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT metadata_hash FROM machines WHERE id = ?`, m.ID).Scan(&prevHash)
		switch {
		case err == sql.ErrNoRows:
			result.Created = true
		case err != nil:
			return errors.Database("read machine", err)
		}

		if metadata != nil {
			result.MetadataChanged = !prevHash.Valid || uint64(prevHash.Int64) != m.MetadataHash
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO machines (id, hostname, display_name, address, last_contact_ms,
			                      first_seen_ms, active, metadata, metadata_hash)
			VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				hostname = COALESCE(NULLIF(excluded.hostname, ''), hostname),
				display_name = COALESCE(NULLIF(excluded.display_name, ''), display_name),
				address = COALESCE(NULLIF(excluded.address, ''), address),
				last_contact_ms = GREATEST(last_contact_ms, excluded.last_contact_ms),
				metadata = COALESCE(excluded.metadata, metadata),
				metadata_hash = COALESCE(excluded.metadata_hash, metadata_hash)
		`, m.ID, m.Hostname, m.DisplayName, m.Address, m.LastContactMs, m.LastContactMs, metadata, hash)
		if err != nil {
			return errors.Database("upsert machine", err)
		}
		return nil
	})

	return result, err
}

// GetMachine returns a registry row.
func (s *Store) GetMachine(ctx context.Context, id string) (*types.Machine, error) {
	machines, err := s.listMachines(ctx, "SELECT "+machineColumns+" FROM machines WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(machines) == 0 {
		return nil, errors.NewMachineNotFound(id)
	}
	return &machines[0], nil
}

// ListMachines returns every registry row, most recently contacted first.
func (s *Store) ListMachines(ctx context.Context) ([]types.Machine, error) {
	return s.listMachines(ctx, "SELECT "+machineColumns+" FROM machines ORDER BY last_contact_ms DESC, id")
}

// ListActiveMachines returns active rows, most recently contacted first.
func (s *Store) ListActiveMachines(ctx context.Context) ([]types.Machine, error) {
	return s.listMachines(ctx, "SELECT "+machineColumns+" FROM machines WHERE active ORDER BY last_contact_ms DESC, id")
}

// SetMachineActive flips the active flag of a machine.
func (s *Store) SetMachineActive(ctx context.Context, id string, active bool) error {
	n, err := s.exec(ctx, `UPDATE machines SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewMachineNotFound(id)
	}
	return nil
}

func (s *Store) listMachines(ctx context.Context, query string, args ...interface{}) ([]types.Machine, error) {
	var out []types.Machine
	err := s.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var m types.Machine
			var metadata sql.NullString
			var hash sql.NullInt64
			if err := rows.Scan(&m.ID, &m.Hostname, &m.DisplayName, &m.Address, &m.LastContactMs,
				&m.FirstSeenMs, &m.Active, &metadata, &hash); err != nil {
				return errors.Database("scan machine", err)
			}
			if metadata.Valid {
				m.Metadata = json.RawMessage(metadata.String)
			}
			if hash.Valid {
				m.MetadataHash = uint64(hash.Int64)
			}
			out = append(out, m)
		}
		return nil
	}, query, args...)
	return out, err
}
