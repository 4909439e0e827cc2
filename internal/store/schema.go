package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// =============================================================================
// Schema
// =============================================================================

const (
	tableSamples  = "samples"
	tableHourly   = "hourly_summaries"
	tableDaily    = "daily_summaries"
	tableMachines = "machines"
	tableSettings = "settings"
)

// tableFor returns the table holding rows of a tier.
func tableFor(t types.Tier) (string, error) {
	switch t {
	case types.TierRaw:
		return tableSamples, nil
	case types.TierHourly:
		return tableHourly, nil
	case types.TierDaily:
		return tableDaily, nil
	default:
		return "", fmt.Errorf("tier %s: %w", t, errInvalidTier)
	}
}

// timeColumn returns the column ordering rows of a tier.
func timeColumn(t types.Tier) string {
	if t == types.TierRaw {
		return "ts_ms"
	}
	return "bucket_start"
}

// sampleColumns lists the value columns of the samples table in field order.
func sampleColumns() []string {
	cols := make([]string, 0, types.NumFields)
	for _, f := range types.AllFields() {
		cols = append(cols, f.String())
	}
	return cols
}

type summaryColumn struct {
	field types.Field
	stat  types.Stat
}

// summaryColumns lists the stat columns of a summary table in field order.
func summaryColumns() []summaryColumn {
	var cols []summaryColumn
	for _, f := range types.AllFields() {
		for _, st := range f.Stats() {
			cols = append(cols, summaryColumn{field: f, stat: st})
		}
	}
	return cols
}

func createSamplesSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS samples (\n")
	b.WriteString("\tmachine_id VARCHAR NOT NULL,\n")
	b.WriteString("\tts_ms BIGINT NOT NULL")
	for _, col := range sampleColumns() {
		b.WriteString(",\n\t")
		b.WriteString(col)
		b.WriteString(" DOUBLE")
	}
	b.WriteString("\n)")
	return b.String()
}

func createSummarySQL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(table)
	b.WriteString(" (\n")
	b.WriteString("\tmachine_id VARCHAR NOT NULL,\n")
	b.WriteString("\tbucket_start BIGINT NOT NULL,\n")
	b.WriteString("\tsample_count BIGINT NOT NULL")
	for _, col := range summaryColumns() {
		b.WriteString(",\n\t")
		b.WriteString(col.field.Column(col.stat))
		b.WriteString(" DOUBLE")
	}
	b.WriteString(",\n\tcpu_load_p95 DOUBLE")
	b.WriteString(",\n\tPRIMARY KEY (machine_id, bucket_start)\n)")
	return b.String()
}

// migrate creates every table and index. It is idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "samples",
			sql:  createSamplesSQL(),
		},
		{
			name: "samples.idx_machine_ts",
			sql:  `CREATE INDEX IF NOT EXISTS idx_samples_machine_ts ON samples (machine_id, ts_ms)`,
		},
		{
			name: "hourly_summaries",
			sql:  createSummarySQL(tableHourly),
		},
		{
			name: "daily_summaries",
			sql:  createSummarySQL(tableDaily),
		},
		{
			name: "machines",
			sql: `CREATE TABLE IF NOT EXISTS machines (
				id VARCHAR PRIMARY KEY,
				hostname VARCHAR NOT NULL DEFAULT '',
				display_name VARCHAR NOT NULL DEFAULT '',
				address VARCHAR NOT NULL DEFAULT '',
				last_contact_ms BIGINT NOT NULL,
				first_seen_ms BIGINT NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				metadata VARCHAR,
				metadata_hash BIGINT
			)`,
		},
		{
			name: "settings",
			sql: `CREATE TABLE IF NOT EXISTS settings (
				key VARCHAR PRIMARY KEY,
				value VARCHAR NOT NULL
			)`,
		},
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}
