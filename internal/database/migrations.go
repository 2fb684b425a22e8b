package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply on databases
// created by an older schema.sql. Each must be idempotent.
var migrations = []migration{
	{
		name:  "add merge_runs.talk_time_ms",
		sql:   `ALTER TABLE merge_runs ADD COLUMN IF NOT EXISTS talk_time_ms jsonb NOT NULL DEFAULT '{}'`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'merge_runs' AND column_name = 'talk_time_ms')`,
	},
	{
		name:  "add merge_runs source index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_merge_runs_source_created ON merge_runs (source, created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_merge_runs_source_created')`,
	},
	{
		name:  "add merged_segments speaker index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_merged_segments_speaker ON merged_segments (run_id, speaker)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_merged_segments_speaker')`,
	},
}

// Migrate brings a database created by an older schema.sql up to date.
// Migrations whose check reports them present are skipped. The first one that
// fails to apply stops the run with a *MigrationError, which callers should
// treat as fatal.
func (db *DB) Migrate(ctx context.Context) error {
	pending, err := db.pendingMigrations(ctx, migrations)
	if err != nil {
		return err
	}
	for i, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[i:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	if len(pending) > 0 {
		db.log.Info().Int("applied", len(pending)).Msg("schema migrations complete")
	}
	return nil
}

func (db *DB) pendingMigrations(ctx context.Context, all []migration) ([]migration, error) {
	var pending []migration
	for _, m := range all {
		if m.check == "" {
			pending = append(pending, m)
			continue
		}
		var present bool
		if err := db.Pool.QueryRow(ctx, m.check).Scan(&present); err != nil {
			return nil, fmt.Errorf("check migration %q: %w", m.name, err)
		}
		if !present {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema migration %q failed: %v\n\n", e.failed.name, e.err)
	fmt.Fprintf(&b, "%d migration(s) still pending. Apply them as the table owner:\n\n", len(e.pending))
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  -- %s\n  %s;\n", m.name, m.sql)
	}
	b.WriteString("\nThen restart scribe-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
