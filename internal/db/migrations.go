package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, phase_state, leases, ledger_entries, trust_records, attestation_baselines",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add audit_notes table for task registry annotations",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE phase_state (
    task_id       TEXT PRIMARY KEY,
    current_phase TEXT NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE leases (
    task_id       TEXT NOT NULL,
    phase         TEXT NOT NULL,
    holder        TEXT NOT NULL,
    acquired_at   DATETIME NOT NULL,
    expires_at    DATETIME NOT NULL,
    renewal_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (task_id, phase)
);

CREATE TABLE ledger_entries (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL,
    from_phase TEXT NOT NULL,
    to_phase   TEXT NOT NULL,
    artifacts  TEXT NOT NULL DEFAULT '[]',
    validated  INTEGER NOT NULL,
    backtrack  INTEGER NOT NULL DEFAULT 0,
    timestamp  DATETIME NOT NULL,
    agent_type TEXT NOT NULL DEFAULT '',
    provenance TEXT,
    prev_hash  TEXT NOT NULL,
    hash       TEXT NOT NULL
);

CREATE INDEX idx_ledger_task_seq ON ledger_entries(task_id, seq);

CREATE TABLE trust_records (
    phase            TEXT PRIMARY KEY,
    trust            REAL NOT NULL,
    successes        INTEGER NOT NULL DEFAULT 0,
    failures         INTEGER NOT NULL DEFAULT 0,
    failure_patterns TEXT NOT NULL DEFAULT '{}',
    last_updated     DATETIME NOT NULL
);

CREATE TABLE attestation_baselines (
    task_id    TEXT NOT NULL,
    phase      TEXT NOT NULL,
    hash       TEXT NOT NULL,
    contract   TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (task_id, phase)
);
`

const migration002SQL = `
CREATE TABLE audit_notes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL,
    note       TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX idx_audit_notes_task ON audit_notes(task_id, created_at);
`

// Migrate applies all pending migrations in order.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}
