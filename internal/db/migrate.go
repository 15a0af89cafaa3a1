// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration is an embedded schema migration step.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations are applied in order on startup. Never edit an entry once
// shipped; append a new version instead, the checksum check will reject a
// changed history.
var migrations = []migration{
	{
		version:     1,
		description: "entity tables",
		sql: `
	CREATE TABLE conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		vector TEXT NOT NULL DEFAULT '{}',
		sync_status TEXT NOT NULL DEFAULT 'pending'
			CHECK(sync_status IN ('synced', 'pending', 'conflict'))
	);
	CREATE TABLE messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL
			REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		vector TEXT NOT NULL DEFAULT '{}',
		sync_status TEXT NOT NULL DEFAULT 'pending'
			CHECK(sync_status IN ('synced', 'pending', 'conflict'))
	);
	CREATE INDEX idx_messages_conversation ON messages(conversation_id);`,
	},
	{
		version:     2,
		description: "mutation queue",
		sql: `
	CREATE TABLE mutation_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL CHECK(entity_type IN ('conversation', 'message')),
		operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
		entity_id TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK(status IN ('pending', 'processing', 'failed')),
		enqueued_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_mutation_queue_status ON mutation_queue(status);`,
	},
	{
		version:     3,
		description: "sync state and journals",
		sql: `
	CREATE TABLE sync_state (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);
	CREATE TABLE change_log (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE TABLE conflict_log (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		local_max INTEGER NOT NULL,
		remote_max INTEGER NOT NULL,
		winner TEXT NOT NULL,
		detected_at INTEGER NOT NULL
	);`,
	},
	{
		version:     4,
		description: "remote credentials",
		sql: `
	CREATE TABLE remote_credentials (
		id TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL,
		token_encrypted TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// AppliedMigrations returns all applied migrations.
func (m *Migrator) AppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations. Each migration runs in its own
// transaction; an already-applied version is verified against its recorded
// checksum and skipped.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration, len(applied))
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	for _, mig := range migrations {
		sum := checksum(mig.sql)

		if prev, ok := appliedByVersion[mig.version]; ok {
			if prev.Checksum != sum {
				return fmt.Errorf("migration V%d checksum mismatch: schema history was edited", mig.version)
			}
			continue
		}

		if err := m.apply(mig, sum); err != nil {
			return fmt.Errorf("failed to apply migration V%d (%s): %w", mig.version, mig.description, err)
		}
	}

	return nil
}

// apply runs one migration and records it, atomically.
func (m *Migrator) apply(mig migration, sum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.sql); err != nil {
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		mig.version, time.Now().Unix(), mig.description, sum,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// checksum returns the hex SHA-256 of a migration body.
func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
