// Package db provides unit tests for schema migrations.
package db

import "testing"

// TestMigrateUp tests that all migrations apply cleanly from scratch.
func TestMigrateUp(t *testing.T) {
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()

	m := NewMigrator(database.DB)
	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected version %d, got %d", len(migrations), version)
	}

	// Every target table exists
	tables := []string{
		"conversations", "messages", "mutation_queue",
		"sync_state", "change_log", "conflict_log", "remote_credentials",
	}
	for _, table := range tables {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

// TestMigrateIdempotent tests that a second Up is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()

	m := NewMigrator(database.DB)
	if err := m.Up(); err != nil {
		t.Fatalf("First Up failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Second Up failed: %v", err)
	}

	applied, err := m.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

// TestMigrateChecksumMismatch tests that an edited migration is rejected.
func TestMigrateChecksumMismatch(t *testing.T) {
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()

	m := NewMigrator(database.DB)
	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	// Tamper with a recorded checksum
	_, err = database.Exec("UPDATE schema_migrations SET checksum = ? WHERE version = 1",
		"0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Tamper failed: %v", err)
	}

	if err := m.Up(); err == nil {
		t.Error("Expected checksum mismatch error")
	}
}
