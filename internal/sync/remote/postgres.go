// Package remote provides the Postgres adapter for the shared record store.
package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/converso-app/backend/internal/models"
)

// PostgresStore implements RecordStore against a shared Postgres database.
// Deployments that already run Postgres point every device at the same
// sync_records table instead of standing up an HTTP service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the DSN and ensures the records table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the shared table on first use.
func (s *PostgresStore) ensureSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sync_records (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		server_updated_at BIGINT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);
	CREATE INDEX IF NOT EXISTS idx_sync_records_cursor
		ON sync_records (entity_type, server_updated_at);`)
	if err != nil {
		return classifyPQ(fmt.Errorf("failed to ensure sync_records schema: %w", err))
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Upsert implements RecordStore.Upsert. The server assigns the modification
// time, so devices with skewed clocks still produce a consistent pull cursor.
func (s *PostgresStore) Upsert(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_records (entity_type, id, device_id, payload, server_updated_at)
	VALUES ($1, $2, $3, $4, (EXTRACT(EPOCH FROM now()) * 1000)::bigint)
	ON CONFLICT (entity_type, id) DO UPDATE SET
		device_id = EXCLUDED.device_id,
		payload = EXCLUDED.payload,
		server_updated_at = EXCLUDED.server_updated_at`,
		record.EntityType, record.ID, record.DeviceID, []byte(record.Payload))
	if err != nil {
		return classifyPQ(fmt.Errorf("failed to upsert %s %s: %w", record.EntityType, record.ID, err))
	}
	return nil
}

// Delete implements RecordStore.Delete. Missing rows are a no-op.
func (s *PostgresStore) Delete(ctx context.Context, entityType models.EntityType, id models.UUID, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_records WHERE entity_type = $1 AND id = $2",
		entityType, id)
	if err != nil {
		return classifyPQ(fmt.Errorf("failed to delete %s %s: %w", entityType, id, err))
	}
	return nil
}

// QueryChangedSince implements RecordStore.QueryChangedSince.
func (s *PostgresStore) QueryChangedSince(ctx context.Context, entityType models.EntityType, since int64, excludeDeviceID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT entity_type, id, device_id, payload, server_updated_at
	FROM sync_records
	WHERE entity_type = $1 AND server_updated_at > $2 AND device_id <> $3
	ORDER BY server_updated_at ASC`,
		entityType, since, excludeDeviceID)
	if err != nil {
		return nil, classifyPQ(fmt.Errorf("failed to query changed records: %w", err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var payload []byte
		if err := rows.Scan(&r.EntityType, &r.ID, &r.DeviceID, &payload, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Payload = payload
		records = append(records, r)
	}
	return records, rows.Err()
}

// classifyPQ wraps Postgres errors into the shared error classes.
// Authentication and invalid-data SQLSTATE classes become terminal or auth;
// everything else stays transient (connection refused, failover, etc).
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code.Class() {
	case "28": // invalid_authorization_specification
		return &AuthError{Reason: pqErr.Message}
	case "22", "23", "42": // data exception, integrity violation, syntax/access
		return &StatusError{StatusCode: 400, Body: pqErr.Message}
	default:
		return err
	}
}
