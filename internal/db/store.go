// Package db provides the entity store over SQLite.
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/converso-app/backend/internal/models"
	"github.com/converso-app/backend/internal/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so every Store operation
// works inside or outside a transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// checkpointKey is the sync_state row holding the last successful pull time.
const checkpointKey = "pull_checkpoint"

// Store provides durable access to entities, journals and the sync
// checkpoint. Each method is an atomic single-row write; DB.WithTx plus
// NewTxStore groups several writes into one SQLite transaction.
type Store struct {
	q querier
}

// NewStore creates a Store over an open database.
func NewStore(database *DB) *Store {
	return &Store{q: database.DB}
}

// NewTxStore creates a Store bound to an open transaction. All operations on
// the returned store become visible atomically when the transaction commits.
func NewTxStore(tx *sql.Tx) *Store {
	return &Store{q: tx}
}

// =====================================================
// Conversation operations
// =====================================================

// PutConversation upserts a conversation. The same path serves local creates,
// local renames and remote merge writes.
func (s *Store) PutConversation(c *models.Conversation) error {
	query := `
	INSERT INTO conversations (id, title, owner_id, created_at, updated_at, vector, sync_status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		owner_id = excluded.owner_id,
		updated_at = excluded.updated_at,
		vector = excluded.vector,
		sync_status = excluded.sync_status
	`
	_, err := s.q.Exec(query, c.ID, c.Title, c.OwnerID, c.CreatedAt, c.UpdatedAt, c.Vector, c.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to put conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns sql.ErrNoRows when absent.
func (s *Store) GetConversation(id models.UUID) (*models.Conversation, error) {
	query := `
	SELECT id, title, owner_id, created_at, updated_at, vector, sync_status
	FROM conversations WHERE id = ?
	`
	c := &models.Conversation{}
	err := s.q.QueryRow(query, id).Scan(
		&c.ID, &c.Title, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt, &c.Vector, &c.SyncStatus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteConversation removes a conversation; its messages cascade.
func (s *Store) DeleteConversation(id models.UUID) error {
	if _, err := s.q.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// ListConversations returns all conversations ordered by most recent update.
func (s *Store) ListConversations() ([]*models.Conversation, error) {
	query := `
	SELECT id, title, owner_id, created_at, updated_at, vector, sync_status
	FROM conversations ORDER BY updated_at DESC
	`
	rows, err := s.q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.Title, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt, &c.Vector, &c.SyncStatus); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =====================================================
// Message operations
// =====================================================

// PutMessage upserts a message. Content never changes after creation; the
// upsert exists so the sync merge path can normalize vector and sync_status.
func (s *Store) PutMessage(m *models.Message) error {
	query := `
	INSERT INTO messages (id, conversation_id, role, content, timestamp, vector, sync_status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		vector = excluded.vector,
		sync_status = excluded.sync_status
	`
	_, err := s.q.Exec(query, m.ID, m.ConversationID, m.Role, m.Content, m.Timestamp, m.Vector, m.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to put message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
// Returns sql.ErrNoRows when absent.
func (s *Store) GetMessage(id models.UUID) (*models.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, timestamp, vector, sync_status
	FROM messages WHERE id = ?
	`
	m := &models.Message{}
	err := s.q.QueryRow(query, id).Scan(
		&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp, &m.Vector, &m.SyncStatus)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMessage removes a single message.
func (s *Store) DeleteMessage(id models.UUID) error {
	if _, err := s.q.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(conversationID models.UUID) ([]*models.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, timestamp, vector, sync_status
	FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC
	`
	rows, err := s.q.Query(query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp, &m.Vector, &m.SyncStatus); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSynced flips an entity's sync_status to synced. Only the sync
// coordinator calls this, after a confirmed remote acknowledgment.
func (s *Store) MarkSynced(entityType models.EntityType, id models.UUID) error {
	table := "conversations"
	if entityType == models.EntityMessage {
		table = "messages"
	}
	_, err := s.q.Exec(
		fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ?", table),
		models.SyncStatusSynced, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", entityType, id, err)
	}
	return nil
}

// =====================================================
// Checkpoint
// =====================================================

// Checkpoint returns the last successful pull timestamp in epoch millis.
// First run returns 0.
func (s *Store) Checkpoint() (int64, error) {
	var v string
	err := s.q.QueryRow("SELECT v FROM sync_state WHERE k = ?", checkpointKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint value %q: %w", v, err)
	}
	return ts, nil
}

// SaveCheckpoint persists the pull checkpoint. The checkpoint never moves
// backwards, even if handed an older timestamp.
func (s *Store) SaveCheckpoint(ts int64) error {
	current, err := s.Checkpoint()
	if err != nil {
		return err
	}
	if ts < current {
		return nil
	}
	_, err = s.q.Exec(`
	INSERT INTO sync_state (k, v) VALUES (?, ?)
	ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		checkpointKey, strconv.FormatInt(ts, 10))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// =====================================================
// Journals
// =====================================================

// AppendChangeLog journals a local mutation.
func (s *Store) AppendChangeLog(entry *models.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	_, err := s.q.Exec(`
	INSERT INTO change_log (id, entity_type, entity_id, operation, timestamp)
	VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.Operation, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append change log: %w", err)
	}
	return nil
}

// AppendConflictLog journals a resolved concurrent edit.
func (s *Store) AppendConflictLog(entry *models.ConflictLogEntry) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.DetectedAt == 0 {
		entry.DetectedAt = time.Now().UnixMilli()
	}
	_, err := s.q.Exec(`
	INSERT INTO conflict_log (id, entity_type, entity_id, local_max, remote_max, winner, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.LocalMax, entry.RemoteMax, entry.Winner, entry.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to append conflict log: %w", err)
	}
	return nil
}

// ConflictLogEntries returns resolved conflicts, newest first.
func (s *Store) ConflictLogEntries(limit int) ([]*models.ConflictLogEntry, error) {
	rows, err := s.q.Query(`
	SELECT id, entity_type, entity_id, local_max, remote_max, winner, detected_at
	FROM conflict_log ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConflictLogEntry
	for rows.Next() {
		e := &models.ConflictLogEntry{}
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.LocalMax, &e.RemoteMax, &e.Winner, &e.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =====================================================
// Remote credentials
// =====================================================

// SaveCredential upserts the remote store credential row.
func (s *Store) SaveCredential(c *models.RemoteCredential) error {
	now := time.Now().UnixMilli()
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.q.Exec(`
	INSERT INTO remote_credentials (id, endpoint, token_encrypted, is_enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		endpoint = excluded.endpoint,
		token_encrypted = excluded.token_encrypted,
		is_enabled = excluded.is_enabled,
		updated_at = excluded.updated_at`,
		c.ID, c.Endpoint, c.TokenEncrypted, c.IsEnabled, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// GetCredential returns the enabled credential, or sql.ErrNoRows.
func (s *Store) GetCredential() (*models.RemoteCredential, error) {
	c := &models.RemoteCredential{}
	err := s.q.QueryRow(`
	SELECT id, endpoint, token_encrypted, is_enabled, created_at, updated_at
	FROM remote_credentials WHERE is_enabled = 1 ORDER BY updated_at DESC LIMIT 1`).Scan(
		&c.ID, &c.Endpoint, &c.TokenEncrypted, &c.IsEnabled, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
