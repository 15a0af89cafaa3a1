// Package queue provides the durable mutation queue for offline-first writes.
//
// Every local create/update/delete appends an item here in the same
// transaction as the entity write. Items leave the queue only on confirmed
// remote acknowledgment; retry backoff is capped with a hard retry ceiling so
// a permanently failing item parks as failed instead of growing the queue.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/converso-app/backend/internal/db"
	"github.com/converso-app/backend/internal/errors"
	"github.com/converso-app/backend/internal/logging"
	"github.com/converso-app/backend/internal/models"
)

// MaxRetries is the hard retry ceiling. An item failing more than this many
// times parks as failed and is never auto-retried.
const MaxRetries = 4

// backoff maps retryCount (1-based) to the delay before the next attempt.
// Fixed escalating table, not unbounded exponential: worst-case queue growth
// stays bounded.
var backoff = [MaxRetries + 1]time.Duration{
	0,
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// execer is the subset of database/sql needed to append inside a caller's
// transaction. Both *sql.DB and *sql.Tx satisfy it.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Counts summarizes queue occupancy for status reporting.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// Queue manages pending sync mutations in the mutation_queue table.
type Queue struct {
	db *db.DB
}

// New creates a Queue over the local database. The schema must already be
// migrated.
func New(database *db.DB) *Queue {
	return &Queue{db: database}
}

// Enqueue appends a mutation in its own transaction. Prefer EnqueueTx when
// the entity write and the append must commit together.
func (q *Queue) Enqueue(op models.Operation, entityType models.EntityType, entityID models.UUID, payload json.RawMessage) error {
	return q.EnqueueTx(q.db, op, entityType, entityID, payload)
}

// EnqueueTx appends a mutation using the caller's executor, typically an open
// transaction. A storage failure propagates to the caller: silently losing a
// queued mutation is a correctness bug, not a degradation.
func (q *Queue) EnqueueTx(ex execer, op models.Operation, entityType models.EntityType, entityID models.UUID, payload json.RawMessage) error {
	if op == models.OpDelete {
		// Deletes carry no snapshot
		payload = nil
	} else if len(payload) == 0 {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("%s mutation requires a payload", op))
	}

	now := time.Now().UnixMilli()
	_, err := ex.Exec(`
	INSERT INTO mutation_queue (entity_type, operation, entity_id, payload, status, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, 0)`,
		entityType, op, entityID, payloadArg(payload), models.QueuePending, now)
	if err != nil {
		return errors.Wrap(errors.ErrEnqueue, "failed to enqueue mutation", err)
	}

	logging.Debug("Enqueued mutation", map[string]interface{}{
		"operation":   string(op),
		"entity_type": string(entityType),
		"entity_id":   entityID.String(),
	})
	return nil
}

// payloadArg maps an empty payload to NULL.
func payloadArg(payload json.RawMessage) interface{} {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}

// DequeueBatch returns up to maxSize pending items whose retry time has
// arrived, oldest first. It does not mutate state; callers mark items
// processing explicitly.
func (q *Queue) DequeueBatch(maxSize int) ([]*models.MutationQueueItem, error) {
	now := time.Now().UnixMilli()
	rows, err := q.db.Query(`
	SELECT seq, entity_type, operation, entity_id, payload, status, enqueued_at, retry_count, next_retry_at, last_error
	FROM mutation_queue
	WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
	ORDER BY enqueued_at ASC, seq ASC
	LIMIT ?`,
		models.QueuePending, now, maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation queue: %w", err)
	}
	defer rows.Close()

	var items []*models.MutationQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanItem reads one queue row.
func scanItem(rows *sql.Rows) (*models.MutationQueueItem, error) {
	item := &models.MutationQueueItem{}
	var payload sql.NullString
	var nextRetryAt sql.NullInt64
	err := rows.Scan(&item.Seq, &item.EntityType, &item.Operation, &item.EntityID,
		&payload, &item.Status, &item.EnqueuedAt, &item.RetryCount, &nextRetryAt, &item.LastError)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	if payload.Valid {
		item.Payload = json.RawMessage(payload.String)
	}
	if nextRetryAt.Valid {
		v := nextRetryAt.Int64
		item.NextRetryAt = &v
	}
	return item, nil
}

// MarkProcessing transitions an item to processing before its push attempt.
func (q *Queue) MarkProcessing(seq int64) error {
	res, err := q.db.Exec(
		"UPDATE mutation_queue SET status = ? WHERE seq = ? AND status = ?",
		models.QueueProcessing, seq, models.QueuePending)
	if err != nil {
		return fmt.Errorf("failed to mark item %d processing: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d not pending", seq)
	}
	return nil
}

// MarkDone deletes an item after confirmed remote acknowledgment.
func (q *Queue) MarkDone(seq int64) error {
	return q.MarkDoneTx(q.db, seq)
}

// MarkDoneTx deletes an acknowledged item using the caller's executor, so the
// removal commits together with the entity's status update.
func (q *Queue) MarkDoneTx(ex execer, seq int64) error {
	if _, err := ex.Exec("DELETE FROM mutation_queue WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", seq, err)
	}
	return nil
}

// MarkFailed records a push failure. Terminal errors and items past the retry
// ceiling park as failed; everything else returns to pending with the next
// backoff delay applied.
func (q *Queue) MarkFailed(item *models.MutationQueueItem, cause error, terminal bool) error {
	item.RetryCount++
	item.LastError = cause.Error()

	if terminal || item.RetryCount > MaxRetries {
		item.Status = models.QueueFailed
		_, err := q.db.Exec(
			"UPDATE mutation_queue SET status = ?, retry_count = ?, next_retry_at = NULL, last_error = ? WHERE seq = ?",
			models.QueueFailed, item.RetryCount, item.LastError, item.Seq)
		if err != nil {
			return fmt.Errorf("failed to park queue item %d: %w", item.Seq, err)
		}
		logging.Warn("Mutation parked as failed", map[string]interface{}{
			"seq":         item.Seq,
			"entity_id":   item.EntityID.String(),
			"retry_count": item.RetryCount,
			"terminal":    terminal,
			"error":       item.LastError,
		})
		return nil
	}

	next := time.Now().Add(backoff[item.RetryCount]).UnixMilli()
	item.Status = models.QueuePending
	item.NextRetryAt = &next
	_, err := q.db.Exec(
		"UPDATE mutation_queue SET status = ?, retry_count = ?, next_retry_at = ?, last_error = ? WHERE seq = ?",
		models.QueuePending, item.RetryCount, next, item.LastError, item.Seq)
	if err != nil {
		return fmt.Errorf("failed to reschedule queue item %d: %w", item.Seq, err)
	}

	logging.Debug("Mutation rescheduled", map[string]interface{}{
		"seq":         item.Seq,
		"retry_count": item.RetryCount,
		"delay":       backoff[item.RetryCount].String(),
	})
	return nil
}

// ResetProcessing returns stuck processing items to pending. Called on
// startup: a crash mid-push leaves items processing, and the push is
// idempotent, so retrying is always safe.
func (q *Queue) ResetProcessing() (int, error) {
	res, err := q.db.Exec(
		"UPDATE mutation_queue SET status = ? WHERE status = ?",
		models.QueuePending, models.QueueProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing items: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Reset in-flight mutations from previous run", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

// RetryFailed resets all failed items to pending with a fresh retry budget.
// Only an explicit user action (force sync, retry button) calls this; failed
// items are never auto-discarded or auto-retried.
func (q *Queue) RetryFailed() (int, error) {
	res, err := q.db.Exec(
		"UPDATE mutation_queue SET status = ?, retry_count = 0, next_retry_at = NULL, last_error = '' WHERE status = ?",
		models.QueuePending, models.QueueFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Reset failed mutations for retry", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

// Counts returns queue occupancy by status.
func (q *Queue) Counts() (Counts, error) {
	rows, err := q.db.Query("SELECT status, COUNT(*) FROM mutation_queue GROUP BY status")
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch status {
		case models.QueuePending:
			c.Pending = n
		case models.QueueProcessing:
			c.Processing = n
		case models.QueueFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// Backoff exposes the delay for a given retry count, for tests and status
// display.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	if retryCount > MaxRetries {
		retryCount = MaxRetries
	}
	return backoff[retryCount]
}
