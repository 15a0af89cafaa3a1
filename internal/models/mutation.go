// Package models provides data model definitions for the Converso sync core.
package models

import (
	"encoding/json"
	"time"
)

// EntityType identifies which entity table a mutation targets.
type EntityType string

const (
	EntityConversation EntityType = "conversation"
	EntityMessage      EntityType = "message"
)

// Operation is the kind of local mutation queued for push.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// QueueStatus is the processing state of a queued mutation.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// MutationQueueItem is one pending local mutation awaiting remote
// acknowledgment. Items are appended in mutation order and deleted once the
// remote store confirms the write. Payload carries the full entity snapshot
// for create/update and is empty for delete.
type MutationQueueItem struct {
	Seq         int64           `db:"seq" json:"seq"`
	EntityType  EntityType      `db:"entity_type" json:"entity_type"`
	Operation   Operation       `db:"operation" json:"operation"`
	EntityID    UUID            `db:"entity_id" json:"entity_id"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status      QueueStatus     `db:"status" json:"status"`
	EnqueuedAt  int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	NextRetryAt *int64          `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for MutationQueueItem.
func (MutationQueueItem) TableName() string {
	return "mutation_queue"
}

// EnqueuedAtTime returns the EnqueuedAt as time.Time.
func (m *MutationQueueItem) EnqueuedAtTime() time.Time {
	return time.UnixMilli(m.EnqueuedAt)
}

// Ready reports whether the item is eligible for dequeue at the given time.
func (m *MutationQueueItem) Ready(now int64) bool {
	if m.Status != QueuePending {
		return false
	}
	return m.NextRetryAt == nil || *m.NextRetryAt <= now
}
