// Package models provides data model definitions for the Converso sync core.
package models

import "time"

// MessageRole identifies the author side of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single chat message. Messages are owned exclusively by
// their conversation and deleted with it. Content is immutable once created;
// only the sync layer touches Vector and SyncStatus afterwards.
type Message struct {
	ID             UUID        `db:"id" json:"id"`
	ConversationID UUID        `db:"conversation_id" json:"conversation_id"`
	Role           MessageRole `db:"role" json:"role"`
	Content        string      `db:"content" json:"content"`
	Timestamp      int64       `db:"timestamp" json:"timestamp"`
	Vector         VectorClock `db:"vector" json:"vector"`
	SyncStatus     SyncStatus  `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// Time returns the Timestamp as time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Stamp records the local creation of the message on the given device.
func (m *Message) Stamp(deviceID string) {
	now := time.Now().UnixMilli()
	if m.Timestamp == 0 {
		m.Timestamp = now
	}
	if m.Vector == nil {
		m.Vector = VectorClock{}
	}
	m.Vector.Tick(deviceID, now)
	m.SyncStatus = SyncStatusPending
}
