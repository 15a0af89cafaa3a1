// Package models provides data model definitions for the Converso sync core.
package models

import "time"

// Conversation represents a chat conversation owned by a user.
type Conversation struct {
	ID         UUID        `db:"id" json:"id"`
	Title      string      `db:"title" json:"title"`
	OwnerID    string      `db:"owner_id" json:"owner_id"`
	CreatedAt  int64       `db:"created_at" json:"created_at"`
	UpdatedAt  int64       `db:"updated_at" json:"updated_at"`
	Vector     VectorClock `db:"vector" json:"vector"`
	SyncStatus SyncStatus  `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *Conversation) CreatedAtTime() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *Conversation) UpdatedAtTime() time.Time {
	return time.UnixMilli(c.UpdatedAt)
}

// Touch records a local edit on the given device: bumps UpdatedAt, ticks the
// vector clock and marks the conversation pending for sync.
func (c *Conversation) Touch(deviceID string) {
	now := time.Now().UnixMilli()
	c.UpdatedAt = now
	if c.Vector == nil {
		c.Vector = VectorClock{}
	}
	c.Vector.Tick(deviceID, now)
	c.SyncStatus = SyncStatusPending
}
