// Package models provides data model definitions for the Converso sync core.
package models

import "time"

// ChangeLogEntry journals every local mutation for diagnostics and sync
// bookkeeping. Entries are written in the same transaction as the entity write
// and the queue append.
type ChangeLogEntry struct {
	ID         UUID       `db:"id" json:"id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   UUID       `db:"entity_id" json:"entity_id"`
	Operation  Operation  `db:"operation" json:"operation"`
	Timestamp  int64      `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for ChangeLogEntry.
func (ChangeLogEntry) TableName() string {
	return "change_log"
}

// Time returns the Timestamp as time.Time.
func (c *ChangeLogEntry) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}
