// Package models provides data model definitions for the Converso sync core.
package models

import "time"

// ConflictLogEntry records a resolved concurrent edit for user awareness.
// Conflicts are never surfaced as errors; this journal is the only trace.
type ConflictLogEntry struct {
	ID         UUID       `db:"id" json:"id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   UUID       `db:"entity_id" json:"entity_id"`
	LocalMax   int64      `db:"local_max" json:"local_max"`
	RemoteMax  int64      `db:"remote_max" json:"remote_max"`
	Winner     string     `db:"winner" json:"winner"` // local or remote
	DetectedAt int64      `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLogEntry.
func (ConflictLogEntry) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLogEntry) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
