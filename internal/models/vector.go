// Package models provides data model definitions for the Converso sync core.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// VectorClock maps a device identifier to the logical timestamp (milliseconds
// since epoch, device-local wall clock) of that device's latest write.
//
// The values are wall-clock millis, not Lamport counters, so clock skew between
// devices can make an older write win a merge. Known simplification; a hybrid
// logical clock would close that gap.
type VectorClock map[string]int64

// Tick records a local write: the device's entry becomes max(existing, now).
// Entries never move backwards.
func (v VectorClock) Tick(deviceID string, now int64) {
	if now > v[deviceID] {
		v[deviceID] = now
	}
}

// Max returns the largest timestamp across all devices. An empty clock is 0.
func (v VectorClock) Max() int64 {
	var max int64
	for _, ts := range v {
		if ts > max {
			max = ts
		}
	}
	return max
}

// MaxDevice returns the device identifier holding the largest timestamp.
// Ties between devices go to the lexicographically greater identifier so the
// answer is the same on every replica. Empty clock returns "".
func (v VectorClock) MaxDevice() string {
	var (
		maxTS  int64 = -1
		device string
	)
	for id, ts := range v {
		if ts > maxTS || (ts == maxTS && id > device) {
			maxTS = ts
			device = id
		}
	}
	return device
}

// Merge returns the element-wise maximum of both clocks. Neither input is
// modified.
func (v VectorClock) Merge(other VectorClock) VectorClock {
	merged := make(VectorClock, len(v)+len(other))
	for id, ts := range v {
		merged[id] = ts
	}
	for id, ts := range other {
		if ts > merged[id] {
			merged[id] = ts
		}
	}
	return merged
}

// Clone returns a copy of the clock.
func (v VectorClock) Clone() VectorClock {
	c := make(VectorClock, len(v))
	for id, ts := range v {
		c[id] = ts
	}
	return c
}

// Equal reports whether both clocks hold identical entries.
func (v VectorClock) Equal(other VectorClock) bool {
	if len(v) != len(other) {
		return false
	}
	for id, ts := range v {
		if other[id] != ts {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer, persisting the clock as JSON text.
func (v VectorClock) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector clock: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for VectorClock.
func (v *VectorClock) Scan(value interface{}) error {
	if value == nil {
		*v = VectorClock{}
		return nil
	}
	var data []byte
	switch raw := value.(type) {
	case string:
		data = []byte(raw)
	case []byte:
		data = raw
	default:
		return fmt.Errorf("cannot scan %T into VectorClock", value)
	}
	if len(data) == 0 {
		*v = VectorClock{}
		return nil
	}
	return json.Unmarshal(data, v)
}

// SyncStatus tracks an entity's position in the sync lifecycle.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)
