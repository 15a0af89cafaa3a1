// Package remote defines the boundary to the shared record store and ships
// its transport adapters.
//
// The sync coordinator only sees the RecordStore interface and the error
// classes below; whether records travel over HTTP or sit in a shared
// Postgres is an adapter detail.
package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"

	"github.com/converso-app/backend/internal/models"
)

// Record is an entity snapshot as the remote store holds it.
type Record struct {
	EntityType models.EntityType `json:"entity_type"`
	ID         models.UUID       `json:"id"`
	// DeviceID tags the device whose push produced this version, so pulls
	// can exclude self-originated echoes.
	DeviceID string `json:"device_id"`
	// UpdatedAt is the remote-side modification time in epoch millis. It is
	// assigned by the store on upsert and drives checkpoint queries; it is
	// unrelated to the entity's own vector clock.
	UpdatedAt int64 `json:"updated_at"`
	// Payload is the full entity snapshot (Conversation or Message JSON).
	Payload json.RawMessage `json:"payload"`
}

// Notification is a live change pushed by the remote store.
type Notification struct {
	EntityType models.EntityType `json:"entity_type"`
	Operation  models.Operation  `json:"operation"`
	EntityID   models.UUID       `json:"entity_id"`
	DeviceID   string            `json:"device_id"`
	// Record carries the new snapshot for create/update, nil for delete.
	Record *Record `json:"record,omitempty"`
}

// RecordStore is the abstract versioned record store the coordinator syncs
// against. Upserts are idempotent: pushing the same snapshot twice is a no-op
// write of the same content.
type RecordStore interface {
	Upsert(ctx context.Context, record *Record) error
	Delete(ctx context.Context, entityType models.EntityType, id models.UUID, deviceID string) error
	// QueryChangedSince returns records of one type whose remote-side
	// modification time is strictly greater than since, excluding records
	// last written by excludeDeviceID.
	QueryChangedSince(ctx context.Context, entityType models.EntityType, since int64, excludeDeviceID string) ([]*Record, error)
}

// Class buckets a remote failure for the retry policy.
type Class int

const (
	// ClassTransient errors (DNS, timeout, 5xx) are retried per backoff.
	ClassTransient Class = iota
	// ClassTerminal errors (validation, 4xx) can never succeed; retrying
	// them wastes the retry budget, so they park the item immediately.
	ClassTerminal
	// ClassAuth suspends the whole sync loop until credentials refresh.
	ClassAuth
)

// String returns a readable class name.
func (c Class) String() string {
	switch c {
	case ClassTerminal:
		return "terminal"
	case ClassAuth:
		return "auth"
	default:
		return "transient"
	}
}

// StatusError is an HTTP-level rejection from the remote store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote store returned status %d: %s", e.StatusCode, e.Body)
}

// AuthError marks a credential failure regardless of transport.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote store authentication failed: %s", e.Reason)
}

// PayloadError marks a malformed record that can never parse. Pull passes
// log and skip these rather than aborting.
type PayloadError struct {
	EntityID models.UUID
	Err      error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed remote payload for %s: %v", e.EntityID, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Classify buckets an adapter error. Unknown errors default to transient so
// an unanticipated failure mode degrades to retry rather than data loss.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return ClassAuth
	}

	var payloadErr *PayloadError
	if stderrors.As(err, &payloadErr) {
		return ClassTerminal
	}

	var statusErr *StatusError
	if stderrors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return ClassAuth
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return ClassTerminal
		default:
			return ClassTransient
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}
