// Package db provides unit tests for the entity store.
package db

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/converso-app/backend/internal/models"
)

// newTestStore opens a migrated in-memory database.
func newTestStore(t *testing.T) (*DB, *Store) {
	t.Helper()

	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}

	return database, NewStore(database)
}

// testConversation returns a conversation stamped by the given device.
func testConversation(id models.UUID, deviceID string) *models.Conversation {
	now := time.Now().UnixMilli()
	return &models.Conversation{
		ID:         id,
		Title:      "Test Conversation",
		OwnerID:    "owner-1",
		CreatedAt:  now,
		UpdatedAt:  now,
		Vector:     models.VectorClock{deviceID: now},
		SyncStatus: models.SyncStatusPending,
	}
}

// TestConversationRoundTrip tests put/get of a conversation with its vector.
func TestConversationRoundTrip(t *testing.T) {
	_, store := newTestStore(t)

	c := testConversation("conv-1", "device-a")
	if err := store.PutConversation(c); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}

	got, err := store.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	if got.Title != c.Title {
		t.Errorf("Expected title %q, got %q", c.Title, got.Title)
	}
	if !got.Vector.Equal(c.Vector) {
		t.Errorf("Expected vector %v, got %v", c.Vector, got.Vector)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("Expected pending status, got %s", got.SyncStatus)
	}
}

// TestPutConversationUpsert tests that a second put updates in place.
func TestPutConversationUpsert(t *testing.T) {
	_, store := newTestStore(t)

	c := testConversation("conv-1", "device-a")
	if err := store.PutConversation(c); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}

	c.Title = "Renamed"
	c.Touch("device-a")
	if err := store.PutConversation(c); err != nil {
		t.Fatalf("Second PutConversation failed: %v", err)
	}

	got, err := store.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("Expected renamed title, got %q", got.Title)
	}
}

// TestMessageCascadeDelete tests that deleting a conversation deletes its
// messages through the foreign key.
func TestMessageCascadeDelete(t *testing.T) {
	_, store := newTestStore(t)

	c := testConversation("conv-1", "device-a")
	if err := store.PutConversation(c); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		m := &models.Message{
			ID:             models.UUID(fmt.Sprintf("msg-%d", i)),
			ConversationID: "conv-1",
			Role:           models.RoleUser,
			Content:        "hello",
			Timestamp:      time.Now().UnixMilli(),
			Vector:         models.VectorClock{"device-a": 1},
			SyncStatus:     models.SyncStatusPending,
		}
		if err := store.PutMessage(m); err != nil {
			t.Fatalf("PutMessage failed: %v", err)
		}
	}

	if err := store.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	msgs, err := store.ListMessages("conv-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected cascade delete, found %d messages", len(msgs))
	}
}

// TestMarkSynced tests the coordinator-only status flip.
func TestMarkSynced(t *testing.T) {
	_, store := newTestStore(t)

	c := testConversation("conv-1", "device-a")
	if err := store.PutConversation(c); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}

	if err := store.MarkSynced(models.EntityConversation, "conv-1"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, err := store.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Expected synced status, got %s", got.SyncStatus)
	}
}

// TestCheckpointMonotonic tests persistence and monotonicity of the pull
// checkpoint.
func TestCheckpointMonotonic(t *testing.T) {
	_, store := newTestStore(t)

	// First run starts at epoch zero
	ts, err := store.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if ts != 0 {
		t.Errorf("Expected initial checkpoint 0, got %d", ts)
	}

	if err := store.SaveCheckpoint(1000); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// An older value must not move it backwards
	if err := store.SaveCheckpoint(500); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	ts, err = store.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if ts != 1000 {
		t.Errorf("Expected checkpoint 1000, got %d", ts)
	}
}

// TestWithTxRollback tests that a failed grouped write leaves no partial
// state behind.
func TestWithTxRollback(t *testing.T) {
	database, store := newTestStore(t)

	err := database.WithTx(func(tx *sql.Tx) error {
		st := NewTxStore(tx)
		if err := st.PutConversation(testConversation("conv-1", "device-a")); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatal("Expected error from WithTx")
	}

	if _, err := store.GetConversation("conv-1"); err != sql.ErrNoRows {
		t.Errorf("Expected no rows after rollback, got %v", err)
	}
}

// TestConflictLogRoundTrip tests the conflict journal.
func TestConflictLogRoundTrip(t *testing.T) {
	_, store := newTestStore(t)

	entry := &models.ConflictLogEntry{
		EntityType: models.EntityMessage,
		EntityID:   "msg-1",
		LocalMax:   100,
		RemoteMax:  200,
		Winner:     "remote",
	}
	if err := store.AppendConflictLog(entry); err != nil {
		t.Fatalf("AppendConflictLog failed: %v", err)
	}

	entries, err := store.ConflictLogEntries(10)
	if err != nil {
		t.Fatalf("ConflictLogEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Winner != "remote" {
		t.Errorf("Expected remote winner, got %q", entries[0].Winner)
	}
}
