// Package remote provides unit tests for the HTTP record store adapter.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/converso-app/backend/internal/models"
)

// TestHTTPUpsert tests request shape and idempotent success.
func TestHTTPUpsert(t *testing.T) {
	var gotPath, gotDevice, gotAuth string
	var gotBody Record

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDevice = r.Header.Get("X-Device-ID")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPConfig{BaseURL: server.URL, Token: "secret"})

	record := &Record{
		EntityType: models.EntityConversation,
		ID:         "conv-1",
		DeviceID:   "device-a",
		Payload:    json.RawMessage(`{"id":"conv-1","title":"hi"}`),
	}
	if err := store.Upsert(context.Background(), record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if gotPath != "/v1/conversations/conv-1" {
		t.Errorf("Expected upsert path /v1/conversations/conv-1, got %q", gotPath)
	}
	if gotDevice != "device-a" {
		t.Errorf("Expected device header, got %q", gotDevice)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotBody.ID != "conv-1" {
		t.Errorf("Expected record body, got %+v", gotBody)
	}
}

// TestHTTPQueryChangedSince tests cursor query parameters and decoding.
func TestHTTPQueryChangedSince(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path /v1/messages, got %q", r.URL.Path)
		}
		if r.URL.Query().Get("since") != "1000" {
			t.Errorf("Expected since=1000, got %q", r.URL.Query().Get("since"))
		}
		if r.URL.Query().Get("exclude_device") != "device-a" {
			t.Errorf("Expected exclude_device=device-a, got %q", r.URL.Query().Get("exclude_device"))
		}
		json.NewEncoder(w).Encode([]*Record{
			{EntityType: models.EntityMessage, ID: "msg-1", DeviceID: "device-b", UpdatedAt: 1500},
		})
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPConfig{BaseURL: server.URL})

	records, err := store.QueryChangedSince(context.Background(), models.EntityMessage, 1000, "device-a")
	if err != nil {
		t.Fatalf("QueryChangedSince failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].ID != "msg-1" || records[0].DeviceID != "device-b" {
		t.Errorf("Unexpected record %+v", records[0])
	}
}

// TestHTTPDeleteMissingIsNoop tests that deleting an absent record succeeds.
func TestHTTPDeleteMissingIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPConfig{BaseURL: server.URL})

	err := store.Delete(context.Background(), models.EntityMessage, "msg-gone", "device-a")
	if err != nil {
		t.Errorf("Expected delete of missing record to succeed, got %v", err)
	}
}

// TestHTTPStatusClassification tests that response codes map to the right
// error classes.
func TestHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassTransient},
		{http.StatusUnprocessableEntity, ClassTerminal},
		{http.StatusUnauthorized, ClassAuth},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		store := NewHTTPStore(HTTPConfig{BaseURL: server.URL})
		err := store.Upsert(context.Background(), &Record{
			EntityType: models.EntityConversation,
			ID:         "conv-1",
			Payload:    json.RawMessage(`{}`),
		})
		server.Close()

		if err == nil {
			t.Errorf("Expected error for status %d", tt.status)
			continue
		}
		if got := Classify(err); got != tt.want {
			t.Errorf("Status %d classified as %s, want %s", tt.status, got, tt.want)
		}
	}
}
