package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/converso-app/backend/internal/config"
	"github.com/converso-app/backend/internal/db"
)

// A config-file token must end up encrypted in the database, with no
// plaintext copy left on disk, and later runs must read it back from there.
func TestLoadTokenMigratesAndScrubsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device_id: device-a
remote:
  kind: http
  endpoint: https://sync.example.com
  token: super-secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	token, err := loadToken(cfg, database, path)
	if err != nil {
		t.Fatalf("loadToken failed: %v", err)
	}
	if token != "super-secret" {
		t.Errorf("token = %q, want the config token", token)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(raw), "super-secret") {
		t.Error("plaintext token should be scrubbed from the config file")
	}

	cred, err := db.NewStore(database).GetCredential()
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if strings.Contains(cred.TokenEncrypted, "super-secret") {
		t.Error("stored credential should not contain the plaintext token")
	}

	// A later run loads the scrubbed config and falls back to the stored
	// credential.
	cfg2, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	token2, err := loadToken(cfg2, database, path)
	if err != nil {
		t.Fatalf("loadToken failed: %v", err)
	}
	if token2 != "super-secret" {
		t.Errorf("stored credential should round-trip, got %q", token2)
	}
}
