package settingsio

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sydlexius/needledrop/internal/database"
	"github.com/sydlexius/needledrop/internal/encryption"
	"github.com/sydlexius/needledrop/internal/provider"
)

func setupTestService(t *testing.T) (*Service, *provider.SettingsService, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	enc, err := encryption.New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ps := provider.NewSettingsService(db, enc)
	return NewService(db, ps), ps, db
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, ps, db := setupTestService(t)
	ctx := context.Background()

	if err := ps.SetCredentials(ctx, provider.NameSpotify, map[string]string{
		"client_id":     "abc123",
		"client_secret": "shh",
	}); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ('logging.level', 'debug')`); err != nil {
		t.Fatalf("seeding setting: %v", err)
	}

	env, err := svc.Export(ctx, "hunter2")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if env.Salt == "" || env.Data == "" {
		t.Fatal("envelope missing salt or data")
	}

	// Import into a fresh instance with a different encryption key.
	svc2, ps2, _ := setupTestService(t)
	result, err := svc2.Import(ctx, env, "hunter2")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Credentials != 1 {
		t.Errorf("Credentials = %d, want 1", result.Credentials)
	}
	if result.Settings == 0 {
		t.Error("Settings = 0, want at least the logging.level row")
	}

	got, err := ps2.GetCredential(ctx, provider.NameSpotify, "client_secret")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got != "shh" {
		t.Errorf("client_secret = %q, want %q", got, "shh")
	}
}

func TestImportWrongPassphrase(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	env, err := svc.Export(ctx, "correct")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := svc.Import(ctx, env, "wrong"); err == nil {
		t.Fatal("Import with wrong passphrase succeeded, want error")
	}
}

func TestExportSkipsEncryptedCredentialRows(t *testing.T) {
	svc, ps, _ := setupTestService(t)
	ctx := context.Background()

	if err := ps.SetCredentials(ctx, provider.NameSpotify, map[string]string{
		"client_id":     "id",
		"client_secret": "secret",
	}); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	env, err := svc.Export(ctx, "pw")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	plaintext, err := decryptWithPassphrase(env.Data, env.Salt, "pw")
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	for k := range payload.Settings {
		if strings.HasPrefix(k, "provider.") {
			t.Errorf("settings section contains credential row %q", k)
		}
	}
	if payload.Credentials["spotify"]["client_secret"] != "secret" {
		t.Errorf("credentials section = %v, want decrypted spotify fields", payload.Credentials)
	}
}
