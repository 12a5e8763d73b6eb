package provider

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sydlexius/needledrop/internal/encryption"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		t.Fatalf("creating settings table: %v", err)
	}
	return db
}

func setupTestEncryptor(t *testing.T) *encryption.Encryptor {
	t.Helper()
	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	enc, err := encryption.New(key)
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	return enc
}

func TestCredentialRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	// Initially empty
	val, err := svc.GetCredential(ctx, NameSpotify, "client_id")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty credential, got %s", val)
	}

	// Store both fields
	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{
		"client_id":     "app-id-123",
		"client_secret": "app-secret-456",
	})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	val, err = svc.GetCredential(ctx, NameSpotify, "client_id")
	if err != nil {
		t.Fatalf("GetCredential after set: %v", err)
	}
	if val != "app-id-123" {
		t.Errorf("expected 'app-id-123', got %s", val)
	}
	val, err = svc.GetCredential(ctx, NameSpotify, "client_secret")
	if err != nil {
		t.Fatalf("GetCredential after set: %v", err)
	}
	if val != "app-secret-456" {
		t.Errorf("expected 'app-secret-456', got %s", val)
	}

	// Verify the secret is encrypted at rest
	var raw string
	err = db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", "provider.spotify.client_secret").Scan(&raw)
	if err != nil {
		t.Fatalf("reading raw value: %v", err)
	}
	if raw == "app-secret-456" {
		t.Error("credential stored in plaintext, expected encrypted")
	}

	// Update one field
	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{"client_secret": "rotated-789"})
	if err != nil {
		t.Fatalf("SetCredentials update: %v", err)
	}
	val, err = svc.GetCredential(ctx, NameSpotify, "client_secret")
	if err != nil {
		t.Fatalf("GetCredential after update: %v", err)
	}
	if val != "rotated-789" {
		t.Errorf("expected 'rotated-789', got %s", val)
	}
}

func TestDeleteCredentials(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	err := svc.SetCredentials(ctx, NameSpotify, map[string]string{
		"client_id":     "id",
		"client_secret": "secret",
	})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	if err := svc.DeleteCredentials(ctx, NameSpotify); err != nil {
		t.Fatalf("DeleteCredentials: %v", err)
	}

	val, err := svc.GetCredential(ctx, NameSpotify, "client_id")
	if err != nil {
		t.Fatalf("GetCredential after delete: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty credential after delete, got %s", val)
	}
}

func TestHasCredentials(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	// MusicBrainz needs no credentials.
	has, err := svc.HasCredentials(ctx, NameMusicBrainz)
	if err != nil {
		t.Fatalf("HasCredentials: %v", err)
	}
	if !has {
		t.Error("expected musicbrainz to report credentials present")
	}

	// Spotify with nothing stored.
	has, err = svc.HasCredentials(ctx, NameSpotify)
	if err != nil {
		t.Fatalf("HasCredentials: %v", err)
	}
	if has {
		t.Error("expected spotify to report credentials missing")
	}

	// One of two fields is not enough.
	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{"client_id": "id-only"})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	has, err = svc.HasCredentials(ctx, NameSpotify)
	if err != nil {
		t.Fatalf("HasCredentials: %v", err)
	}
	if has {
		t.Error("expected partial credentials to report missing")
	}

	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{"client_secret": "secret"})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	has, err = svc.HasCredentials(ctx, NameSpotify)
	if err != nil {
		t.Fatalf("HasCredentials: %v", err)
	}
	if !has {
		t.Error("expected complete credentials to report present")
	}
}

func TestCredentialOverride(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	err := svc.SetCredentials(ctx, NameSpotify, map[string]string{"client_id": "stored-id"})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	octx := WithCredentialOverride(ctx, NameSpotify, "client_id", "override-id")

	val, err := svc.GetCredential(octx, NameSpotify, "client_id")
	if err != nil {
		t.Fatalf("GetCredential with override: %v", err)
	}
	if val != "override-id" {
		t.Errorf("expected override value, got %s", val)
	}

	// The parent context still reads the stored value.
	val, err = svc.GetCredential(ctx, NameSpotify, "client_id")
	if err != nil {
		t.Fatalf("GetCredential without override: %v", err)
	}
	if val != "stored-id" {
		t.Errorf("expected stored value, got %s", val)
	}
}

func TestSetCredentialsClearsStatus(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	err := svc.SetCredentials(ctx, NameSpotify, map[string]string{
		"client_id":     "id",
		"client_secret": "secret",
	})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	if err := svc.SetStatus(ctx, NameSpotify, "ok"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	status, err := svc.GetStatus(ctx, NameSpotify)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != "ok" {
		t.Errorf("expected status ok, got %s", status)
	}

	// Replacing credentials reverts the status to untested.
	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{"client_secret": "new-secret"})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	status, err = svc.GetStatus(ctx, NameSpotify)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != "" {
		t.Errorf("expected cleared status, got %s", status)
	}
}

func TestListProviderStatuses(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	statuses, err := svc.ListProviderStatuses(ctx)
	if err != nil {
		t.Fatalf("ListProviderStatuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}

	byName := make(map[ProviderName]ProviderStatus, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}

	if byName[NameMusicBrainz].Status != "not_required" {
		t.Errorf("expected musicbrainz not_required, got %s", byName[NameMusicBrainz].Status)
	}
	if byName[NameSpotify].Status != "unconfigured" {
		t.Errorf("expected spotify unconfigured, got %s", byName[NameSpotify].Status)
	}

	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{
		"client_id":     "id",
		"client_secret": "secret",
	})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	statuses, err = svc.ListProviderStatuses(ctx)
	if err != nil {
		t.Fatalf("ListProviderStatuses: %v", err)
	}
	for _, st := range statuses {
		if st.Name == NameSpotify && st.Status != "untested" {
			t.Errorf("expected spotify untested, got %s", st.Status)
		}
	}
}

func TestAvailableProviderNames(t *testing.T) {
	db := setupTestDB(t)
	enc := setupTestEncryptor(t)
	svc := NewSettingsService(db, enc)
	ctx := context.Background()

	available, err := svc.AvailableProviderNames(ctx)
	if err != nil {
		t.Fatalf("AvailableProviderNames: %v", err)
	}
	if !available[NameMusicBrainz] {
		t.Error("expected musicbrainz available without credentials")
	}
	if available[NameSpotify] {
		t.Error("expected spotify unavailable without credentials")
	}

	err = svc.SetCredentials(ctx, NameSpotify, map[string]string{
		"client_id":     "id",
		"client_secret": "secret",
	})
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	available, err = svc.AvailableProviderNames(ctx)
	if err != nil {
		t.Fatalf("AvailableProviderNames: %v", err)
	}
	if !available[NameSpotify] {
		t.Error("expected spotify available after storing credentials")
	}
}
