// Package settingsio exports and imports operator settings as a single
// passphrase-encrypted file, so provider credentials and logging
// overrides can move between instances without sharing the instance
// encryption key.
package settingsio

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/version"
)

// pbkdf2Iterations is the OWASP-recommended iteration count for PBKDF2-SHA256.
const pbkdf2Iterations = 600_000

// Envelope is the outer JSON wrapper for an exported settings file.
type Envelope struct {
	Version    string `json:"version"`
	AppVersion string `json:"app_version"`
	CreatedAt  string `json:"created_at"`
	Salt       string `json:"salt"` // base64-encoded PBKDF2 salt
	Data       string `json:"data"` // base64-encoded nonce+ciphertext
}

// Payload is the decrypted inner content of an export. Credentials are
// carried in plaintext inside the encrypted envelope and re-encrypted
// with the importing instance's key on import.
type Payload struct {
	Settings    map[string]string            `json:"settings"`
	Credentials map[string]map[string]string `json:"credentials"`
}

// ImportResult summarizes what was imported.
type ImportResult struct {
	Settings    int `json:"settings"`
	Credentials int `json:"credentials"`
}

// Service handles settings export and import.
type Service struct {
	db               *sql.DB
	providerSettings *provider.SettingsService
}

// NewService creates a settings export/import service.
func NewService(db *sql.DB, ps *provider.SettingsService) *Service {
	return &Service{db: db, providerSettings: ps}
}

// Export collects the settings table and decrypted provider credentials,
// encrypts them with the passphrase, and returns an Envelope.
func (s *Service) Export(ctx context.Context, passphrase string) (*Envelope, error) {
	payload := Payload{
		Settings:    make(map[string]string),
		Credentials: make(map[string]map[string]string),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		// Credential rows are instance-key ciphertext; they travel
		// decrypted in the credentials section instead.
		if strings.HasPrefix(k, "provider.") {
			continue
		}
		payload.Settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}

	for _, name := range provider.AllProviderNames() {
		fields := provider.CredentialFields(name)
		if len(fields) == 0 {
			continue
		}
		has, err := s.providerSettings.HasCredentials(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("checking %s credentials: %w", name, err)
		}
		if !has {
			continue
		}
		values := make(map[string]string, len(fields))
		for _, f := range fields {
			v, err := s.providerSettings.GetCredential(ctx, name, f)
			if err != nil {
				return nil, fmt.Errorf("reading %s credential %s: %w", name, f, err)
			}
			values[f] = v
		}
		payload.Credentials[string(name)] = values
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	data, salt, err := encryptWithPassphrase(payloadJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	return &Envelope{
		Version:    "1.0",
		AppVersion: version.Version,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Salt:       salt,
		Data:       data,
	}, nil
}

// Import decrypts and applies settings from an Envelope using the given
// passphrase. Credentials are stored through the provider settings
// service, which re-encrypts them with this instance's key.
func (s *Service) Import(ctx context.Context, env *Envelope, passphrase string) (*ImportResult, error) {
	if env.Data == "" {
		return nil, fmt.Errorf("empty export data")
	}

	plaintext, err := decryptWithPassphrase(env.Data, env.Salt, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypting export data: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("parsing export payload: %w", err)
	}

	result := &ImportResult{}

	now := time.Now().UTC().Format(time.RFC3339)
	for k, v := range payload.Settings {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now)
		if err != nil {
			return nil, fmt.Errorf("upserting setting %q: %w", k, err)
		}
		result.Settings++
	}

	for name, values := range payload.Credentials {
		pn := provider.ProviderName(name)
		if !provider.RequiresCredentials(pn) {
			continue
		}
		if err := s.providerSettings.SetCredentials(ctx, pn, values); err != nil {
			return nil, fmt.Errorf("storing %s credentials: %w", name, err)
		}
		result.Credentials++
	}

	return result, nil
}

// deriveKey uses PBKDF2-SHA256 to derive a 32-byte AES-256 key from a
// passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

// encryptWithPassphrase encrypts plaintext using a passphrase-derived
// AES-256-GCM key. Returns base64-encoded ciphertext and salt.
func encryptWithPassphrase(plaintext []byte, passphrase string) (data, salt string, err error) {
	saltBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, saltBytes); err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}

	key := deriveKey(passphrase, saltBytes)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(saltBytes),
		nil
}

// decryptWithPassphrase decrypts base64-encoded ciphertext using a
// passphrase-derived AES-256-GCM key with the given base64-encoded salt.
func decryptWithPassphrase(data, salt, passphrase string) ([]byte, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}

	key := deriveKey(passphrase, saltBytes)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting (wrong passphrase?): %w", err)
	}

	return plaintext, nil
}
