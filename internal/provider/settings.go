package provider

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sydlexius/needledrop/internal/encryption"
)

// Credential field names per provider. Providers absent from this map
// need no stored credentials.
var credentialFields = map[ProviderName][]string{
	NameSpotify: {"client_id", "client_secret"},
}

// CredentialFields returns the credential field names a provider stores,
// in prompt order. Nil for providers that need none.
func CredentialFields(name ProviderName) []string {
	return credentialFields[name]
}

// RequiresCredentials returns whether a provider needs stored credentials.
func RequiresCredentials(name ProviderName) bool {
	return len(credentialFields[name]) > 0
}

// SettingsService manages provider credentials and verification status
// using the settings key-value table. Credential values are encrypted at
// rest.
type SettingsService struct {
	db        *sql.DB
	encryptor *encryption.Encryptor
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(db *sql.DB, encryptor *encryption.Encryptor) *SettingsService {
	return &SettingsService{db: db, encryptor: encryptor}
}

// credentialSettingKey returns the settings table key for one credential field.
func credentialSettingKey(name ProviderName, field string) string {
	return fmt.Sprintf("provider.%s.%s", name, field)
}

// statusSettingKey returns the settings table key for a provider's
// credential verification status.
func statusSettingKey(name ProviderName) string {
	return fmt.Sprintf("provider.%s.status", name)
}

// ctxKeyOverride is the context key for per-request credential overrides.
// This lets handlers inject unsaved credentials so providers read them
// during TestConnection without persisting first.
type ctxKeyOverride struct{}

type overrideKey struct {
	name  ProviderName
	field string
}

// WithCredentialOverride returns a child context that overrides one stored
// credential field for the named provider. GetCredential will return this
// value instead of querying the database.
func WithCredentialOverride(ctx context.Context, name ProviderName, field, value string) context.Context {
	parent, _ := ctx.Value(ctxKeyOverride{}).(map[overrideKey]string)

	// Always copy so a parent context's map is never mutated.
	overrides := make(map[overrideKey]string, len(parent)+1)
	for k, v := range parent {
		overrides[k] = v
	}
	overrides[overrideKey{name: name, field: field}] = value
	return context.WithValue(ctx, ctxKeyOverride{}, overrides)
}

// GetCredential retrieves and decrypts one credential field for a provider.
// Returns empty string if the field is not stored. If an override was
// injected via WithCredentialOverride, that value is returned instead.
func (s *SettingsService) GetCredential(ctx context.Context, name ProviderName, field string) (string, error) {
	if overrides, ok := ctx.Value(ctxKeyOverride{}).(map[overrideKey]string); ok {
		if v, found := overrides[overrideKey{name: name, field: field}]; found {
			return v, nil
		}
	}

	key := credentialSettingKey(name, field)
	var encrypted string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credential %s for %s: %w", field, name, err)
	}
	plaintext, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting credential %s for %s: %w", field, name, err)
	}
	return plaintext, nil
}

// SetCredentials encrypts and stores credential fields for a provider.
// The upserts and the status clear run in a single transaction so the
// verification status never goes stale against half-written credentials.
func (s *SettingsService) SetCredentials(ctx context.Context, name ProviderName, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	for field, value := range values {
		encrypted, err := s.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting credential %s for %s: %w", field, name, err)
		}
		key := credentialSettingKey(name, field)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = datetime('now')",
			key, encrypted, encrypted,
		); err != nil {
			return fmt.Errorf("storing credential %s for %s: %w", field, name, err)
		}
	}

	// Clear stale status so the credentials show as untested until re-verified.
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", statusSettingKey(name)); err != nil {
		return fmt.Errorf("clearing status for %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credentials for %s: %w", name, err)
	}
	return nil
}

// DeleteCredentials removes all stored credential fields for a provider
// and its verification status in a single transaction.
func (s *SettingsService) DeleteCredentials(ctx context.Context, name ProviderName) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	for _, field := range CredentialFields(name) {
		key := credentialSettingKey(name, field)
		if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
			return fmt.Errorf("deleting credential %s for %s: %w", field, name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", statusSettingKey(name)); err != nil {
		return fmt.Errorf("clearing status for %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete for %s: %w", name, err)
	}
	return nil
}

// HasCredentials checks whether every credential field for a provider is
// stored. Providers that need none always report true.
func (s *SettingsService) HasCredentials(ctx context.Context, name ProviderName) (bool, error) {
	fields := CredentialFields(name)
	if len(fields) == 0 {
		return true, nil
	}
	for _, field := range fields {
		key := credentialSettingKey(name, field)
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings WHERE key = ?", key).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("checking credential %s for %s: %w", field, name, err)
		}
		if count == 0 {
			return false, nil
		}
	}
	return true, nil
}

// SetStatus persists the verification result ("ok", "invalid") for a
// provider's credentials. An empty string deletes the status row,
// reverting to "untested".
func (s *SettingsService) SetStatus(ctx context.Context, name ProviderName, status string) error {
	key := statusSettingKey(name)
	if status == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
		if err != nil {
			return fmt.Errorf("clearing status for %s: %w", name, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = datetime('now')",
		key, status, status,
	)
	if err != nil {
		return fmt.Errorf("storing status for %s: %w", name, err)
	}
	return nil
}

// GetStatus returns the persisted verification status for a provider's
// credentials. Returns empty string if no status is stored.
func (s *SettingsService) GetStatus(ctx context.Context, name ProviderName) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", statusSettingKey(name)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading status for %s: %w", name, err)
	}
	return value, nil
}

// ProviderStatus describes the credential configuration state for a provider.
type ProviderStatus struct {
	Name           ProviderName   `json:"name"`
	DisplayName    string         `json:"display_name"`
	RequiresAuth   bool           `json:"requires_auth"`
	HasCredentials bool           `json:"has_credentials"`
	Status         string         `json:"status"` // "ok", "invalid", "untested", "not_required", "unconfigured"
	AccessTier     AccessTier     `json:"access_tier"`
	HelpURL        string         `json:"help_url,omitempty"`
	RateLimit      *RateLimitInfo `json:"rate_limit,omitempty"`
}

// ListProviderStatuses returns the credential state for all known providers.
func (s *SettingsService) ListProviderStatuses(ctx context.Context) ([]ProviderStatus, error) {
	caps := Capabilities()
	var statuses []ProviderStatus
	for _, name := range AllProviderNames() {
		requires := RequiresCredentials(name)
		has, err := s.HasCredentials(ctx, name)
		if err != nil {
			return nil, err
		}
		status := "unconfigured"
		switch {
		case !requires:
			status = "not_required"
		case has:
			status = "untested"
		}
		if requires && has {
			persisted, err := s.GetStatus(ctx, name)
			if err != nil {
				return nil, err
			}
			if persisted != "" {
				status = persisted
			}
		}
		cap := caps[name]
		statuses = append(statuses, ProviderStatus{
			Name:           name,
			DisplayName:    name.DisplayName(),
			RequiresAuth:   requires,
			HasCredentials: has,
			Status:         status,
			AccessTier:     cap.Tier,
			HelpURL:        cap.HelpURL,
			RateLimit:      cap.RateLimit,
		})
	}
	return statuses, nil
}

// AvailableProviderNames returns the set of provider names that are
// configured (either they need no credentials, or all fields are stored).
// Unconfigured providers are excluded so the runner can skip them without
// producing noisy ErrNotConfigured warnings.
func (s *SettingsService) AvailableProviderNames(ctx context.Context) (map[ProviderName]bool, error) {
	available := make(map[ProviderName]bool)
	for _, name := range AllProviderNames() {
		has, err := s.HasCredentials(ctx, name)
		if err != nil {
			return nil, err
		}
		if has {
			available[name] = true
		}
	}
	return available, nil
}
