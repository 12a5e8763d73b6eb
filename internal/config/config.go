package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EncryptionConfig holds encryption key settings.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// ProvidersConfig holds per-provider toggles. Credentials are not
// configured here; they live encrypted in the settings table.
type ProvidersConfig struct {
	Spotify     SpotifyConfig     `yaml:"spotify"`
	MusicBrainz MusicBrainzConfig `yaml:"musicbrainz"`
}

// SpotifyConfig holds Spotify provider settings.
type SpotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MusicBrainzConfig holds MusicBrainz provider settings. Contact is
// included in the User-Agent header per the MusicBrainz etiquette rules.
type MusicBrainzConfig struct {
	Enabled bool   `yaml:"enabled"`
	Contact string `yaml:"contact"`
}

// EnrichmentConfig holds batch enrichment settings.
type EnrichmentConfig struct {
	// BatchLimit caps how many items a single run processes per target.
	BatchLimit int `yaml:"batch_limit"`
	// Scheduled enables the recurring background run.
	Scheduled     bool   `yaml:"scheduled"`
	IntervalHours int    `yaml:"interval_hours"`
	Target        string `yaml:"target"`
}

// BackupConfig holds database backup settings.
type BackupConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	IntervalHours  int    `yaml:"interval_hours"`
	RetentionCount int    `yaml:"retention_count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/needledrop.db",
		},
		Encryption: EncryptionConfig{},
		Providers: ProvidersConfig{
			Spotify:     SpotifyConfig{Enabled: true},
			MusicBrainz: MusicBrainzConfig{Enabled: true},
		},
		Enrichment: EnrichmentConfig{
			BatchLimit:    100,
			Scheduled:     false,
			IntervalHours: 24,
			Target:        "all",
		},
		Backup: BackupConfig{
			Enabled:        false,
			IntervalHours:  24,
			RetentionCount: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("ND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ND_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("ND_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ND_ENCRYPTION_KEY"); v != "" {
		c.Encryption.Key = v
	}
	if v := os.Getenv("ND_SPOTIFY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Providers.Spotify.Enabled = b
		}
	}
	if v := os.Getenv("ND_MUSICBRAINZ_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Providers.MusicBrainz.Enabled = b
		}
	}
	if v := os.Getenv("ND_MUSICBRAINZ_CONTACT"); v != "" {
		c.Providers.MusicBrainz.Contact = v
	}
	if v := os.Getenv("ND_ENRICH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Enrichment.BatchLimit = n
		}
	}
	if v := os.Getenv("ND_ENRICH_SCHEDULED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enrichment.Scheduled = b
		}
	}
	if v := os.Getenv("ND_ENRICH_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Enrichment.IntervalHours = n
		}
	}
	if v := os.Getenv("ND_ENRICH_TARGET"); v != "" {
		c.Enrichment.Target = v
	}
	if v := os.Getenv("ND_BACKUP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backup.Enabled = b
		}
	}
	if v := os.Getenv("ND_BACKUP_PATH"); v != "" {
		c.Backup.Path = v
	}
	if v := os.Getenv("ND_BACKUP_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backup.IntervalHours = n
		}
	}
	if v := os.Getenv("ND_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backup.RetentionCount = n
		}
	}
	if v := os.Getenv("ND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ND_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// ValidTargets lists the accepted enrichment targets.
var ValidTargets = []string{"mentions", "tracks", "artists", "all"}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Enrichment.BatchLimit < 1 || c.Enrichment.BatchLimit > 100 {
		return fmt.Errorf("enrichment batch_limit must be 1-100, got %d", c.Enrichment.BatchLimit)
	}
	if c.Enrichment.IntervalHours < 1 {
		return fmt.Errorf("enrichment interval_hours must be positive, got %d", c.Enrichment.IntervalHours)
	}
	if !validTarget(c.Enrichment.Target) {
		return fmt.Errorf("invalid enrichment target: %q", c.Enrichment.Target)
	}
	if c.Backup.IntervalHours < 1 {
		return fmt.Errorf("backup interval_hours must be positive, got %d", c.Backup.IntervalHours)
	}
	if c.Backup.RetentionCount < 0 {
		return fmt.Errorf("backup retention_count must not be negative, got %d", c.Backup.RetentionCount)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

func validTarget(t string) bool {
	for _, v := range ValidTargets {
		if t == v {
			return true
		}
	}
	return false
}
