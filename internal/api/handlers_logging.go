package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/needledrop/internal/logging"
)

func (r *Router) handleGetLogging(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging applies and persists logging settings. Omitted
// fields keep their current values; persisted values override the config
// file on the next start.
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	var cfg logging.Config
	if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if cfg.Level != "" && !logging.ValidLevel(cfg.Level) {
		writeError(w, http.StatusBadRequest, "invalid level; must be debug, info, warn, or error")
		return
	}
	if cfg.Format != "" && !logging.ValidFormat(cfg.Format) {
		writeError(w, http.StatusBadRequest, "invalid format; must be text or json")
		return
	}

	current := r.logManager.Config()
	if cfg.Level == "" {
		cfg.Level = current.Level
	}
	if cfg.Format == "" {
		cfg.Format = current.Format
	}
	if cfg.FilePath == "" {
		cfg.FilePath = current.FilePath
	}
	if cfg.FileMaxSizeMB == 0 {
		cfg.FileMaxSizeMB = current.FileMaxSizeMB
	}
	if cfg.FileMaxFiles == 0 {
		cfg.FileMaxFiles = current.FileMaxFiles
	}
	if cfg.FileMaxAgeDays == 0 {
		cfg.FileMaxAgeDays = current.FileMaxAgeDays
	}

	now := time.Now().UTC().Format(time.RFC3339)
	settings := map[string]string{
		"logging.level":             cfg.Level,
		"logging.format":            cfg.Format,
		"logging.file_path":         cfg.FilePath,
		"logging.file_max_size_mb":  strconv.Itoa(cfg.FileMaxSizeMB),
		"logging.file_max_files":    strconv.Itoa(cfg.FileMaxFiles),
		"logging.file_max_age_days": strconv.Itoa(cfg.FileMaxAgeDays),
	}
	for k, v := range settings {
		if _, err := r.db.ExecContext(req.Context(),
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now); err != nil {
			r.logger.Error("persisting logging setting", "key", k, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save logging settings")
			return
		}
	}

	r.logManager.Reconfigure(cfg)
	r.logger.Info("logging reconfigured", "config", cfg.String())
	writeJSON(w, http.StatusOK, cfg)
}
