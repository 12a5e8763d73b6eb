package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sydlexius/needledrop/internal/settingsio"
)

const maxImportSize = 1 << 20 // 1 MB; an export is a few KB of settings

func (r *Router) handleSettingsExport(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "passphrase is required")
		return
	}

	envelope, err := r.settingsIOService.Export(req.Context(), body.Passphrase)
	if err != nil {
		r.logger.Error("settings export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := fmt.Sprintf("needledrop-settings-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		r.logger.Error("writing settings export", "error", err)
	}
}

func (r *Router) handleSettingsImport(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Passphrase string              `json:"passphrase"`
		Envelope   settingsio.Envelope `json:"envelope"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, maxImportSize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "passphrase is required")
		return
	}

	result, err := r.settingsIOService.Import(req.Context(), &body.Envelope, body.Passphrase)
	if err != nil {
		r.logger.Error("settings import failed", "error", err)
		writeError(w, http.StatusBadRequest, "import failed: "+err.Error())
		return
	}

	r.logger.Info("settings imported",
		"settings", result.Settings,
		"credentials", result.Credentials,
	)
	writeJSON(w, http.StatusOK, result)
}
