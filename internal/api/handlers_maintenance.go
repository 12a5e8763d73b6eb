package api

import (
	"net/http"

	"github.com/sydlexius/needledrop/internal/backup"
)

func (r *Router) handleBackupCreate(w http.ResponseWriter, req *http.Request) {
	info, err := r.backupService.Backup(req.Context())
	if err != nil {
		r.logger.Error("backup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (r *Router) handleBackupList(w http.ResponseWriter, req *http.Request) {
	backups, err := r.backupService.ListBackups()
	if err != nil {
		r.logger.Error("listing backups", "error", err)
		writeError(w, http.StatusInternalServerError, "listing backups failed")
		return
	}
	if backups == nil {
		backups = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.maintenanceService.Status(req.Context())
	if err != nil {
		r.logger.Error("reading maintenance status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	if err := r.maintenanceService.Optimize(req.Context()); err != nil {
		r.logger.Error("optimize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "optimize failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
