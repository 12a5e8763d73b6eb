package api

import (
	"net/http"
	"strconv"

	"github.com/sydlexius/needledrop/internal/report"
)

// handleReport returns the coverage report: linkage and enrichment
// progress, cache and budget state, recent runs, and an unmatched sample.
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) {
	cov, err := r.reportService.Coverage(req.Context())
	if err != nil {
		r.logger.Error("building coverage report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	if cov.Unmatched == nil {
		cov.Unmatched = []report.UnmatchedMention{}
	}
	writeJSON(w, http.StatusOK, cov)
}

// handleUnlinkedMentions returns the head of the linkage backlog for
// operator inspection.
func (r *Router) handleUnlinkedMentions(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	mentions, err := r.mentionService.Unlinked(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing unlinked mentions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list mentions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mentions": mentions, "count": len(mentions)})
}
