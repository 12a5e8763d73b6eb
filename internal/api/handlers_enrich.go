package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sydlexius/needledrop/internal/enrich"
)

// handleEnrich runs one enrichment batch synchronously and returns its
// report. The limit cap keeps the worst case bounded; longer backlogs
// are worked through by repeated invocations.
func (r *Router) handleEnrich(w http.ResponseWriter, req *http.Request) {
	var body enrich.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Target == "" {
		body.Target = enrich.TargetAll
	}
	if _, err := enrich.ParseTarget(string(body.Target)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Limit < 0 || body.Limit > enrich.MaxBatchLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	rep, err := r.runner.Run(req.Context(), body)
	if err != nil {
		if errors.Is(err, enrich.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		r.logger.Error("enrichment run failed", "target", string(body.Target), "error", err)
		writeError(w, http.StatusInternalServerError, "enrichment run failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleEnrichRuns returns recent run history, newest first.
func (r *Router) handleEnrichRuns(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := r.runner.Runs().Recent(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing enrichment runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []enrich.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
