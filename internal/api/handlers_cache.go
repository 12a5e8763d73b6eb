package api

import (
	"net/http"

	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
)

func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.cacheService.Stats(req.Context())
	if err != nil {
		r.logger.Error("reading cache stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	if stats == nil {
		stats = []matchcache.ProviderStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": stats})
}

// handleCacheClear removes cached lookup outcomes. With ?provider= only
// that provider's entries go; without it, all of them. This is the
// operator's invalidation hatch: cleared keys are re-queried on the next
// run.
func (r *Router) handleCacheClear(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("provider")
	if name != "" && !isKnownProvider(name) {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	removed, err := r.cacheService.Clear(req.Context(), name)
	if err != nil {
		r.logger.Error("clearing match cache", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	r.logger.Info("match cache cleared", "provider", name, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (r *Router) handleListBudgets(w http.ResponseWriter, req *http.Request) {
	budgets, err := r.budgetService.All(req.Context())
	if err != nil {
		r.logger.Error("listing rate budgets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list budgets")
		return
	}
	if budgets == nil {
		budgets = []budget.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

// handleBudgetClear lifts a provider block early, or all blocks without
// ?provider=. Intended for blocks that outlived their cause.
func (r *Router) handleBudgetClear(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("provider")
	if name != "" && !isKnownProvider(name) {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	removed, err := r.budgetService.Clear(req.Context(), name)
	if err != nil {
		r.logger.Error("clearing rate budget", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear budget")
		return
	}
	r.logger.Info("rate budget cleared", "provider", name, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func isKnownProvider(name string) bool {
	for _, n := range provider.AllProviderNames() {
		if string(n) == name {
			return true
		}
	}
	return false
}
