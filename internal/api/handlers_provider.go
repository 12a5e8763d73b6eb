package api

import (
	"encoding/json"
	"net/http"

	"github.com/sydlexius/needledrop/internal/provider"
)

// handleListProviders returns each provider's credential configuration state.
func (r *Router) handleListProviders(w http.ResponseWriter, req *http.Request) {
	statuses, err := r.providerSettings.ListProviderStatuses(req.Context())
	if err != nil {
		r.logger.Error("listing provider statuses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

// handleSetProviderCredentials stores encrypted credential fields for a
// provider. All of the provider's fields must be supplied together.
func (r *Router) handleSetProviderCredentials(w http.ResponseWriter, req *http.Request) {
	name := provider.ProviderName(req.PathValue("name"))
	fields := provider.CredentialFields(name)
	if r.providerRegistry.Get(name) == nil {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "provider does not use credentials")
		return
	}

	var body map[string]string
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	values := make(map[string]string, len(fields))
	for _, f := range fields {
		v := body[f]
		if v == "" {
			writeError(w, http.StatusBadRequest, f+" is required")
			return
		}
		values[f] = v
	}

	if err := r.providerSettings.SetCredentials(req.Context(), name, values); err != nil {
		r.logger.Error("setting provider credentials", "provider", string(name), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleDeleteProviderCredentials removes a provider's stored credentials.
func (r *Router) handleDeleteProviderCredentials(w http.ResponseWriter, req *http.Request) {
	name := provider.ProviderName(req.PathValue("name"))
	if r.providerRegistry.Get(name) == nil {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	if err := r.providerSettings.DeleteCredentials(req.Context(), name); err != nil {
		r.logger.Error("deleting provider credentials", "provider", string(name), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestProvider verifies the stored credentials against the live
// provider. Unsaved credentials can be supplied in the body to test
// before saving; they are injected as context overrides and never
// persisted. The outcome is recorded as the provider's status.
func (r *Router) handleTestProvider(w http.ResponseWriter, req *http.Request) {
	name := provider.ProviderName(req.PathValue("name"))
	p := r.providerRegistry.Get(name)
	if p == nil {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	testable, ok := p.(provider.TestableProvider)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "provider does not support connection testing"})
		return
	}

	ctx := req.Context()
	if req.ContentLength > 0 {
		var body map[string]string
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		for _, f := range provider.CredentialFields(name) {
			if v := body[f]; v != "" {
				ctx = provider.WithCredentialOverride(ctx, name, f, v)
			}
		}
	}

	if err := testable.TestConnection(ctx); err != nil {
		if serr := r.providerSettings.SetStatus(req.Context(), name, "invalid"); serr != nil {
			r.logger.Warn("recording provider status", "provider", string(name), "error", serr)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	if serr := r.providerSettings.SetStatus(req.Context(), name, "ok"); serr != nil {
		r.logger.Warn("recording provider status", "provider", string(name), "error", serr)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
