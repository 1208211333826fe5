package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcphostlib/mcphost/host"
)

// mountLegacyViews wires the read-only dashboard surface: aggregated capability listings,
// server status, suggestion lookups, and the workspace roots configuration endpoint.
func mountLegacyViews(r chi.Router, api host.API) {
	r.Get("/status", handleStatus(api))
	r.Get("/servers", handleServers(api))

	r.Get("/capabilities/tools", handleJSON(func() any { return api.Tools() }))
	r.Get("/capabilities/resources", handleJSON(func() any { return api.Resources() }))
	r.Get("/capabilities/templates", handleJSON(func() any { return api.ResourceTemplates() }))
	r.Get("/capabilities/prompts", handleJSON(func() any { return api.Prompts() }))

	r.Get("/suggest/resource", handleSuggest(func(q string) any { return api.SuggestServerForURI(q) }))
	r.Get("/suggest/tool", handleSuggest(func(q string) any { return api.SuggestServerForTool(q) }))
	r.Get("/suggest/prompt", handleSuggest(func(q string) any { return api.SuggestServerForPrompt(q) }))

	r.Get("/config/roots", handleJSON(func() any { return api.Roots() }))
	r.Post("/config/roots", handleSetRoots(api))
}

func handleStatus(api host.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"servers":           api.Servers(),
			"tools":             len(api.Tools()),
			"resources":         len(api.Resources()),
			"resourceTemplates": len(api.ResourceTemplates()),
			"prompts":           len(api.Prompts()),
		})
	}
}

func handleServers(api host.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, api.Servers())
	}
}

func handleJSON(get func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, get())
	}
}

func handleSuggest(suggest func(query string) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "missing q query parameter", http.StatusBadRequest)
			return
		}
		writeJSON(w, suggest(query))
	}
}

func handleSetRoots(api host.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var roots []host.Root
		if err := json.NewDecoder(r.Body).Decode(&roots); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if err := host.SetRootsValidated(r.Context(), api, roots); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
