package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
)

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Store     *storage.Store
	Assistant *pipeline.Assistant
	Sites     *siteprompt.Manager
	Token     string
}

// NewHandler returns the codebuddy REST API. /health is open; everything
// under /v1 requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/providers", handleListProviders(deps))
		r.Get("/providers/{id}", handleGetProvider(deps))

		r.Post("/analyze", handleAnalyze(deps))
		r.Post("/improve", handleImprove(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Get("/sessions/{id}/history", handleGetHistory(deps))
		r.Delete("/sessions/{id}/history", handleClearHistory(deps))

		r.Get("/site-prompts", handleListSitePrompts(deps))
		r.Post("/site-prompts", handleAddSitePrompt(deps))
		r.Get("/site-prompts/resolve", handleResolveSitePrompt(deps))
		r.Get("/site-prompts/suggest", handleSuggestSitePattern)
		r.Patch("/site-prompts/{pattern}", handlePatchSitePrompt(deps))
		r.Delete("/site-prompts/{pattern}", handleDeleteSitePrompt(deps))
		r.Post("/site-prompts/{pattern}/toggle", handleToggleSitePrompt(deps))

		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Delete("/interactions/{id}", handleDeleteInteraction(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if deps.Assistant != nil {
			body["provider"] = string(deps.Assistant.Settings().ProviderID)
		}
		writeJSON(w, http.StatusOK, body)
	}
}
