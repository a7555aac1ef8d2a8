package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/kalambet/codebuddy/internal/provider"
)

// ProviderInfo is the public description of a provider. It never carries
// credentials.
type ProviderInfo struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	APIKeyPlaceholder string           `json:"api_key_placeholder,omitempty"`
	ConfigFields      []provider.Field `json:"config_fields"`
	Models            []provider.Model `json:"models"`
	DefaultModel      string           `json:"default_model,omitempty"`
	Active            bool             `json:"active"`
}

func describeProvider(d provider.Descriptor, active provider.ID) ProviderInfo {
	models := d.Models()
	if models == nil {
		models = []provider.Model{}
	}
	return ProviderInfo{
		ID:                string(d.ID()),
		Name:              d.Name(),
		APIKeyPlaceholder: d.APIKeyPlaceholder(),
		ConfigFields:      d.ConfigFields(),
		Models:            models,
		DefaultModel:      provider.DefaultModel(d),
		Active:            d.ID() == active,
	}
}

func activeProvider(deps Deps) provider.ID {
	if deps.Assistant == nil {
		return ""
	}
	return deps.Assistant.Settings().ProviderID
}

func handleListProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := activeProvider(deps)
		writeJSON(w, http.StatusOK, lo.Map(provider.All(), func(d provider.Descriptor, _ int) ProviderInfo {
			return describeProvider(d, active)
		}))
	}
}

func handleGetProvider(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := provider.Lookup(chi.URLParam(r, "id"))
		if errors.Is(err, provider.ErrUnknownProvider) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, describeProvider(d, activeProvider(deps)))
	}
}
