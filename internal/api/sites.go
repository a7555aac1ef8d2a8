package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
)

type sitePromptPatch struct {
	Name    *string `json:"name"`
	Prompt  *string `json:"prompt"`
	Enabled *bool   `json:"enabled"`
}

// ResolveResult reports which instruction applies to a URL.
type ResolveResult struct {
	URL      string `json:"url"`
	Hostname string `json:"hostname"`
	Pattern  string `json:"pattern,omitempty"`
	Prompt   string `json:"prompt"`
	Matched  bool   `json:"matched"`
}

func writeSiteError(w http.ResponseWriter, err error) {
	var pe *siteprompt.PatternError
	switch {
	case errors.As(err, &pe), errors.Is(err, siteprompt.ErrEmptyPrompt):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, siteprompt.ErrExists):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "site prompt not found")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func patternParam(r *http.Request) string {
	p := chi.URLParam(r, "pattern")
	if u, err := url.PathUnescape(p); err == nil {
		return u
	}
	return p
}

func handleListSitePrompts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Sites.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list site prompts: %v", err)
			return
		}
		if entries == nil {
			entries = []siteprompt.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleAddSitePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e := siteprompt.Entry{Enabled: true}
		if !decodeBody(w, r, &e) {
			return
		}
		saved, err := deps.Sites.Add(e)
		if err != nil {
			writeSiteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handlePatchSitePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch sitePromptPatch
		if !decodeBody(w, r, &patch) {
			return
		}

		e, err := deps.Sites.Get(patternParam(r))
		if err != nil {
			writeSiteError(w, err)
			return
		}
		if patch.Name != nil {
			e.Name = *patch.Name
		}
		if patch.Prompt != nil {
			e.Prompt = *patch.Prompt
		}
		if patch.Enabled != nil {
			e.Enabled = *patch.Enabled
		}

		saved, err := deps.Sites.Update(e)
		if err != nil {
			writeSiteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleToggleSitePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := siteprompt.NormalizeSitePattern(patternParam(r))
		enabled, err := deps.Sites.Toggle(pattern)
		if err != nil {
			writeSiteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "enabled": enabled})
	}
}

func handleDeleteSitePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sites.Remove(patternParam(r)); err != nil {
			writeSiteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleResolveSitePrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := r.URL.Query().Get("url")
		if rawURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		var fallback string
		if deps.Assistant != nil {
			fallback = deps.Assistant.Settings().CustomPrompt
		}
		prompt, entry, err := deps.Sites.Resolve(rawURL, fallback)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve site prompt: %v", err)
			return
		}

		res := ResolveResult{URL: rawURL, Hostname: siteprompt.Hostname(rawURL), Prompt: prompt}
		if entry != nil {
			res.Pattern = entry.Pattern
			res.Matched = true
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSuggestSitePattern(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
		return
	}
	pattern, err := siteprompt.SuggestPattern(rawURL)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pattern": pattern})
}
