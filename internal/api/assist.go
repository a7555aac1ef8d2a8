package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/codebuddy/internal/composer"
	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/storage"
	"github.com/kalambet/codebuddy/internal/worker"
)

// JobView is a job as reported to clients, with its result decoded.
type JobView struct {
	storage.Job
	Result json.RawMessage `json:"result,omitempty"`
}

func writeAssistError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrMissingOutput) || errors.Is(err, pipeline.ErrMissingScript) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

// handleAnalyze runs an analysis inline, or queues it when ?async=true.
// Provider failures are returned with status 200 and success=false so the
// body keeps the same shape either way.
func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if r.URL.Query().Get("async") == "true" {
			if strings.TrimSpace(req.Output) == "" {
				writeAssistError(w, pipeline.ErrMissingOutput)
				return
			}
			jobID, sessionID, err := worker.Enqueue(deps.Store, req)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"job_id":     jobID,
				"session_id": sessionID,
				"status":     "queued",
			})
			return
		}

		resp, err := deps.Assistant.Analyze(r.Context(), req)
		if err != nil {
			writeAssistError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleImprove(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.ImproveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := deps.Assistant.Improve(r.Context(), req)
		if err != nil {
			writeAssistError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		view := JobView{Job: job}
		if job.ResultJSON != "" {
			view.Result = json.RawMessage(job.ResultJSON)
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := deps.Assistant.History(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		if history == nil {
			history = []composer.Attempt{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Assistant.ClearHistory(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": n})
	}
}
