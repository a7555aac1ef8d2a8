package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/kalambet/codebuddy/internal/composer"
	"github.com/kalambet/codebuddy/internal/provider"
	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
)

const (
	KindAnalyze = "analyze"
	KindImprove = "improve"
)

// ErrMissingOutput is returned when an analyze request has nothing to analyze.
var ErrMissingOutput = errors.New("output is required")

// ErrMissingScript is returned when an improve request has no script.
var ErrMissingScript = errors.New("script is required")

const errNoAPIKey = "API key not configured"

// Store is the persistence the assistant needs.
type Store interface {
	ListAttempts(sessionID string) ([]storage.Attempt, error)
	AppendAttempt(a storage.Attempt, keep int) error
	ClearAttempts(sessionID string) (int64, error)
	SaveInteraction(i storage.Interaction) error
}

// Dispatcher sends a composed prompt to a provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, id provider.ID, cfg provider.Config, prompt string) provider.Result
}

// SiteResolver picks the instruction for a page URL.
type SiteResolver interface {
	Resolve(rawURL, defaultPrompt string) (string, *siteprompt.Entry, error)
}

// Settings selects the provider and the fallback instruction.
type Settings struct {
	ProviderID   provider.ID
	Provider     provider.Config
	CustomPrompt string
}

// AnalyzeRequest asks for a fix for a script given its observed output.
// When History is nil and SessionID is set, the stored history of that
// session is used.
type AnalyzeRequest struct {
	Output    string             `json:"output"`
	Script    string             `json:"script,omitempty"`
	History   []composer.Attempt `json:"conversationHistory,omitempty"`
	URL       string             `json:"url,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
}

// ImproveRequest asks for a more robust version of a script.
type ImproveRequest struct {
	Script    string `json:"script"`
	URL       string `json:"url,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Response wraps the provider result with bookkeeping for the caller.
type Response struct {
	provider.Result
	ImprovedScript string `json:"improvedScript,omitempty"`
	InteractionID  string `json:"interactionId"`
	SessionID      string `json:"sessionId,omitempty"`
	SitePattern    string `json:"sitePattern,omitempty"`
	Attempts       int    `json:"previousAttempts"`
}

// Assistant composes prompts, dispatches them and records the outcome.
type Assistant struct {
	store    Store
	provider Dispatcher
	sites    SiteResolver
	composer *composer.Composer
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// NewAssistant creates an Assistant. sites may be nil, in which case the
// custom prompt from settings is always used.
func NewAssistant(store Store, d Dispatcher, sites SiteResolver, comp *composer.Composer, settings Settings) *Assistant {
	if comp == nil {
		comp = composer.New(0)
	}
	return &Assistant{
		store:    store,
		provider: d,
		sites:    sites,
		composer: comp,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Settings returns the active provider settings.
func (a *Assistant) Settings() Settings { return a.settings }

// Analyze asks the provider to fix req.Script given its output and the
// session's previous attempts. Provider failures are reported in the
// returned Response; the error is reserved for invalid requests and
// storage failures.
func (a *Assistant) Analyze(ctx context.Context, req AnalyzeRequest) (Response, error) {
	if strings.TrimSpace(req.Output) == "" {
		return Response{}, ErrMissingOutput
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	history := req.History
	if history == nil {
		var err error
		if history, err = a.History(req.SessionID); err != nil {
			return Response{}, err
		}
	}
	history = composer.NewHistory(history...).Attempts()

	sitePrompt, pattern := a.resolveSitePrompt(req.URL)
	prompt := a.composer.Analyze(req.Output, req.Script, history, sitePrompt)

	resp := a.dispatch(ctx, KindAnalyze, req.URL, req.SessionID, prompt)
	resp.SitePattern = pattern
	resp.Attempts = len(history)

	if resp.Success {
		err := a.store.AppendAttempt(storage.Attempt{
			ID:        uuid.NewString(),
			SessionID: req.SessionID,
			Script:    req.Script,
			Output:    req.Output,
			Improved:  resp.Content,
			CreatedAt: a.now().UTC(),
		}, composer.MaxHistory)
		if err != nil {
			return resp, fmt.Errorf("recording attempt: %w", err)
		}
	}
	return resp, nil
}

// Improve asks the provider for a more robust version of req.Script. The
// session only tags the recorded interaction; improvements never enter the
// session's attempt history.
func (a *Assistant) Improve(ctx context.Context, req ImproveRequest) (Response, error) {
	if strings.TrimSpace(req.Script) == "" {
		return Response{}, ErrMissingScript
	}

	sitePrompt, pattern := a.resolveSitePrompt(req.URL)
	prompt := a.composer.Improve(req.Script, sitePrompt)

	resp := a.dispatch(ctx, KindImprove, req.URL, req.SessionID, prompt)
	resp.SitePattern = pattern

	return resp, nil
}

// History returns the stored attempts of a session, oldest first.
func (a *Assistant) History(sessionID string) ([]composer.Attempt, error) {
	stored, err := a.store.ListAttempts(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return lo.Map(stored, func(s storage.Attempt, _ int) composer.Attempt {
		return composer.Attempt{Script: s.Script, Output: s.Output, Improved: s.Improved, Timestamp: s.CreatedAt}
	}), nil
}

// ClearHistory forgets every attempt of a session.
func (a *Assistant) ClearHistory(sessionID string) (int64, error) {
	return a.store.ClearAttempts(sessionID)
}

// resolveSitePrompt falls back to the custom prompt when the URL is empty,
// nothing matches or the lookup fails.
func (a *Assistant) resolveSitePrompt(rawURL string) (string, string) {
	if a.sites == nil || rawURL == "" {
		return a.settings.CustomPrompt, ""
	}
	p, entry, err := a.sites.Resolve(rawURL, a.settings.CustomPrompt)
	if err != nil {
		a.logger.Warn("site prompt lookup failed", "error", err)
		return a.settings.CustomPrompt, ""
	}
	if entry == nil {
		return p, ""
	}
	return p, entry.Pattern
}

func (a *Assistant) dispatch(ctx context.Context, kind, rawURL, sessionID, prompt string) Response {
	s := a.settings
	start := a.now()

	var res provider.Result
	if s.Provider.APIKey == "" && s.ProviderID != provider.Ollama {
		res = provider.Result{Error: errNoAPIKey}
	} else {
		res = a.provider.Dispatch(ctx, s.ProviderID, s.Provider, prompt)
	}

	ia := storage.Interaction{
		ID:         uuid.NewString(),
		CreatedAt:  start.UTC(),
		Kind:       kind,
		Provider:   string(s.ProviderID),
		Model:      s.Provider.Model,
		URL:        rawURL,
		SessionID:  sessionID,
		Prompt:     prompt,
		Response:   res.Content,
		Status:     "completed",
		Error:      res.Error,
		DurationMs: a.now().Sub(start).Milliseconds(),
	}
	if !res.Success {
		ia.Status = "failed"
	}
	if err := a.store.SaveInteraction(ia); err != nil {
		a.logger.Warn("failed to record interaction", "error", err)
	}

	a.logger.Debug("dispatch complete",
		"kind", kind, "provider", s.ProviderID, "success", res.Success, "duration_ms", ia.DurationMs)

	resp := Response{Result: res, InteractionID: ia.ID, SessionID: sessionID}
	if res.Success {
		resp.ImprovedScript = res.Content
	}
	return resp
}
