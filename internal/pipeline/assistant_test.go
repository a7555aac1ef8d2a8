package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/codebuddy/internal/composer"
	"github.com/kalambet/codebuddy/internal/provider"
	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
)

// --- mock dispatcher ---

type mockDispatcher struct {
	calls   int
	prompts []string
	result  provider.Result
}

func (m *mockDispatcher) Dispatch(ctx context.Context, id provider.ID, cfg provider.Config, prompt string) provider.Result {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.result
}

func (m *mockDispatcher) lastPrompt() string {
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// --- mock resolver ---

type failingResolver struct{}

func (failingResolver) Resolve(rawURL, defaultPrompt string) (string, *siteprompt.Entry, error) {
	return "", nil, errors.New("db gone")
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAssistant(t *testing.T, d *mockDispatcher, settings Settings) (*Assistant, *storage.Store, *siteprompt.Manager) {
	t.Helper()
	store := newTestStore(t)
	sites := siteprompt.NewManager(store)
	return NewAssistant(store, d, sites, composer.New(0), settings), store, sites
}

var claudeSettings = Settings{
	ProviderID: provider.Claude,
	Provider:   provider.Config{APIKey: "sk-ant-test", Model: "claude-3-5-sonnet-20241022"},
}

func TestAnalyze_RecordsAttemptsAndGrowsContext(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "echo fixed"}}
	a, store, _ := newTestAssistant(t, d, claudeSettings)

	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "command not found", Script: "ech hi", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !resp.Success || resp.ImprovedScript != "echo fixed" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", resp.Attempts)
	}
	if strings.Contains(d.lastPrompt(), "STILL failing") {
		t.Error("first prompt must not mention previous attempts")
	}

	resp, err = a.Analyze(context.Background(), AnalyzeRequest{Output: "still broken", Script: "echo fixed", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if !strings.Contains(d.lastPrompt(), "STILL failing after 1 attempts") {
		t.Errorf("second prompt lacks history:\n%s", d.lastPrompt())
	}

	attempts, err := store.ListAttempts("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("stored %d attempts, want 2", len(attempts))
	}
	if attempts[0].Script != "ech hi" || attempts[1].Output != "still broken" {
		t.Errorf("attempts out of order: %+v", attempts)
	}

	interactions, err := store.GetRecentInteractions(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(interactions) != 2 {
		t.Fatalf("interactions = %d, want 2", len(interactions))
	}
	if interactions[0].Kind != KindAnalyze || interactions[0].Status != "completed" || interactions[0].Provider != "claude" {
		t.Errorf("interaction = %+v", interactions[0])
	}
}

func TestAnalyze_HistoryBoundedToFive(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "ok"}}
	a, store, _ := newTestAssistant(t, d, claudeSettings)

	for i := 0; i < 7; i++ {
		if _, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", SessionID: "s"}); err != nil {
			t.Fatal(err)
		}
	}
	attempts, err := store.ListAttempts("s")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != composer.MaxHistory {
		t.Errorf("stored %d attempts, want %d", len(attempts), composer.MaxHistory)
	}
	if !strings.Contains(d.lastPrompt(), "STILL failing after 5 attempts") {
		t.Error("last prompt should render exactly five attempts")
	}
}

func TestAnalyze_ExplicitHistoryOverridesStore(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "ok"}}
	a, _, _ := newTestAssistant(t, d, claudeSettings)

	history := make([]composer.Attempt, 7)
	for i := range history {
		history[i] = composer.Attempt{Script: "s", Output: "o", Improved: "i"}
	}
	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", History: history})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Attempts != composer.MaxHistory {
		t.Errorf("Attempts = %d, want %d", resp.Attempts, composer.MaxHistory)
	}
	if resp.SessionID == "" {
		t.Error("a session ID should be assigned")
	}
}

func TestAnalyze_MissingAPIKey(t *testing.T) {
	d := &mockDispatcher{}
	a, store, _ := newTestAssistant(t, d, Settings{ProviderID: provider.OpenAI})

	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", SessionID: "s"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Success || resp.Error != "API key not configured" {
		t.Errorf("resp = %+v", resp.Result)
	}
	if d.calls != 0 {
		t.Error("no request should be dispatched without a key")
	}
	attempts, _ := store.ListAttempts("s")
	if len(attempts) != 0 {
		t.Error("failed dispatch must not be added to history")
	}
	interactions, _ := store.GetRecentInteractions(10, 0)
	if len(interactions) != 1 || interactions[0].Status != "failed" {
		t.Errorf("interactions = %+v", interactions)
	}
}

func TestAnalyze_OllamaNeedsNoKey(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "ls -la"}}
	a, _, _ := newTestAssistant(t, d, Settings{ProviderID: provider.Ollama})

	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || d.calls != 1 {
		t.Errorf("resp = %+v, calls = %d", resp.Result, d.calls)
	}
}

func TestAnalyze_MissingOutput(t *testing.T) {
	a, _, _ := newTestAssistant(t, &mockDispatcher{}, claudeSettings)
	if _, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "  \n"}); !errors.Is(err, ErrMissingOutput) {
		t.Errorf("err = %v, want ErrMissingOutput", err)
	}
}

func TestAnalyze_SitePrompt(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "ok"}}
	settings := claudeSettings
	settings.CustomPrompt = "Use POSIX sh."
	a, _, sites := newTestAssistant(t, d, settings)

	if _, err := sites.Add(siteprompt.Entry{Pattern: "*.rport.io", Prompt: "Scripts run on Windows.", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", URL: "https://app.rport.io/x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SitePattern != "*.rport.io" {
		t.Errorf("SitePattern = %q", resp.SitePattern)
	}
	if !strings.HasPrefix(d.lastPrompt(), "## Site Instructions:\nScripts run on Windows.") {
		t.Errorf("prompt does not start with site instructions:\n%s", d.lastPrompt())
	}

	if _, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", URL: "https://example.org"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d.lastPrompt(), "## Site Instructions:\nUse POSIX sh.") {
		t.Errorf("unmatched URL should use the custom prompt:\n%s", d.lastPrompt())
	}
}

func TestAnalyze_SiteLookupFailureFallsBack(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "ok"}}
	a := NewAssistant(newTestStore(t), d, failingResolver{}, nil, claudeSettings)

	resp, err := a.Analyze(context.Background(), AnalyzeRequest{Output: "fail", URL: "https://github.com"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SitePattern != "" {
		t.Errorf("SitePattern = %q, want empty", resp.SitePattern)
	}
	if strings.Contains(d.lastPrompt(), "Site Instructions") {
		t.Error("no site block expected without a custom prompt")
	}
}

func TestImprove(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Success: true, Content: "set -euo pipefail\nls"}}
	a, store, _ := newTestAssistant(t, d, claudeSettings)

	resp, err := a.Improve(context.Background(), ImproveRequest{Script: "ls", SessionID: "s"})
	if err != nil {
		t.Fatalf("Improve: %v", err)
	}
	if resp.ImprovedScript != "set -euo pipefail\nls" {
		t.Errorf("ImprovedScript = %q", resp.ImprovedScript)
	}
	if !strings.Contains(d.lastPrompt(), "reliability:\n\nls\n\n") {
		t.Errorf("prompt lacks script:\n%s", d.lastPrompt())
	}

	h, err := a.History("s")
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 0 {
		t.Errorf("improve must not add to history: %+v", h)
	}

	// The next analysis in the same session starts fresh.
	resp, err = a.Analyze(context.Background(), AnalyzeRequest{Output: "permission denied", Script: "ls", SessionID: "s"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Attempts != 0 || strings.Contains(d.lastPrompt(), "STILL failing") {
		t.Errorf("analysis after improve saw previous attempts:\n%s", d.lastPrompt())
	}

	n, err := a.ClearHistory("s")
	if err != nil || n != 1 {
		t.Errorf("ClearHistory = %d, %v", n, err)
	}
	attempts, _ := store.ListAttempts("s")
	if len(attempts) != 0 {
		t.Error("history not cleared")
	}

	if _, err := a.Improve(context.Background(), ImproveRequest{}); !errors.Is(err, ErrMissingScript) {
		t.Errorf("err = %v, want ErrMissingScript", err)
	}
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	d := &mockDispatcher{result: provider.Result{Error: "Rate limit exceeded"}}
	a, store, _ := newTestAssistant(t, d, claudeSettings)

	resp, err := a.Improve(context.Background(), ImproveRequest{Script: "ls", SessionID: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.ImprovedScript != "" || resp.Error != "Rate limit exceeded" {
		t.Errorf("resp = %+v", resp)
	}
	interactions, _ := store.GetRecentInteractions(10, 0)
	if len(interactions) != 1 || interactions[0].Error != "Rate limit exceeded" {
		t.Errorf("interactions = %+v", interactions)
	}
}
