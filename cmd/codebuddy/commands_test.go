package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zalando/go-keyring"

	"github.com/kalambet/codebuddy/internal/config"
	"github.com/kalambet/codebuddy/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// install points every command at the test server for the duration of t.
func (ts *testServer) install(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// isolateConfig keeps config.Load away from the user's files and keyring.
func isolateConfig(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("CODEBUDDY_PROVIDER", "")
	t.Setenv("CODEBUDDY_API_KEY", "")
	t.Setenv("CODEBUDDY_SERVER_TOKEN", "")
}

// resetFlags restores every flag to its default; cobra keeps flag values
// between Execute calls.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

var ctx = context.Background()

func TestAnalyzeCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/analyze": `{"success":true,"content":"echo hi","improvedScript":"echo hi","interactionId":"ix-1","sessionId":"s-1","previousAttempts":2}`,
	})
	ts.install(t)

	out, err := execute(t, "analyze", "--output", "ech: command not found", "--script", "ech hi", "--session", "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "echo hi\n" {
		t.Errorf("stdout = %q, want %q", out, "echo hi\n")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/analyze" {
		t.Errorf("request = %s %s, want POST /v1/analyze", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["output"] != "ech: command not found" {
		t.Errorf("body.output = %v", body["output"])
	}
	if body["script"] != "ech hi" {
		t.Errorf("body.script = %v", body["script"])
	}
	if body["sessionId"] != "s-1" {
		t.Errorf("body.sessionId = %v, want s-1", body["sessionId"])
	}
}

func TestAnalyzeCommand_OutputFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/analyze": `{"success":true,"improvedScript":"ls -la","sessionId":"s-2"}`,
	})
	ts.install(t)

	path := filepath.Join(t.TempDir(), "err.log")
	if err := os.WriteFile(path, []byte("ls: invalid option -- 'z'\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "analyze", "--output-file", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["output"] != "ls: invalid option -- 'z'\n" {
		t.Errorf("body.output = %q", body["output"])
	}
}

func TestAnalyzeCommand_MissingOutput(t *testing.T) {
	_, err := execute(t, "analyze", "--script", "ls")
	if err == nil {
		t.Fatal("expected error for missing output")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestAnalyzeCommand_ProviderFailure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/analyze": `{"success":false,"error":"Invalid API key","interactionId":"ix-1","sessionId":"s-1","previousAttempts":0}`,
	})
	ts.install(t)

	out, err := execute(t, "analyze", "--output", "boom")
	if err == nil {
		t.Fatal("expected error for provider failure")
	}
	if err.Error() != "Invalid API key" {
		t.Errorf("error = %q, want %q", err.Error(), "Invalid API key")
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
}

func TestAnalyzeCommand_Copy(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/analyze": `{"success":true,"improvedScript":"make -j4"}`,
	})
	ts.install(t)

	var copied string
	old := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	defer func() { copyToClipboard = old }()

	if _, err := execute(t, "analyze", "--output", "make: *** no rule", "--copy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if copied != "make -j4" {
		t.Errorf("copied = %q, want %q", copied, "make -j4")
	}
}

func TestImproveCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/improve": `{"success":true,"improvedScript":"set -euo pipefail\nls"}`,
	})
	ts.install(t)

	out, err := execute(t, "improve", "ls", "--url", "https://github.com/x/y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "set -euo pipefail\nls\n" {
		t.Errorf("stdout = %q", out)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["script"] != "ls" || body["url"] != "https://github.com/x/y" {
		t.Errorf("body = %v", body)
	}
}

func TestImproveCommand_MissingScript(t *testing.T) {
	_, err := execute(t, "improve")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("error = %v, want it to mention 'required'", err)
	}
}

func TestSitesAdd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/site-prompts": `{"pattern":"*.gitlab.com","name":"GitLab","prompt":"Use glab.","enabled":true}`,
	})
	ts.install(t)

	if _, err := execute(t, "sites", "add", "*.GitLab.com", "Use glab.", "--name", "GitLab"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["pattern"] != "*.GitLab.com" {
		t.Errorf("body.pattern = %v", body["pattern"])
	}
	if body["enabled"] != true {
		t.Errorf("body.enabled = %v, want true", body["enabled"])
	}
	if body["name"] != "GitLab" {
		t.Errorf("body.name = %v, want GitLab", body["name"])
	}
}

func TestSitesAdd_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.install(t)

	_, err := execute(t, "sites", "add", "github.com", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "server returned 404: not found" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestSitesEdit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /v1/site-prompts/*.gitlab.com": `{"pattern":"*.gitlab.com","name":"GitLab","prompt":"use XPath","enabled":true}`,
	})
	ts.install(t)

	if _, err := execute(t, "sites", "edit", "*.gitlab.com", "--prompt", "use XPath"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["prompt"] != "use XPath" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["name"]; ok {
		t.Errorf("name should not be sent when --name is absent: %v", body)
	}
}

func TestSitesEdit_NothingToChange(t *testing.T) {
	isolateConfig(t)
	if _, err := execute(t, "sites", "edit", "a.com"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSitesToggle(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/site-prompts/*.gitlab.com/toggle": `{"pattern":"*.gitlab.com","enabled":false}`,
	})
	ts.install(t)

	if _, err := execute(t, "sites", "toggle", "*.gitlab.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if r := ts.requests[0]; r.Method != "POST" || r.Path != "/v1/site-prompts/%2A.gitlab.com/toggle" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

func TestSitesToggle_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.install(t)

	_, err := execute(t, "sites", "toggle", "github.com")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestSitesResolve(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/site-prompts/resolve": `{"url":"https://ci.gitlab.com","hostname":"ci.gitlab.com","pattern":"*.gitlab.com","prompt":"Use glab.","matched":true}`,
	})
	ts.install(t)

	out, err := execute(t, "sites", "resolve", "https://ci.gitlab.com/a?b=c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Use glab.\n" {
		t.Errorf("stdout = %q", out)
	}
	if want := "/v1/site-prompts/resolve?url=https%3A%2F%2Fci.gitlab.com%2Fa%3Fb%3Dc"; ts.requests[0].Path != want {
		t.Errorf("path = %q, want %q", ts.requests[0].Path, want)
	}
}

func TestSitesValidate(t *testing.T) {
	if _, err := execute(t, "sites", "validate", "*.Example.com"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := execute(t, "sites", "validate", "exa*mple.com"); err == nil {
		t.Error("expected error for wildcard in the middle")
	}
}

func TestSitesSuggest(t *testing.T) {
	out, err := execute(t, "sites", "suggest", "https://ci.build.example.co.uk/pipelines")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "*.example.co.uk\n" {
		t.Errorf("stdout = %q, want %q", out, "*.example.co.uk\n")
	}
}

func TestHistoryList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/sessions/s-1/history": `[{"script":"ech hi","output":"ech: not found","improved":"echo hi","timestamp":"2025-01-01T00:00:00Z"}]`,
	})
	ts.install(t)

	if _, err := execute(t, "history", "list", "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/v1/sessions/s-1/history" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestHistoryClear(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/sessions/s-1/history": `{"status":"cleared","removed":3}`,
	})
	ts.install(t)

	if _, err := execute(t, "history", "clear", "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q, want DELETE", ts.requests[0].Method)
	}
}

func TestProvidersShow_Unknown(t *testing.T) {
	_, err := execute(t, "providers", "show", "opnai")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), `did you mean "openai"`) {
		t.Errorf("error = %q", err.Error())
	}
}

func TestProvidersList(t *testing.T) {
	isolateConfig(t)
	if _, err := execute(t, "providers", "list"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigExportImport(t *testing.T) {
	isolateConfig(t)

	if _, err := execute(t, "config", "set", "provider.id", "Claude"); err != nil {
		t.Fatalf("set: %v", err)
	}
	path := filepath.Join(t.TempDir(), "settings.json")
	if _, err := execute(t, "config", "export", "--output", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"provider.id": "claude"`) {
		t.Errorf("export = %s", data)
	}

	// Switch away, then restore from the export.
	if _, err := execute(t, "config", "set", "provider.id", "ollama"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := execute(t, "config", "import", path); err != nil {
		t.Fatalf("import: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.ID != "claude" {
		t.Errorf("provider.id = %q, want claude", cfg.Provider.ID)
	}
}

func TestConfigImport_Stdin(t *testing.T) {
	isolateConfig(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	settings := `{"version":1,"settings":{"provider.id":"custom","provider.request_template":"{\"prompt\": \"{prompt}\", \"max_tokens\": 2000}","nope":"x"}}`
	if err := os.WriteFile(path, []byte(settings), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	orig := os.Stdin
	os.Stdin = f
	t.Cleanup(func() { os.Stdin = orig })

	if _, err := execute(t, "config", "import", "-"); err != nil {
		t.Fatalf("import: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.ID != "custom" {
		t.Errorf("provider.id = %q, want custom", cfg.Provider.ID)
	}
	if cfg.Provider.RequestTemplate != `{"prompt": "{prompt}", "max_tokens": 2000}` {
		t.Errorf("request_template = %q", cfg.Provider.RequestTemplate)
	}
}

func TestConfigSet_UnknownKey(t *testing.T) {
	isolateConfig(t)
	_, err := execute(t, "config", "set", "nope.key", "1")
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Fatalf("error = %v, want unknown config key", err)
	}
}

func TestConfigSetKey_InvalidFormat(t *testing.T) {
	isolateConfig(t)
	_, err := execute(t, "config", "set-key", "openai", "not-a-key")
	if err == nil || !strings.Contains(err.Error(), "invalid API key format") {
		t.Fatalf("error = %v, want invalid API key format", err)
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       http.NoBody,
	}
	err := decodeJSON(resp, nil)
	if err == nil || err.Error() != "server returned 502: " {
		t.Errorf("error = %v", err)
	}
}

func TestServerNotRunning(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 7, "this is..."},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(5, 100); got != "5" {
		t.Errorf("countLabel(5) = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100) = %q", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", JSON: true}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewApp(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		Server:   config.ServerConfig{Port: 4100, Token: "secret"},
		Provider: config.ProviderConfig{ID: "ollama"},
		Request:  config.RequestConfig{Timeout: "5s"},
	}
	a, err := newApp(cfg, store)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.mcp == nil || a.worker == nil {
		t.Fatal("expected MCP server and worker")
	}
	if got := a.assistant.Settings().Provider.Endpoint; got != "http://localhost:11434" {
		t.Errorf("ollama endpoint = %q, want default", got)
	}

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]string
	if err := decodeJSON(resp, &health); err != nil {
		t.Fatal(err)
	}
	if health["provider"] != "ollama" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(srv.URL + "/v1/providers")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	c := &apiClient{baseURL: srv.URL, token: "secret", httpClient: srv.Client()}
	resp, err = c.get(ctx, "/v1/providers")
	if err != nil {
		t.Fatal(err)
	}
	var providers []map[string]any
	if err := decodeJSON(resp, &providers); err != nil {
		t.Fatal(err)
	}
	if len(providers) == 0 {
		t.Error("expected providers")
	}
}

func TestNewApp_UnknownProvider(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	_, err = newApp(config.Config{Provider: config.ProviderConfig{ID: "nope"}}, store)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestProvidersLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b","size":4683087332,"modified_at":"2025-01-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	if _, err := execute(t, "providers", "local", "--endpoint", srv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv.Close()
	_, err := execute(t, "providers", "local", "--endpoint", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "Cannot connect to Ollama") {
		t.Fatalf("error = %v, want connection hint", err)
	}
}
