package provider

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AllProvidersResolvable(t *testing.T) {
	all := All()
	require.Len(t, all, len(IDs))
	for i, d := range all {
		assert.Equal(t, IDs[i], d.ID())
		assert.NotEmpty(t, d.Name())
	}
}

func TestLookup(t *testing.T) {
	d, err := Lookup("  OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, d.ID())

	_, err = Lookup("claud")
	require.ErrorIs(t, err, ErrUnknownProvider)
	var ue *UnknownProviderError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, Claude, ue.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "claude"`)
}

func TestDefaultModel(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{Claude, "claude-3-5-sonnet-20241022"},
		{OpenAI, "gpt-4o-mini"},
		{Gemini, "gemini-1.5-flash"},
		{Cohere, "command-light"},
		{HuggingFace, "Qwen/Qwen2.5-Coder-32B-Instruct"},
		{Ollama, "qwen2.5-coder:7b"},
		{Replicate, "meta/meta-llama-3.1-8b-instruct"},
		{Azure, ""},
		{GitHub, ""},
		{Custom, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			d, err := Get(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, DefaultModel(d))
		})
	}
}

func TestBuildRequest_FallsBackToDefaultModel(t *testing.T) {
	tests := []struct {
		d    Descriptor
		want string
	}{
		{claudeDesc, "claude-3-5-sonnet-20241022"},
		{openAIDesc, "gpt-4o-mini"},
		{ollamaDesc, "qwen2.5-coder:7b"},
	}
	for _, tt := range tests {
		t.Run(string(tt.d.ID()), func(t *testing.T) {
			body, err := tt.d.BuildRequest("ls", Config{})
			require.NoError(t, err)
			var got struct {
				Model string `json:"model"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.want, got.Model)
		})
	}
	assert.Equal(t, "https://api-inference.huggingface.co/models/Qwen/Qwen2.5-Coder-32B-Instruct",
		huggingFaceDesc.Endpoint(Config{}))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		cfg  Config
		want []string
	}{
		{"claude ok", Claude, Config{APIKey: "sk-ant-123"}, nil},
		{"claude missing key", Claude, Config{}, []string{"API key is required"}},
		{"claude wrong prefix", Claude, Config{APIKey: "sk-123"}, []string{"Invalid API key format"}},
		{"gemini ok", Gemini, Config{APIKey: "AIzaXYZ"}, nil},
		{"azure all missing", Azure, Config{}, []string{"API key is required", "Endpoint URL is required"}},
		{"azure short key", Azure, Config{APIKey: "abc", Endpoint: "https://x"}, []string{"Invalid API key format"}},
		{"cohere ok", Cohere, Config{APIKey: "abcdefghijABCDEFGHIJ0123456789abcdefghij"}, nil},
		{"cohere 39 chars", Cohere, Config{APIKey: "abcdefghijABCDEFGHIJ0123456789abcdefghi"}, []string{"Invalid API key format"}},
		{"github ghs", GitHub, Config{APIKey: "ghs_token"}, nil},
		{"github gho", GitHub, Config{APIKey: "gho_token"}, []string{"Invalid API key format"}},
		{"ollama needs endpoint", Ollama, Config{}, []string{"Endpoint URL is required"}},
		{"ollama blank endpoint", Ollama, Config{Endpoint: "  "}, []string{"Endpoint URL is required"}},
		{"custom no key needed", Custom, Config{Endpoint: "https://api.example.com"}, nil},
		{"custom needs endpoint", Custom, Config{APIKey: "anything"}, []string{"Endpoint URL is required"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Get(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ValidateConfig(d, tt.cfg))
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := WithDefaults(ollamaDesc, Config{})
	assert.Equal(t, Ollama, cfg.ProviderID)
	assert.Equal(t, "http://localhost:11434", cfg.Endpoint)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Model)

	cfg = WithDefaults(openAIDesc, Config{Model: "gpt-4"})
	assert.Equal(t, "gpt-4", cfg.Model)
	assert.Empty(t, cfg.Endpoint)
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		cfg  Config
		want string
	}{
		{"gemini key in query", geminiDesc, Config{APIKey: "AIzaKEY"},
			"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent?key=AIzaKEY"},
		{"azure deployment in path", azureDesc,
			Config{Endpoint: "https://res.openai.azure.com/", Extra: map[Field]string{FieldDeploymentName: "dep"}},
			"https://res.openai.azure.com/openai/deployments/dep/chat/completions?api-version=2023-05-15"},
		{"azure custom version", azureDesc,
			Config{Endpoint: "https://res.openai.azure.com", Extra: map[Field]string{FieldDeploymentName: "dep", FieldAPIVersion: "2024-02-01"}},
			"https://res.openai.azure.com/openai/deployments/dep/chat/completions?api-version=2024-02-01"},
		{"huggingface model in path", huggingFaceDesc, Config{Model: "bigcode/starcoder2-15b"},
			"https://api-inference.huggingface.co/models/bigcode/starcoder2-15b"},
		{"ollama appends path", ollamaDesc, Config{Endpoint: "http://gpu-box:11434/"},
			"http://gpu-box:11434/api/generate"},
		{"custom verbatim", customDesc, Config{Endpoint: "https://llm.internal/v1/run"},
			"https://llm.internal/v1/run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Endpoint(tt.cfg))
		})
	}
}

func TestBuildRequest_SystemInstructionEverywhere(t *testing.T) {
	cfg := Config{Extra: map[Field]string{}}
	for _, d := range All() {
		t.Run(string(d.ID()), func(t *testing.T) {
			body, err := d.BuildRequest("PROMPT", cfg)
			require.NoError(t, err)
			require.True(t, json.Valid(body), "body is not JSON: %s", body)
			assert.Contains(t, string(body), "PROMPT")
			if d.ID() != Custom {
				assert.Contains(t, string(body), "explanations")
			}
		})
	}
}

func TestBuildRequest_Shapes(t *testing.T) {
	body, err := azureDesc.BuildRequest("p", Config{})
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"model"`)

	body, err = cohereDesc.BuildRequest("p", Config{})
	require.NoError(t, err)
	var cr cohereRequest
	require.NoError(t, json.Unmarshal(body, &cr))
	assert.Equal(t, []string{"---", "```"}, cr.StopSequences)
	assert.Contains(t, cr.Prompt, "\n\nImproved script:")

	body, err = replicateDesc.BuildRequest("p", Config{})
	require.NoError(t, err)
	var rr replicateRequest
	require.NoError(t, json.Unmarshal(body, &rr))
	assert.Equal(t, "latest", rr.Version)

	body, err = ollamaDesc.BuildRequest("p", Config{})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"stream":false`)
}

func TestCustomProvider(t *testing.T) {
	cfg := Config{Extra: map[Field]string{
		FieldRequestTemplate: `{"input": {prompt}, "mode": "code"}`,
		FieldHeaders:         `{"X-Token": "abc"}`,
	}}
	body, err := customDesc.BuildRequest("echo \"hi\"\nexit 1", cfg)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "echo \"hi\"\nexit 1", got["input"])
	assert.Equal(t, "code", got["mode"])

	h := customDesc.Headers(cfg)
	assert.Equal(t, "abc", h.Get("X-Token"))

	h = customDesc.Headers(Config{Extra: map[Field]string{FieldHeaders: "not json"}})
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Empty(t, h.Get("X-Token"))

	text, err := customDesc.ParseResponse([]byte(`{"text":"ls"}`))
	require.NoError(t, err)
	assert.Equal(t, "ls", text)

	text, err = customDesc.ParseResponse([]byte(`{"result":"ls"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"result":"ls"}`, text)
}

func TestCustomProvider_RequestTemplates(t *testing.T) {
	prompt := "echo \"hi\"\nexit 1"
	tests := []struct {
		name string
		tmpl string
		key  string
		want string
	}{
		{"quoted placeholder", `{"prompt": "{prompt}", "max_tokens": 2000}`, "prompt", prompt},
		{"bare placeholder", `{"input": {prompt}}`, "input", prompt},
		{"placeholder inside text", `{"q": "Fix this: {prompt}"}`, "q", "Fix this: " + prompt},
		{"no template", "", "prompt", prompt},
		{"unusable template", `{"prompt": {prompt}`, "prompt", prompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := customDesc.BuildRequest(prompt, Config{Extra: map[Field]string{FieldRequestTemplate: tt.tmpl}})
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(body, &got), string(body))
			assert.Equal(t, tt.want, got[tt.key])
		})
	}
}

func TestParseResponse_Shapes(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		raw  string
		want string
	}{
		{"gemini", geminiDesc, `{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}`, "a"},
		{"cohere", cohereDesc, `{"generations":[{"text":" b "}]}`, "b"},
		{"huggingface object", huggingFaceDesc, `{"generated_text":"c"}`, "c"},
		{"github", githubDesc, `{"choices":[{"text":"d"}]}`, "d"},
		{"replicate string", replicateDesc, `{"output":"e"}`, "e"},
		{"replicate tokens", replicateDesc, `{"output":["ec","ho"]}`, "echo"},
		{"claude empty", claudeDesc, `{"content":[]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.d, []byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```bash\necho hi\n```", "echo hi"},
		{"```\necho hi\n```", "echo hi"},
		{"  echo hi  \n", "echo hi"},
		{"```python\nprint(1)\n```\n", "print(1)"},
		{"echo ```", "echo ```"},
		{"```js\na\n```\n\n```js\nb\n```", "a\n```\n\n```js\nb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFences(tt.in), "input %q", tt.in)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		d      Descriptor
		status int
		body   string
		want   ErrorInfo
	}{
		{"429", openAIDesc, 429, ``, ErrorInfo{Retryable: true, Message: "Rate limit exceeded"}},
		{"503 generic", claudeDesc, 503, ``, ErrorInfo{Retryable: true, Message: "Service unavailable"}},
		{"503 huggingface", huggingFaceDesc, 503, ``, ErrorInfo{Retryable: true, Message: "Model is loading"}},
		{"github 401", githubDesc, 401, ``, ErrorInfo{Message: "Invalid GitHub token or Copilot not enabled"}},
		{"github 403", githubDesc, 403, ``, ErrorInfo{Message: "GitHub Copilot access required"}},
		{"ollama 404", ollamaDesc, 404, ``, ErrorInfo{Message: "Model not found"}},
		{"nested message", claudeDesc, 400, `{"error":{"message":"bad"}}`, ErrorInfo{Message: "bad"}},
		{"string error", huggingFaceDesc, 400, `{"error":"oops"}`, ErrorInfo{Message: "oops"}},
		{"cohere message", cohereDesc, 400, `{"message":"invalid"}`, ErrorInfo{Message: "invalid"}},
		{"replicate detail", replicateDesc, 402, `{"detail":"billing"}`, ErrorInfo{Message: "billing"}},
		{"unknown status", openAIDesc, 418, `teapot`, ErrorInfo{Message: "API error: 418"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.ClassifyError(tt.status, []byte(tt.body)))
		})
	}
}
