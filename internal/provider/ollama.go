package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultOllamaEndpoint = "http://localhost:11434"

type ollamaProvider struct{ descriptor }

func newOllama() *ollamaProvider {
	return &ollamaProvider{descriptor{
		id:          Ollama,
		name:        "Ollama (Local)",
		placeholder: "No API key required",
		fields:      []Field{FieldEndpoint, FieldModel},
		models: []Model{
			{ID: "qwen2.5-coder:7b", Name: "Qwen 2.5 Coder 7B", Default: true},
			{ID: "qwen2.5-coder:latest", Name: "Qwen 2.5 Coder"},
			{ID: "llama3.2:latest", Name: "Llama 3.2"},
			{ID: "llama3.1:latest", Name: "Llama 3.1"},
			{ID: "deepseek-coder-v2:latest", Name: "DeepSeek Coder V2"},
			{ID: "codellama:latest", Name: "CodeLlama"},
			{ID: "gemma2:latest", Name: "Gemma 2"},
			{ID: "mistral:latest", Name: "Mistral"},
			{ID: "mixtral:latest", Name: "Mixtral"},
		},
	}}
}

func (p *ollamaProvider) DefaultEndpoint() string { return defaultOllamaEndpoint }

func (p *ollamaProvider) Endpoint(cfg Config) string {
	base := cfg.Endpoint
	if base == "" {
		base = defaultOllamaEndpoint
	}
	return strings.TrimRight(base, "/") + "/api/generate"
}

func (p *ollamaProvider) Headers(Config) http.Header { return jsonHeaders() }

type ollamaRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

func (p *ollamaProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	req := ollamaRequest{
		Model:  p.model(cfg),
		Prompt: inlineInstruction + prompt + "\n\nImproved script:",
	}
	req.Options.Temperature = defaultTemperature
	return json.Marshal(req)
}

func (p *ollamaProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	return resp.Response, nil
}

func (p *ollamaProvider) ClassifyError(status int, body []byte) ErrorInfo {
	if status == http.StatusNotFound {
		return ErrorInfo{Message: "Model not found"}
	}
	return classify(status, body)
}

// networkMessage replaces raw dial errors with a hint that the daemon is down.
func (p *ollamaProvider) networkMessage(error) string {
	return "Cannot connect to Ollama. Is it running?"
}
