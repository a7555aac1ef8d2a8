package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const replicateEndpoint = "https://api.replicate.com/v1/predictions"

type replicateProvider struct{ descriptor }

func newReplicate() *replicateProvider {
	return &replicateProvider{descriptor{
		id:          Replicate,
		name:        "Replicate",
		keyPattern:  regexp.MustCompile(`^r8_`),
		placeholder: "r8_...",
		fields:      []Field{FieldAPIKey, FieldModel},
		models: []Model{
			{ID: "meta/meta-llama-3.1-8b-instruct", Name: "Llama 3.1 8B Instruct", Default: true},
			{ID: "meta/meta-llama-3.1-70b-instruct", Name: "Llama 3.1 70B Instruct"},
			{ID: "meta/meta-llama-3.1-405b-instruct", Name: "Llama 3.1 405B Instruct"},
			{ID: "mistralai/mixtral-8x7b-instruct-v0.1", Name: "Mixtral 8x7B Instruct"},
			{ID: "deepseek-ai/deepseek-coder-33b-instruct", Name: "DeepSeek Coder 33B"},
		},
	}}
}

func (p *replicateProvider) Endpoint(Config) string { return replicateEndpoint }

func (p *replicateProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("Authorization", "Token "+cfg.APIKey)
	return h
}

type replicateRequest struct {
	Version string `json:"version"`
	Input   struct {
		Prompt       string  `json:"prompt"`
		MaxNewTokens int     `json:"max_new_tokens"`
		Temperature  float64 `json:"temperature"`
	} `json:"input"`
}

func (p *replicateProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	var req replicateRequest
	req.Version = cfg.Get(FieldModelVersion)
	if req.Version == "" {
		req.Version = "latest"
	}
	req.Input.Prompt = inlineInstruction + prompt
	req.Input.MaxNewTokens = defaultMaxTokens
	req.Input.Temperature = defaultTemperature
	return json.Marshal(req)
}

// ParseResponse accepts output as a string or as the token list language
// models stream into.
func (p *replicateProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding replicate response: %w", err)
	}
	if len(resp.Output) == 0 {
		return "", nil
	}
	var s string
	if json.Unmarshal(resp.Output, &s) == nil {
		return s, nil
	}
	var parts []string
	if json.Unmarshal(resp.Output, &parts) == nil {
		return strings.Join(parts, ""), nil
	}
	return "", nil
}
