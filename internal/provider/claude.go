package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

const claudeEndpoint = "https://api.anthropic.com/v1/messages"

type claudeProvider struct{ descriptor }

func newClaude() *claudeProvider {
	return &claudeProvider{descriptor{
		id:          Claude,
		name:        "Claude (Anthropic)",
		keyPattern:  regexp.MustCompile(`^sk-ant-`),
		placeholder: "sk-ant-...",
		fields:      []Field{FieldAPIKey, FieldModel},
		models: []Model{
			{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Default: true},
			{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku"},
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus"},
			{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet"},
			{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku"},
		},
	}}
}

func (p *claudeProvider) Endpoint(Config) string { return claudeEndpoint }

func (p *claudeProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("x-api-key", cfg.APIKey)
	h.Set("anthropic-version", "2023-06-01")
	h.Set("anthropic-dangerous-direct-browser-access", "true")
	return h
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system"`
	Messages    []claudeMessage `json:"messages"`
}

func (p *claudeProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	return json.Marshal(claudeRequest{
		Model:       p.model(cfg),
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		System:      systemInstruction,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	})
}

func (p *claudeProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding claude response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", nil
	}
	return resp.Content[0].Text, nil
}
