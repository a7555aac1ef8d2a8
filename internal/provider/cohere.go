package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

const cohereEndpoint = "https://api.cohere.ai/v1/generate"

type cohereProvider struct{ descriptor }

func newCohere() *cohereProvider {
	return &cohereProvider{descriptor{
		id:          Cohere,
		name:        "Cohere",
		keyPattern:  regexp.MustCompile(`^[A-Za-z0-9]{40}$`),
		placeholder: "40-character key",
		fields:      []Field{FieldAPIKey, FieldModel},
		models: []Model{
			{ID: "command-light", Name: "Command Light", Default: true},
			{ID: "command-r", Name: "Command R"},
			{ID: "command-r-plus", Name: "Command R+"},
			{ID: "command", Name: "Command"},
		},
	}}
}

func (p *cohereProvider) Endpoint(Config) string { return cohereEndpoint }

func (p *cohereProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	return h
}

type cohereRequest struct {
	Model         string   `json:"model"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	StopSequences []string `json:"stop_sequences"`
}

func (p *cohereProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	return json.Marshal(cohereRequest{
		Model:         p.model(cfg),
		Prompt:        inlineInstruction + prompt + "\n\nImproved script:",
		MaxTokens:     defaultMaxTokens,
		Temperature:   defaultTemperature,
		StopSequences: []string{"---", "```"},
	})
}

func (p *cohereProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Generations []struct {
			Text string `json:"text"`
		} `json:"generations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding cohere response: %w", err)
	}
	if len(resp.Generations) == 0 {
		return "", nil
	}
	return resp.Generations[0].Text, nil
}
