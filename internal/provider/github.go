package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

const githubCopilotEndpoint = "https://api.github.com/copilot/completions"

type githubProvider struct{ descriptor }

func newGitHub() *githubProvider {
	return &githubProvider{descriptor{
		id:          GitHub,
		name:        "GitHub Copilot",
		keyPattern:  regexp.MustCompile(`^gh[ps]_`),
		placeholder: "ghp_... or ghs_...",
		fields:      []Field{FieldAPIKey},
	}}
}

func (p *githubProvider) Endpoint(Config) string { return githubCopilotEndpoint }

func (p *githubProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("Authorization", "token "+cfg.APIKey)
	h.Set("Accept", "application/vnd.github.copilot-preview+json")
	return h
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

func (p *githubProvider) BuildRequest(prompt string, _ Config) ([]byte, error) {
	return json.Marshal(completionRequest{
		Prompt: "# Task: Improve and fix the following script\n" +
			"# Requirement: Return only executable code without explanations\n\n" +
			prompt + "\n\n# Improved version:\n",
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
}

func (p *githubProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding copilot response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Text, nil
}

func (p *githubProvider) ClassifyError(status int, body []byte) ErrorInfo {
	switch status {
	case http.StatusUnauthorized:
		return ErrorInfo{Message: "Invalid GitHub token or Copilot not enabled"}
	case http.StatusForbidden:
		return ErrorInfo{Message: "GitHub Copilot access required"}
	}
	return classify(status, body)
}
