package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/"

type geminiProvider struct{ descriptor }

func newGemini() *geminiProvider {
	return &geminiProvider{descriptor{
		id:          Gemini,
		name:        "Google Gemini",
		keyPattern:  regexp.MustCompile(`^AIza`),
		placeholder: "AIza...",
		fields:      []Field{FieldAPIKey, FieldModel},
		models: []Model{
			{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Default: true},
			{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
			{ID: "gemini-2.0-flash-exp", Name: "Gemini 2.0 Flash (Experimental)"},
			{ID: "gemini-pro", Name: "Gemini Pro"},
			{ID: "gemini-pro-vision", Name: "Gemini Pro Vision"},
		},
	}}
}

// Endpoint puts the model in the path and the API key in the query string.
func (p *geminiProvider) Endpoint(cfg Config) string {
	return geminiBaseURL + url.PathEscape(p.model(cfg)) + ":generateContent?key=" + url.QueryEscape(cfg.APIKey)
}

func (p *geminiProvider) Headers(Config) http.Header { return jsonHeaders() }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func (p *geminiProvider) BuildRequest(prompt string, _ Config) ([]byte, error) {
	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: systemInstruction + "\n\n" + prompt}}}}
	req.GenerationConfig.Temperature = defaultTemperature
	req.GenerationConfig.MaxOutputTokens = defaultMaxTokens
	return json.Marshal(req)
}

func (p *geminiProvider) ParseResponse(raw []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
