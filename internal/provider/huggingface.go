package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

const huggingFaceBaseURL = "https://api-inference.huggingface.co/models/"

type huggingFaceProvider struct{ descriptor }

func newHuggingFace() *huggingFaceProvider {
	return &huggingFaceProvider{descriptor{
		id:          HuggingFace,
		name:        "Hugging Face",
		keyPattern:  regexp.MustCompile(`^hf_`),
		placeholder: "hf_...",
		fields:      []Field{FieldAPIKey, FieldModel},
		models: []Model{
			{ID: "Qwen/Qwen2.5-Coder-32B-Instruct", Name: "Qwen 2.5 Coder 32B", Default: true},
			{ID: "meta-llama/Llama-3.1-70B-Instruct", Name: "Llama 3.1 70B"},
			{ID: "codellama/CodeLlama-34b-Instruct-hf", Name: "CodeLlama 34B"},
			{ID: "deepseek-ai/deepseek-coder-33b-instruct", Name: "DeepSeek Coder 33B"},
			{ID: "bigcode/starcoder2-15b", Name: "StarCoder2 15B"},
			{ID: "microsoft/phi-3-medium-4k-instruct", Name: "Phi-3 Medium"},
		},
	}}
}

// Endpoint keeps the slash in namespaced model IDs.
func (p *huggingFaceProvider) Endpoint(cfg Config) string {
	return huggingFaceBaseURL + p.model(cfg)
}

func (p *huggingFaceProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	return h
}

type huggingFaceRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens int     `json:"max_new_tokens"`
		Temperature  float64 `json:"temperature"`
		DoSample     bool    `json:"do_sample"`
		TopP         float64 `json:"top_p"`
	} `json:"parameters"`
}

func (p *huggingFaceProvider) BuildRequest(prompt string, _ Config) ([]byte, error) {
	var req huggingFaceRequest
	req.Inputs = "<s>[INST] " + inlineInstruction + prompt + " [/INST]"
	req.Parameters.MaxNewTokens = defaultMaxTokens
	req.Parameters.Temperature = defaultTemperature
	req.Parameters.DoSample = true
	req.Parameters.TopP = 0.95
	return json.Marshal(req)
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

// ParseResponse accepts both the list and the single-object response shapes.
func (p *huggingFaceProvider) ParseResponse(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []generatedText
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", fmt.Errorf("decoding huggingface response: %w", err)
		}
		if len(list) == 0 {
			return "", nil
		}
		return list[0].GeneratedText, nil
	}
	var one generatedText
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return "", fmt.Errorf("decoding huggingface response: %w", err)
	}
	return one.GeneratedText, nil
}

func (p *huggingFaceProvider) ClassifyError(status int, body []byte) ErrorInfo {
	if status == http.StatusServiceUnavailable {
		return ErrorInfo{Retryable: true, Message: "Model is loading"}
	}
	return classify(status, body)
}
