package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	openAIEndpoint         = "https://api.openai.com/v1/chat/completions"
	defaultAzureAPIVersion = "2023-05-15"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat-completions body shared by OpenAI and Azure. Azure
// selects the model through the deployment, so Model is omitted there.
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func newChatRequest(model, prompt string) chatRequest {
	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: prompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

func parseChatResponse(raw []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIProvider struct{ descriptor }

func newOpenAI() *openAIProvider {
	return &openAIProvider{descriptor{
		id:          OpenAI,
		name:        "OpenAI",
		keyPattern:  regexp.MustCompile(`^sk-`),
		placeholder: "sk-...",
		fields:      []Field{FieldAPIKey, FieldModel, FieldOrganization},
		models: []Model{
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Default: true},
			{ID: "gpt-4o", Name: "GPT-4o"},
			{ID: "o1-preview", Name: "o1 Preview"},
			{ID: "o1-mini", Name: "o1 Mini"},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo"},
			{ID: "gpt-4", Name: "GPT-4"},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
		},
	}}
}

func (p *openAIProvider) Endpoint(Config) string { return openAIEndpoint }

func (p *openAIProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	if org := cfg.Get(FieldOrganization); org != "" {
		h.Set("OpenAI-Organization", org)
	}
	return h
}

func (p *openAIProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	return json.Marshal(newChatRequest(p.model(cfg), prompt))
}

func (p *openAIProvider) ParseResponse(raw []byte) (string, error) {
	return parseChatResponse(raw)
}

type azureProvider struct {
	descriptor
}

func newAzure() *azureProvider {
	return &azureProvider{descriptor{
		id:          Azure,
		name:        "Azure OpenAI",
		keyPattern:  regexp.MustCompile(`^[a-f0-9]{32}$`),
		placeholder: "32-character hex key",
		fields:      []Field{FieldAPIKey, FieldEndpoint, FieldDeploymentName, FieldAPIVersion},
	}}
}

func (p *azureProvider) Endpoint(cfg Config) string {
	version := cfg.Get(FieldAPIVersion)
	if version == "" {
		version = defaultAzureAPIVersion
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(cfg.Endpoint, "/"),
		url.PathEscape(cfg.Get(FieldDeploymentName)),
		url.QueryEscape(version))
}

func (p *azureProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	h.Set("api-key", cfg.APIKey)
	return h
}

func (p *azureProvider) BuildRequest(prompt string, _ Config) ([]byte, error) {
	return json.Marshal(newChatRequest("", prompt))
}

func (p *azureProvider) ParseResponse(raw []byte) (string, error) {
	return parseChatResponse(raw)
}

// ClassifyError names the deployment on 404 since that is almost always a
// misconfigured deployment name.
func (p *azureProvider) ClassifyError(status int, body []byte) ErrorInfo {
	if status == http.StatusNotFound {
		return ErrorInfo{Message: "Deployment not found"}
	}
	return classify(status, body)
}

// classifyWithConfig lets providers whose messages depend on the config
// refine the generic classification.
func (p *azureProvider) classifyWithConfig(status int, body []byte, cfg Config) ErrorInfo {
	if status == http.StatusNotFound {
		return ErrorInfo{Message: "Deployment not found: " + cfg.Get(FieldDeploymentName)}
	}
	return p.ClassifyError(status, body)
}
