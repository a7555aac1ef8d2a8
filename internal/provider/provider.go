// Package provider normalizes the HTTP APIs of the supported AI vendors behind
// a single call contract: a prompt goes in, improved script text comes out.
package provider

import (
	"net/http"
	"regexp"
)

// ID identifies a supported vendor.
type ID string

const (
	Claude      ID = "claude"
	OpenAI      ID = "openai"
	Gemini      ID = "gemini"
	Azure       ID = "azure"
	Cohere      ID = "cohere"
	HuggingFace ID = "huggingface"
	Ollama      ID = "ollama"
	GitHub      ID = "github"
	Replicate   ID = "replicate"
	Custom      ID = "custom"
)

// Field names a configuration value a provider needs.
type Field string

const (
	FieldAPIKey          Field = "apiKey"
	FieldModel           Field = "model"
	FieldEndpoint        Field = "endpoint"
	FieldOrganization    Field = "organization"
	FieldDeploymentName  Field = "deploymentName"
	FieldAPIVersion      Field = "apiVersion"
	FieldHeaders         Field = "headers"
	FieldRequestTemplate Field = "requestTemplate"
	FieldResponseParser  Field = "responseParser"
	FieldModelVersion    Field = "modelVersion"
)

// Model is one selectable model of a provider.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// Config is the user-supplied configuration for one provider.
type Config struct {
	ProviderID ID
	APIKey     string
	Model      string
	Endpoint   string
	Extra      map[Field]string
}

// Get returns the value of f, looking at the dedicated fields first.
func (c Config) Get(f Field) string {
	switch f {
	case FieldAPIKey:
		return c.APIKey
	case FieldModel:
		return c.Model
	case FieldEndpoint:
		return c.Endpoint
	}
	return c.Extra[f]
}

// ErrorInfo is the outcome of classifying a non-2xx response.
type ErrorInfo struct {
	Retryable bool
	Message   string
}

// Result is the normalized outcome of a dispatch, serialized as-is to callers.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Descriptor describes how to talk to one vendor. Implementations are
// immutable and shared.
type Descriptor interface {
	ID() ID
	Name() string
	// APIKeyPattern is nil when the provider accepts keys of any shape.
	APIKeyPattern() *regexp.Regexp
	APIKeyPlaceholder() string
	ConfigFields() []Field
	Models() []Model
	Endpoint(cfg Config) string
	Headers(cfg Config) http.Header
	BuildRequest(prompt string, cfg Config) ([]byte, error)
	// ParseResponse extracts the raw generated text. Code fences are stripped
	// by the caller.
	ParseResponse(raw []byte) (string, error)
	ClassifyError(status int, body []byte) ErrorInfo
}

// Fixed instructions shared by every provider so responses can be treated as
// code only.
const (
	systemInstruction = "You are a helpful assistant that improves and fixes scripts. " +
		"You respond only with executable code, no explanations or markdown formatting."
	inlineInstruction = "Given the following request, provide ONLY the improved executable code " +
		"without any explanations or markdown formatting:\n\n"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 2000
)

// descriptor holds the static metadata every provider shares. Vendors embed
// it and supply the wire-format methods.
type descriptor struct {
	id          ID
	name        string
	keyPattern  *regexp.Regexp
	placeholder string
	fields      []Field
	models      []Model
}

func (d *descriptor) ID() ID                        { return d.id }
func (d *descriptor) Name() string                  { return d.name }
func (d *descriptor) APIKeyPattern() *regexp.Regexp { return d.keyPattern }
func (d *descriptor) APIKeyPlaceholder() string     { return d.placeholder }

func (d *descriptor) ConfigFields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

func (d *descriptor) Models() []Model {
	out := make([]Model, len(d.models))
	copy(out, d.models)
	return out
}

func (d *descriptor) ClassifyError(status int, body []byte) ErrorInfo {
	return classify(status, body)
}

// model returns the configured model or the provider default.
func (d *descriptor) model(cfg Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return defaultModelID(d.models)
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

// DefaultModel returns the model flagged as default, the first model when
// none is flagged, or "" for providers without a model list.
func DefaultModel(d Descriptor) string {
	return defaultModelID(d.Models())
}

func defaultModelID(models []Model) string {
	for _, m := range models {
		if m.Default {
			return m.ID
		}
	}
	if len(models) > 0 {
		return models[0].ID
	}
	return ""
}

// WithDefaults fills the model and endpoint a provider can default.
func WithDefaults(d Descriptor, cfg Config) Config {
	cfg.ProviderID = d.ID()
	if cfg.Model == "" {
		cfg.Model = DefaultModel(d)
	}
	if de, ok := d.(interface{ DefaultEndpoint() string }); ok && cfg.Endpoint == "" {
		cfg.Endpoint = de.DefaultEndpoint()
	}
	return cfg
}
