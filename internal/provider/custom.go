package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type customProvider struct{ descriptor }

func newCustom() *customProvider {
	return &customProvider{descriptor{
		id:          Custom,
		name:        "Custom API",
		placeholder: "Optional",
		fields:      []Field{FieldAPIKey, FieldEndpoint, FieldHeaders, FieldRequestTemplate, FieldResponseParser},
	}}
}

func (p *customProvider) Endpoint(cfg Config) string { return cfg.Endpoint }

// Headers decodes the user's JSON header object. An unparsable value falls
// back to a plain JSON content type.
func (p *customProvider) Headers(cfg Config) http.Header {
	h := jsonHeaders()
	raw := cfg.Get(FieldHeaders)
	if raw == "" {
		if cfg.APIKey != "" {
			h.Set("Authorization", "Bearer "+cfg.APIKey)
		}
		return h
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return jsonHeaders()
	}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// BuildRequest substitutes the prompt for the first {prompt} placeholder in
// the template. Inside a JSON string the prompt is escaped in place; as a
// bare value it becomes a JSON string. A template that does not yield valid
// JSON falls back to {"prompt": ...}.
func (p *customProvider) BuildRequest(prompt string, cfg Config) ([]byte, error) {
	quoted, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}
	fallback := []byte(`{"prompt":` + string(quoted) + `}`)

	tmpl := cfg.Get(FieldRequestTemplate)
	idx := strings.Index(tmpl, "{prompt}")
	if idx < 0 {
		return fallback, nil
	}
	value := string(quoted)
	if insideJSONString(tmpl, idx) {
		value = value[1 : len(value)-1]
	}
	body := tmpl[:idx] + value + tmpl[idx+len("{prompt}"):]
	if !json.Valid([]byte(body)) {
		return fallback, nil
	}
	return []byte(body), nil
}

// insideJSONString reports whether offset idx of s falls within a JSON
// string literal.
func insideJSONString(s string, idx int) bool {
	in := false
	for i := 0; i < idx; i++ {
		switch s[i] {
		case '\\':
			if in {
				i++
			}
		case '"':
			in = !in
		}
	}
	return in
}

// ParseResponse looks for the common text fields and otherwise returns the
// body verbatim.
func (p *customProvider) ParseResponse(raw []byte) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("decoding custom response: %w", err)
	}
	for _, key := range []string{"response", "text", "content"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return string(raw), nil
}
