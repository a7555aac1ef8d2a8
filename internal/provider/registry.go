package provider

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

var (
	claudeDesc      = newClaude()
	openAIDesc      = newOpenAI()
	geminiDesc      = newGemini()
	azureDesc       = newAzure()
	cohereDesc      = newCohere()
	huggingFaceDesc = newHuggingFace()
	ollamaDesc      = newOllama()
	githubDesc      = newGitHub()
	replicateDesc   = newReplicate()
	customDesc      = newCustom()
)

// IDs lists every supported provider in display order.
var IDs = []ID{Claude, OpenAI, Gemini, Azure, Cohere, HuggingFace, Ollama, GitHub, Replicate, Custom}

// Get returns the descriptor for id.
func Get(id ID) (Descriptor, error) {
	switch id {
	case Claude:
		return claudeDesc, nil
	case OpenAI:
		return openAIDesc, nil
	case Gemini:
		return geminiDesc, nil
	case Azure:
		return azureDesc, nil
	case Cohere:
		return cohereDesc, nil
	case HuggingFace:
		return huggingFaceDesc, nil
	case Ollama:
		return ollamaDesc, nil
	case GitHub:
		return githubDesc, nil
	case Replicate:
		return replicateDesc, nil
	case Custom:
		return customDesc, nil
	}
	return nil, &UnknownProviderError{Input: string(id), Suggestion: suggest(string(id))}
}

// Lookup parses a user-typed provider name, case-insensitively.
func Lookup(name string) (Descriptor, error) {
	return Get(ID(strings.ToLower(strings.TrimSpace(name))))
}

// All returns every descriptor in display order.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(IDs))
	for _, id := range IDs {
		d, _ := Get(id)
		out = append(out, d)
	}
	return out
}

func suggest(input string) ID {
	if input == "" {
		return ""
	}
	names := make([]string, len(IDs))
	for i, id := range IDs {
		names[i] = string(id)
	}
	matches := fuzzy.Find(strings.ToLower(input), names)
	if len(matches) == 0 {
		return ""
	}
	return ID(matches[0].Str)
}
