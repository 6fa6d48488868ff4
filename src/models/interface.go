package models

import (
	"context"
	"errors"
	"fmt"
)

// Agent is an opaque text-completion capability: prompt in, answer out.
type Agent interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrGeneration wraps any backend failure so callers can detect it with
// errors.Is without caring which provider was configured.
var ErrGeneration = errors.New("generation failed")

// NewProvider returns a concrete Agent.
func NewProvider(ctx context.Context, provider, model, promptPrefix string) (Agent, error) {
	switch provider {
	case "gemini", "google":
		return NewGeminiLLM(ctx, model, promptPrefix)
	case "openai":
		return NewOpenAILLM(model, promptPrefix), nil
	case "ollama":
		return NewOllamaLLM(model, promptPrefix)
	case "anthropic", "claude":
		return NewAnthropicLLM(model, promptPrefix), nil
	case "dummy", "":
		return NewDummyLLM(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
