package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/deepscout/config"
	openai_provider "github.com/mohammad-safakhou/deepscout/provider/openai"
)

// Usage reports token consumption for a single completion call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Options tunes a single completion request.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// CompletionProvider is the interface all LLM implementations must satisfy.
// Callers hold an injected instance; there is no package-level client.
type CompletionProvider interface {
	CompleteWithUsage(ctx context.Context, prompt string, model string, opts Options) (string, Usage, error)
	CalculateCost(usage Usage, model string) float64
}

// NewCompletionProvider creates an LLM client from configuration.
func NewCompletionProvider(cfg config.LLMConfig) (CompletionProvider, error) {
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai", "":
			if p.APIKey == "" {
				return nil, fmt.Errorf("provider %s: api key not set", name)
			}
			return &openaiAdapter{client: openai_provider.New(p)}, nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, errors.New("no LLM provider configured")
}

type openaiAdapter struct {
	client *openai_provider.Client
}

func (a *openaiAdapter) CompleteWithUsage(ctx context.Context, prompt string, model string, opts Options) (string, Usage, error) {
	text, promptTokens, completionTokens, err := a.client.Complete(ctx, prompt, model, opts.Temperature, opts.MaxTokens)
	if err != nil {
		return "", Usage{}, err
	}
	return text, Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens}, nil
}

func (a *openaiAdapter) CalculateCost(usage Usage, model string) float64 {
	return a.client.CalculateCost(usage.PromptTokens, usage.CompletionTokens, model)
}
