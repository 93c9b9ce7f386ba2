package llm

import (
	"context"
	"fmt"
	"slices"

	"ex-scribe/pkg/llm/config"
	"ex-scribe/pkg/llm/providers/gemini"
	"ex-scribe/pkg/llm/providers/openai"
	"ex-scribe/pkg/scribe"
)

// ProviderFactory builds one provider from a validated profile.
type ProviderFactory func(ctx context.Context, profile config.ProviderProfile) (scribe.LLMProvider, error)

// DefaultFactories maps every supported provider type to its constructor.
func DefaultFactories() map[string]ProviderFactory {
	return map[string]ProviderFactory{
		config.ProviderTypeOpenAI: newOpenAIProvider,
		config.ProviderTypeGemini: newGeminiProvider,
	}
}

// BuildRegistry constructs every provider profile of cfg.
func BuildRegistry(
	ctx context.Context,
	cfg config.Config,
	factories map[string]ProviderFactory,
) (*Registry, error) {
	if len(factories) == 0 {
		factories = DefaultFactories()
	}

	keys := make([]string, 0, len(cfg.Providers))
	for key := range cfg.Providers {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	providers := make(map[string]scribe.LLMProvider, len(keys))
	for _, key := range keys {
		profile := cfg.Providers[key]
		factory, exists := factories[profile.Type]
		if !exists {
			return nil, fmt.Errorf("build llm registry provider %s: unsupported type %q", key, profile.Type)
		}
		provider, err := factory(ctx, profile)
		if err != nil {
			return nil, fmt.Errorf("build llm registry provider %s: %w", key, err)
		}
		providers[key] = provider
	}

	return NewRegistry(providers)
}

func newOpenAIProvider(_ context.Context, profile config.ProviderProfile) (scribe.LLMProvider, error) {
	cfg := openai.ProviderConfig{APIKey: profile.APIKey, BaseURL: profile.BaseURL}
	if profile.OpenAI != nil {
		cfg.Organization = profile.OpenAI.Organization
		cfg.Project = profile.OpenAI.Project
		cfg.MaxRetries = profile.OpenAI.MaxRetries
	}

	return openai.New(cfg)
}

func newGeminiProvider(ctx context.Context, profile config.ProviderProfile) (scribe.LLMProvider, error) {
	cfg := gemini.ProviderConfig{APIKey: profile.APIKey, BaseURL: profile.BaseURL}
	if profile.Gemini != nil {
		cfg.APIVersion = profile.Gemini.APIVersion
		cfg.ResponseMIMEType = profile.Gemini.ResponseMIMEType
	}

	return gemini.New(ctx, cfg)
}
