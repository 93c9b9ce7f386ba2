package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ex-scribe/pkg/llm/config"
	"ex-scribe/pkg/scribe"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	provider := &providerStub{}
	registry, err := NewRegistry(map[string]scribe.LLMProvider{" openai-main ": provider})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tests := []struct {
		name             string
		key              string
		wantErrSubstring string
	}{
		{name: "known provider", key: "openai-main"},
		{name: "known provider with padding", key: "  openai-main"},
		{name: "unknown provider", key: "missing", wantErrSubstring: "is not configured"},
		{name: "empty provider key", key: "   ", wantErrSubstring: "empty provider key"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := registry.Resolve(testCase.key)
			if testCase.wantErrSubstring != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if resolved != provider {
				t.Fatal("resolved provider pointer mismatch")
			}
		})
	}
}

func TestNewRegistryRejectsInvalidProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers map[string]scribe.LLMProvider
	}{
		{name: "empty", providers: nil},
		{name: "blank key", providers: map[string]scribe.LLMProvider{" ": &providerStub{}}},
		{name: "nil provider", providers: map[string]scribe.LLMProvider{"a": nil}},
		{name: "duplicate after trim", providers: map[string]scribe.LLMProvider{"a": &providerStub{}, " a": &providerStub{}}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewRegistry(testCase.providers); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildRegistryUsesFactories(t *testing.T) {
	t.Parallel()

	built := make(map[string]string)
	factories := map[string]ProviderFactory{
		config.ProviderTypeOpenAI: func(_ context.Context, profile config.ProviderProfile) (scribe.LLMProvider, error) {
			built[profile.APIKey] = profile.Type
			return &providerStub{}, nil
		},
	}
	cfg := config.Config{
		Providers: map[string]config.ProviderProfile{
			"b": {Type: config.ProviderTypeOpenAI, APIKey: "key-b"},
			"a": {Type: config.ProviderTypeOpenAI, APIKey: "key-a"},
		},
	}

	registry, err := BuildRegistry(context.Background(), cfg, factories)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	if keys := registry.Keys(); strings.Join(keys, ",") != "a,b" {
		t.Fatalf("keys = %v, want [a b]", keys)
	}
	if len(built) != 2 {
		t.Fatalf("built = %v, want two providers", built)
	}
}

func TestBuildRegistryReportsFactoryFailure(t *testing.T) {
	t.Parallel()

	failure := errors.New("boom")
	factories := map[string]ProviderFactory{
		config.ProviderTypeGemini: func(context.Context, config.ProviderProfile) (scribe.LLMProvider, error) {
			return nil, failure
		},
	}
	cfg := config.Config{
		Providers: map[string]config.ProviderProfile{
			"gem": {Type: config.ProviderTypeGemini, APIKey: "k"},
		},
	}

	_, err := BuildRegistry(context.Background(), cfg, factories)
	if !errors.Is(err, failure) {
		t.Fatalf("error = %v, want factory failure", err)
	}

	cfg.Providers["other"] = config.ProviderProfile{Type: config.ProviderTypeOpenAI, APIKey: "k"}
	delete(cfg.Providers, "gem")
	if _, err := BuildRegistry(context.Background(), cfg, factories); err == nil ||
		!strings.Contains(err.Error(), "unsupported type") {
		t.Fatalf("error = %v, want unsupported type", err)
	}
}

func TestBuildRegistryDefaultOpenAIFactory(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Providers: map[string]config.ProviderProfile{
			"openai-main": {Type: config.ProviderTypeOpenAI, APIKey: "sk-test"},
		},
	}

	registry, err := BuildRegistry(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	if _, err := registry.Resolve("openai-main"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
}

type providerStub struct{}

func (*providerStub) GenerateStream(context.Context, scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	return nil, nil
}
