package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ex-scribe/pkg/scribe"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// metadataReasoningEffort selects the reasoning effort instead of being sent
// as request metadata.
const metadataReasoningEffort = "openai.reasoning_effort"

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint.
	BaseURL      string
	Organization string
	Project      string
	// MaxRetries optionally overrides the SDK retry count.
	//
	// Nil keeps the SDK default behavior.
	MaxRetries *int
}

// Provider streams completions from the OpenAI Responses API.
type Provider struct {
	responses responsesClient
}

type responsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) responseStream
}

type responseServiceAdapter struct {
	service responses.ResponseService
}

func (a responseServiceAdapter) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) responseStream {
	return a.service.NewStreaming(ctx, body, opts...)
}

// New builds one OpenAI Responses API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	options := []option.RequestOption{option.WithAPIKey(normalized.APIKey)}
	if normalized.BaseURL != "" {
		options = append(options, option.WithBaseURL(normalized.BaseURL))
	}
	if normalized.Organization != "" {
		options = append(options, option.WithOrganization(normalized.Organization))
	}
	if normalized.Project != "" {
		options = append(options, option.WithProject(normalized.Project))
	}
	if normalized.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*normalized.MaxRetries))
	}

	client := openai.NewClient(options...)

	return &Provider{responses: responseServiceAdapter{service: client.Responses}}, nil
}

// GenerateStream starts one OpenAI Responses streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	if p == nil || p.responses == nil {
		return nil, fmt.Errorf("openai generate stream: provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai generate stream validate request: %w", err)
	}

	params, err := buildResponseParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream build params: %w", err)
	}

	stream := p.responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: sdk returned nil stream")
	}

	return newStream(stream), nil
}

func buildResponseParams(req scribe.LLMGenerateRequest) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for index, message := range req.Messages {
		role, err := inputRole(message.Role)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d]: %w", index, err)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(message.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	metadata := make(shared.Metadata, len(req.Metadata))
	for key, value := range req.Metadata {
		if strings.EqualFold(strings.TrimSpace(key), metadataReasoningEffort) {
			effort, err := reasoningEffort(value)
			if err != nil {
				return responses.ResponseNewParams{}, fmt.Errorf("%s: %w", metadataReasoningEffort, err)
			}
			params.Reasoning = shared.ReasoningParam{Effort: effort}
			continue
		}
		metadata[key] = value
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	return params, nil
}

func reasoningEffort(raw string) (shared.ReasoningEffort, error) {
	switch effort := shared.ReasoningEffort(strings.ToLower(strings.TrimSpace(raw))); effort {
	case shared.ReasoningEffortMinimal,
		shared.ReasoningEffortLow,
		shared.ReasoningEffortMedium,
		shared.ReasoningEffortHigh:
		return effort, nil
	default:
		return "", fmt.Errorf("unsupported value %q", raw)
	}
}

func inputRole(role scribe.Role) (responses.EasyInputMessageRole, error) {
	switch role {
	case scribe.RoleSystem:
		return responses.EasyInputMessageRoleSystem, nil
	case scribe.RoleUser:
		return responses.EasyInputMessageRoleUser, nil
	case scribe.RoleAssistant:
		return responses.EasyInputMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)

	if cfg.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, fmt.Errorf("max_retries must be >= 0")
	}

	return cfg, nil
}

var _ scribe.LLMProvider = (*Provider)(nil)
