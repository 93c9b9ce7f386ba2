package gemini

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"ex-scribe/pkg/scribe"

	"google.golang.org/genai"
)

const (
	defaultAPIVersion = "v1beta"

	responseMIMEText = "text/plain"
	responseMIMEJSON = "application/json"
)

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion defaults to v1beta.
	APIVersion string
	// ResponseMIMEType is either text/plain or application/json.
	ResponseMIMEType string
}

// Provider streams completions from the Gemini Developer API.
type Provider struct {
	models       modelsClient
	responseMIME string
}

type modelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// New builds one Gemini API provider instance.
func New(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  normalized.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    normalized.BaseURL,
			APIVersion: normalized.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{models: client.Models, responseMIME: normalized.ResponseMIMEType}, nil
}

// GenerateStream starts one Gemini streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	if p == nil || p.models == nil {
		return nil, fmt.Errorf("gemini generate stream: provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini generate stream validate request: %w", err)
	}

	contents, config, err := buildContents(req)
	if err != nil {
		return nil, fmt.Errorf("gemini generate stream build contents: %w", err)
	}
	if p.responseMIME != "" {
		config.ResponseMIMEType = p.responseMIME
	}
	// The caller context is the only deadline for streams.
	noTimeout := time.Duration(0)
	config.HTTPOptions = &genai.HTTPOptions{Timeout: &noTimeout}

	seq := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), contents, config)
	if seq == nil {
		return nil, fmt.Errorf("gemini generate stream: sdk returned nil stream")
	}

	return newStream(seq), nil
}

// buildContents splits system messages into the system instruction and maps
// the remaining turns to Gemini contents.
func buildContents(req scribe.LLMGenerateRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for index, message := range req.Messages {
		var role genai.Role
		switch message.Role {
		case scribe.RoleSystem:
			system = append(system, message.Content)
			continue
		case scribe.RoleUser:
			role = genai.RoleUser
		case scribe.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, nil, fmt.Errorf("messages[%d]: unsupported role %q", index, message.Role)
		}
		contents = append(contents, genai.NewContentFromText(message.Content, role))
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	return contents, config, nil
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIVersion = strings.TrimSpace(cfg.APIVersion)
	cfg.ResponseMIMEType = strings.ToLower(strings.TrimSpace(cfg.ResponseMIMEType))

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
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if !isValidAPIVersion(cfg.APIVersion) {
		return ProviderConfig{}, fmt.Errorf("invalid api_version %q", cfg.APIVersion)
	}
	switch cfg.ResponseMIMEType {
	case "", responseMIMEText, responseMIMEJSON:
	default:
		return ProviderConfig{}, fmt.Errorf("unsupported response_mime_type %q", cfg.ResponseMIMEType)
	}

	return cfg, nil
}

func isValidAPIVersion(raw string) bool {
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '_' {
			continue
		}
		return false
	}

	return raw != ""
}

var _ scribe.LLMProvider = (*Provider)(nil)
