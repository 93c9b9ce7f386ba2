package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/template"
	"time"
	"unicode"

	"ex-scribe/pkg/scribe"
)

const (
	defaultRequestTimeout = 90 * time.Second

	// ProviderTypeOpenAI selects the OpenAI Responses provider.
	ProviderTypeOpenAI = "openai"
	// ProviderTypeGemini selects the Gemini Developer API provider.
	ProviderTypeGemini = "gemini"

	defaultGeminiAPIVersion = "v1beta"

	templateKeyAgentName   = "AgentName"
	templateKeyDescription = "Description"
	templateKeyModel       = "Model"

	geminiResponseMIMEText = "text/plain"
	geminiResponseMIMEJSON = "application/json"
)

// Config is the full runtime LLM configuration model.
type Config struct {
	// RequestTimeout is the upper bound for any agent request timeout.
	RequestTimeout time.Duration
	// Providers contains provider profiles keyed by profile name.
	Providers map[string]ProviderProfile
	// Agents contains the agents registered with the engine at startup.
	Agents []Agent
}

// ProviderProfile describes one named provider profile.
type ProviderProfile struct {
	// Type identifies provider implementation kind.
	Type string
	// APIKey is the provider credential.
	APIKey string
	// BaseURL optionally overrides provider API endpoint.
	BaseURL string
	// OpenAI carries OpenAI-specific options.
	OpenAI *OpenAIOptions
	// Gemini carries Gemini-specific options.
	Gemini *GeminiOptions
}

// OpenAIOptions carries OpenAI-specific profile options.
type OpenAIOptions struct {
	Organization string
	Project      string
	// MaxRetries optionally overrides SDK retry count.
	MaxRetries *int
}

// GeminiOptions carries Gemini-specific profile options.
type GeminiOptions struct {
	// APIVersion selects the Gemini Developer API version.
	APIVersion string
	// ResponseMIMEType sets output MIME type for every request.
	ResponseMIMEType string
}

// Agent describes one configured agent.
type Agent struct {
	// Name is the agent id used by every frontend.
	Name        string
	Description string
	// Provider identifies which provider profile to resolve.
	Provider string
	Model    string
	// SystemPromptTemplate renders into the first system message.
	SystemPromptTemplate string
	// TemplateVariables are additional template variables injected at render time.
	TemplateVariables map[string]string
	// InitialTranscript seeds the conversation after the system prompt.
	InitialTranscript scribe.Transcript
	MaxOutputTokens   int
	Temperature       float64
	// RequestTimeout bounds one completion for this agent.
	RequestTimeout time.Duration
	// RequestMetadata is forwarded to the provider with every request.
	RequestMetadata map[string]string
}

type fileConfig struct {
	RequestTimeout string                       `json:"request_timeout"`
	Providers      map[string]fileProviderEntry `json:"providers"`
	Agents         []fileAgent                  `json:"agents"`
}

type fileProviderEntry struct {
	Type    string           `json:"type"`
	APIKey  string           `json:"api_key"`
	BaseURL string           `json:"base_url"`
	OpenAI  *fileOpenAIEntry `json:"openai"`
	Gemini  *fileGeminiEntry `json:"gemini"`
}

type fileOpenAIEntry struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	MaxRetries   *int   `json:"max_retries"`
}

type fileGeminiEntry struct {
	APIVersion       string `json:"api_version"`
	ResponseMIMEType string `json:"response_mime_type"`
}

type fileAgent struct {
	Name                 string            `json:"name"`
	Description          string            `json:"description"`
	Provider             string            `json:"provider"`
	Model                string            `json:"model"`
	SystemPromptTemplate string            `json:"system_prompt_template"`
	TemplateVariables    map[string]string `json:"template_variables"`
	InitialTranscript    []fileMessage     `json:"initial_transcript"`
	MaxOutputTokens      int               `json:"max_output_tokens"`
	Temperature          float64           `json:"temperature"`
	RequestTimeout       string            `json:"request_timeout"`
	RequestMetadata      map[string]string `json:"request_metadata"`
}

type fileMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type rootRaw struct {
	Providers json.RawMessage `json:"providers"`
}

// LoadFile reads and validates runtime LLM configuration from path.
func LoadFile(path string) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("load llm config: empty path")
	}

	data, err := os.ReadFile(trimmedPath)
	if err != nil {
		return Config{}, fmt.Errorf("load llm config read %s: %w", trimmedPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load llm config %s: %w", trimmedPath, err)
	}

	return cfg, nil
}

// Parse decodes and validates one LLM configuration document.
//
// Unknown fields, duplicate provider keys, and trailing content are rejected.
func Parse(data []byte) (Config, error) {
	if err := validateDuplicateProviderKeys(data); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	var parsed fileConfig
	if err := decodeStrictJSON(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	cfg := Config{
		RequestTimeout: defaultRequestTimeout,
		Providers:      make(map[string]ProviderProfile, len(parsed.Providers)),
		Agents:         make([]Agent, 0, len(parsed.Agents)),
	}

	if rawTimeout := strings.TrimSpace(parsed.RequestTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse llm config request_timeout: %w", err)
		}
		cfg.RequestTimeout = timeout
	}

	for key, rawProvider := range parsed.Providers {
		profileKey := strings.TrimSpace(key)
		if profileKey == "" {
			return Config{}, fmt.Errorf("parse llm config providers: empty provider key")
		}
		if _, exists := cfg.Providers[profileKey]; exists {
			return Config{}, fmt.Errorf("parse llm config providers: duplicate provider key %s", profileKey)
		}
		cfg.Providers[profileKey] = parseProviderProfile(rawProvider)
	}

	for index, rawAgent := range parsed.Agents {
		agent, err := parseAgent(rawAgent, cfg.RequestTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse llm config agents[%d]: %w", index, err)
		}
		cfg.Agents = append(cfg.Agents, agent)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (cfg Config) Validate() error {
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("validate llm config: request_timeout must be > 0")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("validate llm config: providers is required")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("validate llm config: at least one agent is required")
	}

	for key, profile := range cfg.Providers {
		if err := validateProviderProfile(key, profile); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", key, err)
		}
	}

	seenNames := make(map[string]struct{}, len(cfg.Agents))
	for index, agent := range cfg.Agents {
		if err := validateAgent(agent); err != nil {
			return fmt.Errorf("validate llm config agents[%d]: %w", index, err)
		}

		if _, exists := seenNames[agent.Name]; exists {
			return fmt.Errorf("validate llm config: duplicate agent name %q", agent.Name)
		}
		seenNames[agent.Name] = struct{}{}

		if _, exists := cfg.Providers[strings.TrimSpace(agent.Provider)]; !exists {
			return fmt.Errorf("validate llm config agents[%d]: provider %s is not configured", index, agent.Provider)
		}
		if agent.RequestTimeout > cfg.RequestTimeout {
			return fmt.Errorf(
				"validate llm config agents[%d]: request_timeout %s exceeds global request_timeout %s",
				index,
				agent.RequestTimeout,
				cfg.RequestTimeout,
			)
		}
	}

	return nil
}

// Transcript renders the agent system prompt and returns the starting
// transcript: one system message followed by the initial transcript.
func (a Agent) Transcript() (scribe.Transcript, error) {
	tmpl, err := template.New("system-prompt").Option("missingkey=error").Parse(a.SystemPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("agent %s parse system_prompt_template: %w", a.Name, err)
	}

	data := make(map[string]string, len(a.TemplateVariables)+3)
	for key, value := range a.TemplateVariables {
		data[key] = value
	}
	data[templateKeyAgentName] = a.Name
	data[templateKeyDescription] = a.Description
	data[templateKeyModel] = a.Model

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return nil, fmt.Errorf("agent %s render system_prompt_template: %w", a.Name, err)
	}
	prompt := strings.TrimSpace(rendered.String())
	if prompt == "" {
		return nil, fmt.Errorf("agent %s render system_prompt_template: empty prompt", a.Name)
	}

	transcript := make(scribe.Transcript, 0, len(a.InitialTranscript)+1)
	transcript = append(transcript, scribe.NewMessage(scribe.RoleSystem, prompt))
	transcript = append(transcript, a.InitialTranscript...)

	return transcript, nil
}

func parseAgent(raw fileAgent, fallbackTimeout time.Duration) (Agent, error) {
	timeout := fallbackTimeout
	if rawTimeout := strings.TrimSpace(raw.RequestTimeout); rawTimeout != "" {
		parsed, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return Agent{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		timeout = parsed
	}

	initial := make(scribe.Transcript, 0, len(raw.InitialTranscript))
	for index, rawMessage := range raw.InitialTranscript {
		role, err := scribe.ParseRole(rawMessage.Role)
		if err != nil {
			return Agent{}, fmt.Errorf("initial_transcript[%d]: %w", index, err)
		}
		initial = append(initial, scribe.NewMessage(role, rawMessage.Content))
	}

	return Agent{
		Name:                 strings.TrimSpace(raw.Name),
		Description:          strings.TrimSpace(raw.Description),
		Provider:             strings.TrimSpace(raw.Provider),
		Model:                strings.TrimSpace(raw.Model),
		SystemPromptTemplate: strings.TrimSpace(raw.SystemPromptTemplate),
		TemplateVariables:    cloneStringMap(raw.TemplateVariables),
		InitialTranscript:    initial,
		MaxOutputTokens:      raw.MaxOutputTokens,
		Temperature:          raw.Temperature,
		RequestTimeout:       timeout,
		RequestMetadata:      cloneStringMap(raw.RequestMetadata),
	}, nil
}

func parseProviderProfile(raw fileProviderEntry) ProviderProfile {
	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:  strings.TrimSpace(raw.APIKey),
		BaseURL: strings.TrimSpace(raw.BaseURL),
	}
	if raw.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization: strings.TrimSpace(raw.OpenAI.Organization),
			Project:      strings.TrimSpace(raw.OpenAI.Project),
			MaxRetries:   cloneIntPointer(raw.OpenAI.MaxRetries),
		}
	}
	if raw.Gemini != nil {
		profile.Gemini = &GeminiOptions{
			APIVersion:       strings.TrimSpace(raw.Gemini.APIVersion),
			ResponseMIMEType: strings.ToLower(strings.TrimSpace(raw.Gemini.ResponseMIMEType)),
		}
	}

	if profile.Type == ProviderTypeGemini {
		if profile.Gemini == nil {
			profile.Gemini = &GeminiOptions{}
		}
		if profile.Gemini.APIVersion == "" {
			profile.Gemini.APIVersion = defaultGeminiAPIVersion
		}
	}

	return profile
}

func validateProviderProfile(profileKey string, profile ProviderProfile) error {
	if strings.TrimSpace(profileKey) == "" {
		return fmt.Errorf("empty provider key")
	}

	switch strings.ToLower(strings.TrimSpace(profile.Type)) {
	case "":
		return fmt.Errorf("missing type")
	case ProviderTypeOpenAI:
		if profile.Gemini != nil {
			return fmt.Errorf("gemini options are only supported for gemini providers")
		}
		if profile.OpenAI != nil && profile.OpenAI.MaxRetries != nil && *profile.OpenAI.MaxRetries < 0 {
			return fmt.Errorf("invalid openai options: max_retries must be >= 0")
		}
	case ProviderTypeGemini:
		if profile.OpenAI != nil {
			return fmt.Errorf("openai options are only supported for openai providers")
		}
		if err := validateGeminiOptions(profile.Gemini); err != nil {
			return fmt.Errorf("invalid gemini options: %w", err)
		}
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}

	if strings.TrimSpace(profile.APIKey) == "" {
		return fmt.Errorf("missing api_key")
	}
	if rawBaseURL := strings.TrimSpace(profile.BaseURL); rawBaseURL != "" {
		parsed, err := url.Parse(rawBaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

func validateGeminiOptions(options *GeminiOptions) error {
	if options == nil {
		return nil
	}
	if !isValidAPIVersion(options.APIVersion) {
		return fmt.Errorf("invalid api_version %q", options.APIVersion)
	}
	switch options.ResponseMIMEType {
	case "", geminiResponseMIMEText, geminiResponseMIMEJSON:
	default:
		return fmt.Errorf("unsupported response_mime_type %q", options.ResponseMIMEType)
	}

	return nil
}

func validateAgent(agent Agent) error {
	if strings.TrimSpace(agent.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if strings.TrimSpace(agent.Provider) == "" {
		return fmt.Errorf("missing provider")
	}
	if strings.TrimSpace(agent.Model) == "" {
		return fmt.Errorf("missing model")
	}
	if strings.TrimSpace(agent.SystemPromptTemplate) == "" {
		return fmt.Errorf("missing system_prompt_template")
	}
	if agent.MaxOutputTokens < 0 {
		return fmt.Errorf("max_output_tokens must be >= 0")
	}
	if agent.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0")
	}
	if agent.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	for key := range agent.TemplateVariables {
		switch key {
		case templateKeyAgentName, templateKeyDescription, templateKeyModel:
			return fmt.Errorf("template_variables[%s]: reserved key", key)
		}
	}
	for index, message := range agent.InitialTranscript {
		if err := message.Validate(); err != nil {
			return fmt.Errorf("initial_transcript[%d]: %w", index, err)
		}
	}
	for key, value := range agent.RequestMetadata {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("request_metadata contains empty key")
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("request_metadata[%s]: empty value", key)
		}
	}
	if _, err := agent.Transcript(); err != nil {
		return err
	}

	return nil
}

func validateDuplicateProviderKeys(data []byte) error {
	var raw rootRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode root json: %w", err)
	}
	if len(raw.Providers) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	decoder := json.NewDecoder(bytes.NewReader(raw.Providers))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	delim, ok := token.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("providers: expected object")
	}

	for decoder.More() {
		rawKey, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		key, ok := rawKey.(string)
		if !ok {
			return fmt.Errorf("providers: expected string key")
		}
		trimmedKey := strings.TrimSpace(key)
		if _, exists := seen[trimmedKey]; exists {
			return fmt.Errorf("providers: duplicate provider key %s", trimmedKey)
		}
		seen[trimmedKey] = struct{}{}

		var discard json.RawMessage
		if err := decoder.Decode(&discard); err != nil {
			return fmt.Errorf("providers[%s]: %w", trimmedKey, err)
		}
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	return nil
}

func decodeStrictJSON(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing content")
		}
		return fmt.Errorf("decode trailing json: %w", err)
	}

	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return value, nil
}

func isValidAPIVersion(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '.', '_':
			continue
		default:
			return false
		}
	}

	return true
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(values))
	for key, value := range values {
		cloned[key] = value
	}

	return cloned
}

func cloneIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
