package engine

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"ex-scribe/pkg/scribe"
)

// AgentSpec describes one agent managed by the engine.
type AgentSpec struct {
	// ID is the stable agent identifier used by every frontend.
	ID string
	// Provider is the LLM provider registry key used for completions.
	Provider string
	// Model is the provider model name.
	Model string
	// Transcript is the initial authoritative transcript.
	Transcript scribe.Transcript
	// MaxOutputTokens optionally bounds generated output.
	MaxOutputTokens int
	// Temperature optionally controls output randomness.
	Temperature float64
	// RequestTimeout bounds one completion. Zero uses the engine default.
	RequestTimeout time.Duration
	// Metadata is forwarded to the provider with every request.
	Metadata map[string]string
}

// Validate checks one agent spec contract.
func (s AgentSpec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("validate agent spec: missing id")
	}
	for index, message := range s.Transcript {
		if err := message.Validate(); err != nil {
			return fmt.Errorf("validate agent spec %s transcript[%d]: %w", s.ID, index, err)
		}
	}
	if s.MaxOutputTokens < 0 {
		return fmt.Errorf("validate agent spec %s: max_output_tokens must be >= 0", s.ID)
	}
	if s.Temperature < 0 {
		return fmt.Errorf("validate agent spec %s: temperature must be >= 0", s.ID)
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("validate agent spec %s: request_timeout must be >= 0", s.ID)
	}

	return nil
}

// agent owns one authoritative transcript and the lock that guards it.
type agent struct {
	spec AgentSpec

	mu         sync.Mutex
	transcript scribe.Transcript
}

// AgentRegistry holds every agent the engine manages.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*agent
	order  []string
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*agent),
		order:  make([]string, 0),
	}
}

// Register adds one agent with its initial transcript.
func (r *AgentRegistry) Register(spec AgentSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}

	owned := spec
	owned.Transcript = nil
	owned.Metadata = maps.Clone(spec.Metadata)
	record := &agent{spec: owned, transcript: spec.Transcript.Clone()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[spec.ID]; exists {
		return fmt.Errorf("register agent %s: %w", spec.ID, scribe.ErrAgentAlreadyRegistered)
	}
	r.agents[spec.ID] = record
	r.order = append(r.order, spec.ID)

	return nil
}

// WithTranscript runs fn while holding the agent transcript lock.
//
// Mutations made by fn become authoritative only when fn returns nil.
func (r *AgentRegistry) WithTranscript(agentID string, fn func(*scribe.Transcript) error) error {
	if fn == nil {
		return fmt.Errorf("with transcript %s: nil callback", agentID)
	}
	record, err := r.lookup(agentID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	working := record.transcript.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	record.transcript = working

	return nil
}

// Transcript returns a copy of the authoritative transcript.
func (r *AgentRegistry) Transcript(agentID string) (scribe.Transcript, error) {
	record, err := r.lookup(agentID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	return record.transcript.Clone(), nil
}

// Spec returns the registration settings for agentID.
func (r *AgentRegistry) Spec(agentID string) (AgentSpec, error) {
	record, err := r.lookup(agentID)
	if err != nil {
		return AgentSpec{}, err
	}

	spec := record.spec
	spec.Metadata = maps.Clone(record.spec.Metadata)

	return spec, nil
}

// IDs returns agent ids in registration order.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *AgentRegistry) lookup(agentID string) (*agent, error) {
	r.mu.RLock()
	record, exists := r.agents[agentID]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("agent %s: %w", agentID, scribe.ErrAgentNotFound)
	}

	return record, nil
}

var _ scribe.TranscriptRegistry = (*AgentRegistry)(nil)

// touchTracker records which agents a listener pass modified so the engine
// can announce their new transcripts.
type touchTracker struct {
	registry *AgentRegistry

	mu      sync.Mutex
	touched []string
	seen    map[string]struct{}
}

func newTouchTracker(registry *AgentRegistry) *touchTracker {
	return &touchTracker{registry: registry, seen: make(map[string]struct{})}
}

// WithTranscript delegates to the registry and remembers successful writers.
func (t *touchTracker) WithTranscript(agentID string, fn func(*scribe.Transcript) error) error {
	if err := t.registry.WithTranscript(agentID, fn); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.seen[agentID]; !exists {
		t.seen[agentID] = struct{}{}
		t.touched = append(t.touched, agentID)
	}

	return nil
}

func (t *touchTracker) touchedAgents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.touched...)
}
