package scribe

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RequestKind classifies one request serviced by the dispatch engine.
type RequestKind string

const (
	// RequestKindCompletion asks for one full completion appended to the transcript.
	RequestKindCompletion RequestKind = "get_completion"
	// RequestKindCompletionStream asks for one completion streamed token by token.
	RequestKindCompletionStream RequestKind = "get_completion_stream"
	// RequestKindAgentState reads the authoritative transcript of one agent.
	RequestKindAgentState RequestKind = "get_agent_state"
	// RequestKindPushToCache appends one message directly to the authoritative transcript.
	RequestKindPushToCache RequestKind = "push_to_cache"
)

// Validate checks whether this request kind is supported.
func (k RequestKind) Validate() error {
	switch k {
	case RequestKindCompletion, RequestKindCompletionStream, RequestKindAgentState, RequestKindPushToCache:
		return nil
	default:
		return fmt.Errorf("validate request kind: unsupported kind %q", k)
	}
}

// Request is one unit of work submitted to the dispatch engine.
type Request struct {
	// Ticket identifies this request in responses and notifications.
	Ticket uuid.UUID
	// Kind selects how the engine services the request.
	Kind RequestKind
	// AgentID identifies the target agent.
	AgentID string
	// Input is the user turn for completion requests.
	Input string
	// Message is the entry appended by push-to-cache requests.
	Message Message
}

// NewCompletionRequest builds one completion request with a fresh ticket.
func NewCompletionRequest(agentID string, input string, stream bool) Request {
	kind := RequestKindCompletion
	if stream {
		kind = RequestKindCompletionStream
	}

	return Request{Ticket: uuid.New(), Kind: kind, AgentID: agentID, Input: input}
}

// NewAgentStateRequest builds one authoritative transcript read request.
func NewAgentStateRequest(agentID string) Request {
	return Request{Ticket: uuid.New(), Kind: RequestKindAgentState, AgentID: agentID}
}

// NewPushToCacheRequest builds one direct append request.
func NewPushToCacheRequest(agentID string, message Message) Request {
	return Request{Ticket: uuid.New(), Kind: RequestKindPushToCache, AgentID: agentID, Message: message}
}

// Validate checks one request contract.
func (r Request) Validate() error {
	if r.Ticket == uuid.Nil {
		return fmt.Errorf("%w: missing ticket", ErrInvalidRequest)
	}
	if err := r.Kind.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return fmt.Errorf("%w: missing agent id", ErrInvalidRequest)
	}

	switch r.Kind {
	case RequestKindCompletion, RequestKindCompletionStream:
		if strings.TrimSpace(r.Input) == "" {
			return fmt.Errorf("%w: completion missing input", ErrInvalidRequest)
		}
	case RequestKindPushToCache:
		if err := r.Message.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	return nil
}

// Response is the engine result for one serviced request.
type Response struct {
	// Ticket echoes the request ticket.
	Ticket uuid.UUID
	// Kind echoes the request kind.
	Kind RequestKind
	// AgentID echoes the request agent.
	AgentID string
	// Transcript is a copy of the authoritative transcript after servicing.
	Transcript Transcript
	// Content holds the generated reply for completion requests.
	Content string
}
