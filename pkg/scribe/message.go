package scribe

import (
	"fmt"
	"strings"
)

// Role identifies which side of a conversation authored a message.
type Role string

const (
	// RoleUser identifies user-authored turns.
	RoleUser Role = "user"
	// RoleAssistant identifies model-authored turns.
	RoleAssistant Role = "assistant"
	// RoleSystem identifies system-level instructions.
	RoleSystem Role = "system"
)

// ParseRole parses one role name case-insensitively.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if err := role.Validate(); err != nil {
		return "", fmt.Errorf("parse role: %w", err)
	}

	return role, nil
}

// Validate checks whether this role value is supported.
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return fmt.Errorf("validate role: unsupported role %q", r)
	}
}

// Message is one immutable transcript entry.
//
// Edits replace messages wholesale; nothing mutates a Message in place.
type Message struct {
	// Role identifies the message author.
	Role Role `json:"role"`
	// Content is the plain text message body.
	Content string `json:"content"`
}

// NewMessage constructs one message value.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// Validate checks one message contract.
func (m Message) Validate() error {
	if err := m.Role.Validate(); err != nil {
		return fmt.Errorf("validate message: %w", err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("validate message: missing content")
	}

	return nil
}

// Transcript is an ordered message history. Insertion order is significant and
// content is not unique.
type Transcript []Message

// Clone returns an independent copy of the transcript.
//
// The result is never nil so that empty transcripts encode as JSON arrays.
func (t Transcript) Clone() Transcript {
	cloned := make(Transcript, len(t))
	copy(cloned, t)

	return cloned
}

// Equal reports whether two transcripts hold the same messages in the same order.
func (t Transcript) Equal(other Transcript) bool {
	if len(t) != len(other) {
		return false
	}
	for index := range t {
		if t[index] != other[index] {
			return false
		}
	}

	return true
}

// Last returns the final message when the transcript is not empty.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}

	return t[len(t)-1], true
}
