package scribe

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationKind classifies one engine notification.
type NotificationKind string

const (
	// NotificationTranscriptChanged reports a new authoritative transcript.
	NotificationTranscriptChanged NotificationKind = "transcript_changed"
	// NotificationStreamToken carries one generated token batch.
	NotificationStreamToken NotificationKind = "stream_token"
	// NotificationStreamFinished reports a completed stream with its full reply.
	NotificationStreamFinished NotificationKind = "stream_finished"
	// NotificationStreamFailed reports a stream that ended with an error.
	NotificationStreamFailed NotificationKind = "stream_failed"
)

// Notification is one engine-emitted event.
type Notification struct {
	// Kind selects which payload fields are populated.
	Kind NotificationKind
	// Ticket links stream notifications to their originating request.
	Ticket uuid.UUID
	// AgentID identifies the agent the notification concerns.
	AgentID string
	// Transcript carries the full authoritative transcript for transcript changes.
	Transcript Transcript
	// Delta is the newly generated text for stream tokens.
	Delta string
	// Content is the accumulated reply for finished streams.
	Content string
	// Error describes a stream failure.
	Error string
	// OccurredAt is the emission timestamp.
	OccurredAt time.Time
}

// NewTranscriptChanged builds one transcript-changed notification holding a copy of transcript.
func NewTranscriptChanged(agentID string, transcript Transcript) Notification {
	return Notification{
		Kind:       NotificationTranscriptChanged,
		AgentID:    agentID,
		Transcript: transcript.Clone(),
		OccurredAt: time.Now().UTC(),
	}
}

// Validate checks one notification contract.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.AgentID) == "" {
		return fmt.Errorf("validate notification %s: missing agent id", n.Kind)
	}

	switch n.Kind {
	case NotificationTranscriptChanged:
	case NotificationStreamToken, NotificationStreamFinished, NotificationStreamFailed:
		if n.Ticket == uuid.Nil {
			return fmt.Errorf("validate notification %s: missing ticket", n.Kind)
		}
	default:
		return fmt.Errorf("validate notification: unsupported kind %q", n.Kind)
	}

	return nil
}

// NotificationFilter declares which notifications a subscriber receives.
//
// Zero-valued fields match everything.
type NotificationFilter struct {
	// Kinds restricts delivery to these notification kinds.
	Kinds []NotificationKind
	// AgentID restricts delivery to one agent.
	AgentID string
	// Ticket restricts delivery to one request.
	Ticket uuid.UUID
}

// Matches reports whether notification satisfies the filter.
func (f NotificationFilter) Matches(notification Notification) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, notification.Kind) {
		return false
	}
	if f.AgentID != "" && f.AgentID != notification.AgentID {
		return false
	}
	if f.Ticket != uuid.Nil && f.Ticket != notification.Ticket {
		return false
	}

	return true
}
