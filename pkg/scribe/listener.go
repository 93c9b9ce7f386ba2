package scribe

import "context"

// TranscriptRegistry grants exclusive access to authoritative agent transcripts.
type TranscriptRegistry interface {
	// WithTranscript runs fn while holding the agent's transcript lock.
	//
	// ErrAgentNotFound is returned when agentID is not registered. The
	// transcript pointer must not escape fn.
	WithTranscript(agentID string, fn func(transcript *Transcript) error) error
}

// RequestListener is a hook the engine runs right before servicing a request.
//
// Observe must be a pure predicate over the request. Apply runs only when
// Observe returned true and returns the request the engine should continue with.
type RequestListener interface {
	// Name returns a stable listener identifier.
	Name() string
	// Observe reports whether this listener wants to run for request.
	Observe(request Request) bool
	// Apply performs the listener action with access to authoritative transcripts.
	Apply(ctx context.Context, request Request, registry TranscriptRegistry) (Request, error)
}

// NotificationListener is a hook the engine runs synchronously after emitting
// a notification, before asynchronous subscribers see it.
type NotificationListener interface {
	// Name returns a stable listener identifier.
	Name() string
	// ObserveNotification reports whether this listener wants notification.
	ObserveNotification(notification Notification) bool
	// HandleNotification performs the listener action.
	HandleNotification(ctx context.Context, notification Notification) error
}
