package scribe

import "errors"

var (
	// ErrAgentNotFound indicates that an edit or read targets an unknown agent id.
	ErrAgentNotFound = errors.New("scribe: agent not found")
	// ErrIndexOutOfRange indicates that an edit references a position beyond the transcript length.
	ErrIndexOutOfRange = errors.New("scribe: index out of range")
	// ErrQueuePush indicates that a pending edit could not be appended to the edit queue.
	ErrQueuePush = errors.New("scribe: edit queue push failed")
	// ErrLockTimeout indicates that a short-lived lock could not be acquired within budget.
	ErrLockTimeout = errors.New("scribe: temporarily unavailable")
	// ErrInvalidEdit indicates that an edit does not satisfy its variant invariants.
	ErrInvalidEdit = errors.New("scribe: invalid edit")
	// ErrInvalidRequest indicates that an engine request is malformed.
	ErrInvalidRequest = errors.New("scribe: invalid request")
	// ErrAgentAlreadyRegistered indicates duplicate agent registration.
	ErrAgentAlreadyRegistered = errors.New("scribe: agent already registered")
	// ErrListenerAlreadyRegistered indicates duplicate listener registration.
	ErrListenerAlreadyRegistered = errors.New("scribe: listener already registered")
	// ErrEngineClosed indicates that the dispatch engine no longer accepts requests.
	ErrEngineClosed = errors.New("scribe: engine closed")
	// ErrTicketNotFound indicates that no pending request matches a ticket.
	ErrTicketNotFound = errors.New("scribe: ticket not found")
	// ErrSubscriptionClosed indicates that a notification subscription is no longer active.
	ErrSubscriptionClosed = errors.New("scribe: subscription closed")
	// ErrNotificationDropped indicates a non-blocking backpressure drop.
	ErrNotificationDropped = errors.New("scribe: notification dropped due to backpressure")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("scribe: invalid subscription")
)
