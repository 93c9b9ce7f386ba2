package scribe

import (
	"context"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming notification when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued notification before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// NotificationHandler consumes one delivered notification.
type NotificationHandler func(ctx context.Context, notification Notification) error

// SubscriptionSpec configures a single notification consumer.
type SubscriptionSpec struct {
	Name           string
	Filter         NotificationFilter
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// Subscription controls an active notification stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// NotificationBus fans engine notifications out to asynchronous subscribers.
type NotificationBus interface {
	// Publish delivers one notification to every matching subscriber.
	Publish(ctx context.Context, notification Notification) error
	// Subscribe registers a handler with bounded buffering semantics.
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler NotificationHandler) (Subscription, error)
}
