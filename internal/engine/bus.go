package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ex-scribe/pkg/scribe"

	"github.com/google/uuid"
)

// NotificationBus fans engine notifications out to subscribers.
//
// Subscribers that filter on a ticket are indexed by it, so per-request
// stream listeners only see their own tokens and cost nothing on other
// publishes. Every subscriber owns a bounded mailbox drained by its workers.
type NotificationBus struct {
	mu       sync.Mutex
	closed   bool
	lastID   uint64
	byTicket map[uuid.UUID]map[uint64]*subscriber
	broad    map[uint64]*subscriber

	defaults subscriberDefaults
	report   func(context.Context, string, error)
}

type subscriberDefaults struct {
	buffer  int
	workers int
	timeout time.Duration
}

// NewNotificationBus creates a bus. The defaults apply to subscriptions
// that leave Buffer, Workers or HandlerTimeout unset.
func NewNotificationBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *NotificationBus {
	return &NotificationBus{
		byTicket: make(map[uuid.UUID]map[uint64]*subscriber),
		broad:    make(map[uint64]*subscriber),
		defaults: subscriberDefaults{
			buffer:  defaultBuffer,
			workers: defaultWorkers,
			timeout: defaultHandlerTimeout,
		},
		report: onAsyncError,
	}
}

// Publish hands notification to every subscriber whose filter matches.
//
// A full mailbox drops per its backpressure policy; drops are reported
// through the async error hook and never fail the publish.
func (b *NotificationBus) Publish(ctx context.Context, notification scribe.Notification) error {
	if err := notification.Validate(); err != nil {
		return fmt.Errorf("publish notification %s: %w", notification.Kind, err)
	}

	targets, err := b.targets(notification.Ticket)
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", notification.Kind, err)
	}

	var failed []error
	for _, target := range targets {
		if !target.spec.Filter.Matches(notification) {
			continue
		}
		err := target.post(ctx, notification)
		switch {
		case err == nil:
		case errors.Is(err, scribe.ErrNotificationDropped), errors.Is(err, scribe.ErrSubscriptionClosed):
			b.reportAsync(ctx, target.spec.Name, err)
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish notification %s: %w", notification.Kind, errors.Join(failed...))
	}

	return nil
}

// Subscribe registers handler and starts its workers.
func (b *NotificationBus) Subscribe(
	ctx context.Context,
	spec scribe.SubscriptionSpec,
	handler scribe.NotificationHandler,
) (scribe.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, scribe.ErrEngineClosed)
	}
	b.lastID++
	id := b.lastID
	spec, err := b.defaults.apply(spec, id)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	sub := newSubscriber(id, spec, handler, b)
	if ticket := spec.Filter.Ticket; ticket != uuid.Nil {
		if b.byTicket[ticket] == nil {
			b.byTicket[ticket] = make(map[uint64]*subscriber)
		}
		b.byTicket[ticket][id] = sub
	} else {
		b.broad[id] = sub
	}

	return sub, nil
}

// Close stops every subscriber and rejects later publishes and subscribes.
func (b *NotificationBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.broad))
	for _, sub := range b.broad {
		subs = append(subs, sub)
	}
	for _, scoped := range b.byTicket {
		for _, sub := range scoped {
			subs = append(subs, sub)
		}
	}
	b.broad = make(map[uint64]*subscriber)
	b.byTicket = make(map[uuid.UUID]map[uint64]*subscriber)
	b.mu.Unlock()

	var failed []error
	for _, sub := range subs {
		if err := sub.stop(ctx); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("close notification bus: %w", errors.Join(failed...))
	}

	return nil
}

// targets lists the broad subscribers plus those scoped to ticket.
func (b *NotificationBus) targets(ticket uuid.UUID) ([]*subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, scribe.ErrEngineClosed
	}

	scoped := b.byTicket[ticket]
	targets := make([]*subscriber, 0, len(b.broad)+len(scoped))
	for _, sub := range b.broad {
		targets = append(targets, sub)
	}
	if ticket != uuid.Nil {
		for _, sub := range scoped {
			targets = append(targets, sub)
		}
	}

	return targets, nil
}

func (b *NotificationBus) detach(ctx context.Context, sub *subscriber) error {
	b.mu.Lock()
	if ticket := sub.spec.Filter.Ticket; ticket != uuid.Nil {
		delete(b.byTicket[ticket], sub.id)
		if len(b.byTicket[ticket]) == 0 {
			delete(b.byTicket, ticket)
		}
	} else {
		delete(b.broad, sub.id)
	}
	b.mu.Unlock()

	if err := sub.stop(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *NotificationBus) reportAsync(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

// apply fills unset spec fields and validates the backpressure policy.
func (d subscriberDefaults) apply(spec scribe.SubscriptionSpec, id uint64) (scribe.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = d.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = d.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = d.timeout
	}
	switch spec.Backpressure {
	case "":
		spec.Backpressure = scribe.BackpressureDropNewest
	case scribe.BackpressureDropNewest, scribe.BackpressureDropOldest, scribe.BackpressureBlock:
	default:
		return spec, fmt.Errorf("%w: backpressure %q", scribe.ErrInvalidSubscription, spec.Backpressure)
	}
	if len(spec.Filter.Kinds) > 0 {
		spec.Filter.Kinds = append([]scribe.NotificationKind(nil), spec.Filter.Kinds...)
	}

	return spec, nil
}

// subscriber is one registration: a bounded FIFO mailbox and the workers
// that drain it.
type subscriber struct {
	id      uint64
	spec    scribe.SubscriptionSpec
	handler scribe.NotificationHandler
	bus     *NotificationBus

	mu      sync.Mutex
	pending []scribe.Notification
	// freed is closed and replaced whenever a worker takes a notification,
	// waking publishers blocked on a full mailbox.
	freed chan struct{}
	// ready holds one wakeup for idle workers.
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscriber(
	id uint64,
	spec scribe.SubscriptionSpec,
	handler scribe.NotificationHandler,
	bus *NotificationBus,
) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		id:      id,
		spec:    spec,
		handler: handler,
		bus:     bus,
		pending: make([]scribe.Notification, 0, spec.Buffer),
		freed:   make(chan struct{}),
		ready:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var workers sync.WaitGroup
	for worker := 0; worker < spec.Workers; worker++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.work(worker)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

// Name returns the subscription name.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close detaches the subscriber from the bus and waits for its workers.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.detach(ctx, s)
}

// post places notification in the mailbox per the backpressure policy.
func (s *subscriber) post(ctx context.Context, notification scribe.Notification) error {
	for {
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return fmt.Errorf("deliver to %s: %w", s.spec.Name, scribe.ErrSubscriptionClosed)
		}
		if len(s.pending) < s.spec.Buffer {
			s.pending = append(s.pending, notification)
			s.mu.Unlock()
			s.wake()
			return nil
		}

		switch s.spec.Backpressure {
		case scribe.BackpressureDropOldest:
			s.pending = append(s.pending[1:], notification)
			s.mu.Unlock()
			s.wake()
			return nil
		case scribe.BackpressureBlock:
			freed := s.freed
			s.mu.Unlock()
			select {
			case <-freed:
			case <-s.ctx.Done():
				return fmt.Errorf("deliver to %s: %w", s.spec.Name, scribe.ErrSubscriptionClosed)
			case <-ctx.Done():
				return fmt.Errorf("deliver to %s: %w", s.spec.Name, ctx.Err())
			}
		default:
			s.mu.Unlock()
			return fmt.Errorf("deliver to %s: %w", s.spec.Name, scribe.ErrNotificationDropped)
		}
	}
}

// take pops the oldest pending notification.
func (s *subscriber) take() (scribe.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return scribe.Notification{}, false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	close(s.freed)
	s.freed = make(chan struct{})
	if len(s.pending) > 0 {
		s.wake()
	}

	return next, true
}

func (s *subscriber) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// work handles notifications until the subscriber stops. Whatever is still
// pending at that point is discarded.
func (s *subscriber) work(worker int) {
	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ready:
		}

		for s.ctx.Err() == nil {
			notification, ok := s.take()
			if !ok {
				break
			}
			if err := s.deliver(scope, notification); err != nil {
				s.bus.reportAsync(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *subscriber) deliver(scope string, notification scribe.Notification) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	defer cancel()

	if err := runSafely(scope, func() error {
		return s.handler(ctx, notification)
	}); err != nil {
		return fmt.Errorf("%s handle notification %s: %w", scope, notification.Kind, err)
	}

	return nil
}

// stop cancels the workers and waits for them until ctx ends.
func (s *subscriber) stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

var _ scribe.NotificationBus = (*NotificationBus)(nil)
