package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ex-scribe/pkg/scribe"

	"github.com/google/uuid"
)

// Engine is the dispatch loop that owns authoritative agent transcripts.
//
// Requests are serviced one at a time in submission order. Registered request
// listeners run right before each request is serviced; notification listeners
// run synchronously whenever the engine emits a notification, before the
// notification reaches asynchronous bus subscribers.
type Engine struct {
	cfg config

	agents *AgentRegistry
	bus    *NotificationBus

	mu                    sync.RWMutex
	requestListeners      []scribe.RequestListener
	notificationListeners []scribe.NotificationListener
	listenerNames         map[string]struct{}

	requests chan scribe.Request

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingRequest

	runMu   sync.Mutex
	running bool

	closeOnce sync.Once
	closed    chan struct{}
}

// pendingRequest carries one request result from the loop to Await.
type pendingRequest struct {
	done     chan struct{}
	response scribe.Response
	err      error
}

// New creates a new dispatch engine.
func New(options ...Option) *Engine {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Engine{
		cfg:    cfg,
		agents: NewAgentRegistry(),
		bus: NewNotificationBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		listenerNames: make(map[string]struct{}),
		requests:      make(chan scribe.Request, cfg.requestBuffer),
		pending:       make(map[uuid.UUID]*pendingRequest),
		closed:        make(chan struct{}),
	}
}

// Notifications exposes the notification bus to frontends.
func (e *Engine) Notifications() scribe.NotificationBus {
	return e.bus
}

// Agents exposes the authoritative agent registry.
func (e *Engine) Agents() *AgentRegistry {
	return e.agents
}

// RegisterRequestListener adds one hook run before every observed request.
func (e *Engine) RegisterRequestListener(listener scribe.RequestListener) error {
	if listener == nil {
		return fmt.Errorf("register request listener: nil listener")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.claimListenerNameLocked(listener.Name()); err != nil {
		return fmt.Errorf("register request listener: %w", err)
	}
	e.requestListeners = append(e.requestListeners, listener)

	return nil
}

// RegisterNotificationListener adds one hook run for every observed notification.
func (e *Engine) RegisterNotificationListener(listener scribe.NotificationListener) error {
	if listener == nil {
		return fmt.Errorf("register notification listener: nil listener")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.claimListenerNameLocked(listener.Name()); err != nil {
		return fmt.Errorf("register notification listener: %w", err)
	}
	e.notificationListeners = append(e.notificationListeners, listener)

	return nil
}

func (e *Engine) claimListenerNameLocked(name string) error {
	if name == "" {
		return fmt.Errorf("empty listener name")
	}
	if _, exists := e.listenerNames[name]; exists {
		return fmt.Errorf("listener %s: %w", name, scribe.ErrListenerAlreadyRegistered)
	}
	e.listenerNames[name] = struct{}{}

	return nil
}

// RegisterAgent adds one agent and announces its initial transcript.
func (e *Engine) RegisterAgent(ctx context.Context, spec AgentSpec) error {
	if err := e.agents.Register(spec); err != nil {
		return err
	}
	e.emitTranscriptChanged(ctx, spec.ID)
	e.cfg.logger.InfoContext(ctx, "agent registered",
		"agent", spec.ID,
		"provider", spec.Provider,
		"model", spec.Model,
		"messages", len(spec.Transcript),
	)

	return nil
}

// Submit validates request and queues it for the dispatch loop.
//
// Submit blocks only while the request buffer is full.
func (e *Engine) Submit(ctx context.Context, request scribe.Request) (uuid.UUID, error) {
	if err := request.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("submit request: %w", err)
	}
	if e.isClosed() {
		return uuid.Nil, fmt.Errorf("submit request %s: %w", request.Kind, scribe.ErrEngineClosed)
	}

	e.pendingMu.Lock()
	if _, exists := e.pending[request.Ticket]; exists {
		e.pendingMu.Unlock()
		return uuid.Nil, fmt.Errorf("submit request %s: %w: duplicate ticket %s",
			request.Kind, scribe.ErrInvalidRequest, request.Ticket)
	}
	e.pending[request.Ticket] = &pendingRequest{done: make(chan struct{})}
	e.pendingMu.Unlock()

	select {
	case e.requests <- request:
		return request.Ticket, nil
	case <-ctx.Done():
		e.forget(request.Ticket)
		return uuid.Nil, fmt.Errorf("submit request %s: %w", request.Kind, ctx.Err())
	case <-e.closed:
		e.forget(request.Ticket)
		return uuid.Nil, fmt.Errorf("submit request %s: %w", request.Kind, scribe.ErrEngineClosed)
	}
}

// Await blocks until the request identified by ticket has been serviced.
//
// A ticket can be awaited once; the result is released afterwards, also when
// ctx ends first. The request itself is still serviced.
func (e *Engine) Await(ctx context.Context, ticket uuid.UUID) (scribe.Response, error) {
	e.pendingMu.Lock()
	pending, exists := e.pending[ticket]
	e.pendingMu.Unlock()
	if !exists {
		return scribe.Response{}, fmt.Errorf("await %s: %w", ticket, scribe.ErrTicketNotFound)
	}

	select {
	case <-pending.done:
		e.forget(ticket)
		return pending.response, pending.err
	case <-ctx.Done():
		e.forget(ticket)
		return scribe.Response{}, fmt.Errorf("await %s: %w", ticket, ctx.Err())
	}
}

// Do submits request and waits for its response.
func (e *Engine) Do(ctx context.Context, request scribe.Request) (scribe.Response, error) {
	ticket, err := e.Submit(ctx, request)
	if err != nil {
		return scribe.Response{}, err
	}

	return e.Await(ctx, ticket)
}

// Run services requests until ctx is canceled, then shuts down the bus and
// fails every request still waiting.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startRun(); err != nil {
		return err
	}
	defer e.finishRun()

	e.cfg.logger.InfoContext(ctx, "engine started", "agents", len(e.agents.IDs()))

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(ctx)
		case request := <-e.requests:
			e.process(ctx, request)
		}
	}
}

// startRun serializes Run invocations and rejects concurrent starts.
func (e *Engine) startRun() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return fmt.Errorf("engine run: already running")
	}
	if e.isClosed() {
		return fmt.Errorf("engine run: %w", scribe.ErrEngineClosed)
	}
	e.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (e *Engine) finishRun() {
	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()
}

// shutdown closes the engine in a bounded timeout window.
// It uses WithoutCancel so cleanup still runs after parent cancellation.
func (e *Engine) shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() { close(e.closed) })

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.shutdownTimeout)
	defer cancel()

	e.failPending(scribe.ErrEngineClosed)

	if err := e.bus.Close(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	e.cfg.logger.InfoContext(shutdownCtx, "engine stopped")

	return nil
}

// process runs listeners for request and services it.
func (e *Engine) process(ctx context.Context, request scribe.Request) {
	tracker := newTouchTracker(e.agents)
	request = e.runRequestListeners(ctx, request, tracker)
	for _, agentID := range tracker.touchedAgents() {
		e.emitTranscriptChanged(ctx, agentID)
	}

	response, err := e.service(ctx, request)
	if err != nil {
		e.cfg.logger.WarnContext(ctx, "request failed",
			"ticket", request.Ticket.String(),
			"kind", request.Kind,
			"agent", request.AgentID,
			"error", err,
		)
	}
	e.resolve(request.Ticket, response, err)
}

// runRequestListeners applies every observing listener in registration order.
func (e *Engine) runRequestListeners(
	ctx context.Context,
	request scribe.Request,
	registry scribe.TranscriptRegistry,
) scribe.Request {
	e.mu.RLock()
	listeners := append([]scribe.RequestListener(nil), e.requestListeners...)
	e.mu.RUnlock()

	for _, listener := range listeners {
		current := request
		listenerCtx, cancel := context.WithTimeout(ctx, e.cfg.listenerTimeout)
		err := runSafely("request listener "+listener.Name(), func() error {
			if !listener.Observe(current) {
				return nil
			}
			next, err := listener.Apply(listenerCtx, current, registry)
			if err != nil {
				return err
			}
			request = next
			return nil
		})
		cancel()
		if err != nil {
			e.cfg.onAsyncError(ctx, "request listener "+listener.Name(), err)
		}
	}

	return request
}

// emitTranscriptChanged announces the current authoritative transcript of agentID.
func (e *Engine) emitTranscriptChanged(ctx context.Context, agentID string) {
	transcript, err := e.agents.Transcript(agentID)
	if err != nil {
		e.cfg.onAsyncError(ctx, "emit transcript changed", err)
		return
	}
	e.emit(ctx, scribe.NewTranscriptChanged(agentID, transcript))
}

// emit runs notification listeners synchronously and then publishes to the bus.
func (e *Engine) emit(ctx context.Context, notification scribe.Notification) {
	e.mu.RLock()
	listeners := append([]scribe.NotificationListener(nil), e.notificationListeners...)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listenerCtx, cancel := context.WithTimeout(ctx, e.cfg.listenerTimeout)
		err := runSafely("notification listener "+listener.Name(), func() error {
			if !listener.ObserveNotification(notification) {
				return nil
			}
			return listener.HandleNotification(listenerCtx, notification)
		})
		cancel()
		if err != nil {
			e.cfg.onAsyncError(ctx, "notification listener "+listener.Name(), err)
		}
	}

	if err := e.bus.Publish(ctx, notification); err != nil && !errors.Is(err, scribe.ErrEngineClosed) {
		e.cfg.onAsyncError(ctx, "publish notification", err)
	}
}

// resolve hands a result to the waiter registered by Submit.
func (e *Engine) resolve(ticket uuid.UUID, response scribe.Response, err error) {
	e.pendingMu.Lock()
	pending, exists := e.pending[ticket]
	e.pendingMu.Unlock()
	if !exists {
		return
	}

	pending.response = response
	pending.err = err
	close(pending.done)
}

// failPending resolves every outstanding request with err.
func (e *Engine) failPending(err error) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for ticket, pending := range e.pending {
		select {
		case <-pending.done:
		default:
			pending.err = fmt.Errorf("request %s: %w", ticket, err)
			close(pending.done)
		}
	}
}

func (e *Engine) forget(ticket uuid.UUID) {
	e.pendingMu.Lock()
	delete(e.pending, ticket)
	e.pendingMu.Unlock()
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}
