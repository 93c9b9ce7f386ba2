package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ex-scribe/internal/cachesync"
	"ex-scribe/pkg/scribe"

	"github.com/google/uuid"
)

func TestEngineReconcilesQueuedEditsBeforeAgentState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, cache := newWiredEngine(t)
	if err := eng.RegisterAgent(ctx, AgentSpec{
		ID:         "a1",
		Transcript: scribe.Transcript{scribe.NewMessage(scribe.RoleUser, "hi")},
	}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	facade := cache.Facade()
	if err := facade.SubmitAppend(ctx, "a1", scribe.NewMessage(scribe.RoleAssistant, "hello")); err != nil {
		t.Fatalf("submit append failed: %v", err)
	}
	response, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	want := scribe.Transcript{
		scribe.NewMessage(scribe.RoleUser, "hi"),
		scribe.NewMessage(scribe.RoleAssistant, "hello"),
	}
	if !response.Transcript.Equal(want) {
		t.Fatalf("authoritative = %+v, want %+v", response.Transcript, want)
	}

	if err := facade.SubmitModify(ctx, "a1", 1, "hello there"); err != nil {
		t.Fatalf("submit modify failed: %v", err)
	}
	if err := facade.SubmitRemove(ctx, "a1", 0); err != nil {
		t.Fatalf("submit remove failed: %v", err)
	}
	response, err = eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	want = scribe.Transcript{scribe.NewMessage(scribe.RoleAssistant, "hello there")}
	if !response.Transcript.Equal(want) {
		t.Fatalf("authoritative = %+v, want %+v", response.Transcript, want)
	}

	snapshot, found, err := facade.ReadTranscript(ctx, "a1")
	if err != nil || !found {
		t.Fatalf("read = (%v, %v), want found", found, err)
	}
	if !snapshot.Equal(want) {
		t.Fatalf("snapshot = %+v, want %+v", snapshot, want)
	}
}

func TestEngineOutOfRangeEditIsDroppedSilently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, cache := newWiredEngine(t)
	initial := scribe.Transcript{
		scribe.NewMessage(scribe.RoleUser, "hi"),
		scribe.NewMessage(scribe.RoleAssistant, "hello"),
	}
	if err := eng.RegisterAgent(ctx, AgentSpec{ID: "a1", Transcript: initial}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	if err := cache.Facade().SubmitModify(ctx, "a1", 5, "x"); err != nil {
		t.Fatalf("submit modify failed: %v", err)
	}
	response, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	if !response.Transcript.Equal(initial) {
		t.Fatalf("authoritative = %+v, want unchanged", response.Transcript)
	}
	if cache.PendingEdits() != 0 {
		t.Fatalf("pending edits = %d, want 0", cache.PendingEdits())
	}
}

func TestEngineStreamCompletionPublishesTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &providerStub{chunks: []string{"hel", "", "lo"}}
	eng, cache := newWiredEngine(t, WithProviderRegistry(providerRegistryStub{"stub": provider}))
	system := scribe.NewMessage(scribe.RoleSystem, "You are the default agent")
	if err := eng.RegisterAgent(ctx, AgentSpec{
		ID:         "default",
		Provider:   "stub",
		Model:      "test-model",
		Transcript: scribe.Transcript{system},
	}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	request := scribe.NewCompletionRequest("default", "hi", true)
	received := make(chan scribe.Notification, 16)
	subscription, err := eng.Notifications().Subscribe(ctx, scribe.SubscriptionSpec{
		Name:         "stream",
		Filter:       scribe.NotificationFilter{Ticket: request.Ticket},
		Backpressure: scribe.BackpressureBlock,
	}, func(_ context.Context, notification scribe.Notification) error {
		received <- notification
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(func() {
		_ = subscription.Close(context.Background())
	})

	response, err := eng.Do(ctx, request)
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if response.Content != "hello" {
		t.Fatalf("content = %q, want hello", response.Content)
	}
	want := scribe.Transcript{
		system,
		scribe.NewMessage(scribe.RoleUser, "hi"),
		scribe.NewMessage(scribe.RoleAssistant, "hello"),
	}
	if !response.Transcript.Equal(want) {
		t.Fatalf("transcript = %+v, want %+v", response.Transcript, want)
	}

	var deltas []string
	for finished := false; !finished; {
		select {
		case notification := <-received:
			switch notification.Kind {
			case scribe.NotificationStreamToken:
				deltas = append(deltas, notification.Delta)
			case scribe.NotificationStreamFinished:
				if notification.Content != "hello" {
					t.Fatalf("finished content = %q, want hello", notification.Content)
				}
				finished = true
			default:
				t.Fatalf("unexpected notification %s", notification.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream notifications")
		}
	}
	if len(deltas) != 2 || deltas[0] != "hel" || deltas[1] != "lo" {
		t.Fatalf("deltas = %v, want [hel lo]", deltas)
	}

	sent := provider.lastRequest()
	if sent.Model != "test-model" || !sent.Messages.Equal(want[:2]) {
		t.Fatalf("provider request = %+v, want model and history", sent)
	}
	if !provider.closed() {
		t.Fatal("provider stream was not closed")
	}

	snapshot, _, err := cache.Facade().ReadTranscript(ctx, "default")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !snapshot.Equal(want) {
		t.Fatalf("snapshot = %+v, want %+v", snapshot, want)
	}
}

func TestEngineStreamFailureEmitsFailedNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &providerStub{recvErr: fmt.Errorf("upstream reset")}
	eng, _ := newWiredEngine(t, WithProviderRegistry(providerRegistryStub{"stub": provider}))
	if err := eng.RegisterAgent(ctx, AgentSpec{ID: "a1", Provider: "stub", Model: "m"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	request := scribe.NewCompletionRequest("a1", "hi", true)
	failed := make(chan scribe.Notification, 1)
	subscription, err := eng.Notifications().Subscribe(ctx, scribe.SubscriptionSpec{
		Name: "failures",
		Filter: scribe.NotificationFilter{
			Kinds:  []scribe.NotificationKind{scribe.NotificationStreamFailed},
			Ticket: request.Ticket,
		},
	}, func(_ context.Context, notification scribe.Notification) error {
		failed <- notification
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(func() {
		_ = subscription.Close(context.Background())
	})

	if _, err := eng.Do(ctx, request); err == nil {
		t.Fatal("expected completion error")
	}
	select {
	case notification := <-failed:
		if notification.Error == "" {
			t.Fatal("failed notification missing error text")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure notification")
	}

	response, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	if len(response.Transcript) != 1 || response.Transcript[0].Role != scribe.RoleUser {
		t.Fatalf("transcript = %+v, want only the user turn", response.Transcript)
	}
}

func TestEnginePushToCacheAppendsMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, cache := newWiredEngine(t)
	if err := eng.RegisterAgent(ctx, AgentSpec{ID: "a1"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	message := scribe.NewMessage(scribe.RoleSystem, "remember this")
	response, err := eng.Do(ctx, scribe.NewPushToCacheRequest("a1", message))
	if err != nil {
		t.Fatalf("push to cache failed: %v", err)
	}
	if last, ok := response.Transcript.Last(); !ok || last != message {
		t.Fatalf("transcript = %+v, want pushed message last", response.Transcript)
	}

	snapshot, _, err := cache.Facade().ReadTranscript(ctx, "a1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !snapshot.Equal(response.Transcript) {
		t.Fatalf("snapshot = %+v, want %+v", snapshot, response.Transcript)
	}
}

func TestEngineCompletionWithoutProviders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, _ := newWiredEngine(t)
	if err := eng.RegisterAgent(ctx, AgentSpec{ID: "a1", Provider: "missing", Model: "m"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	if _, err := eng.Do(ctx, scribe.NewCompletionRequest("a1", "hi", false)); err == nil {
		t.Fatal("expected completion without providers to fail")
	}
}

func TestEngineRecoversListenerPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var mu sync.Mutex
	var scopes []string
	eng := New(
		WithLogger(discardLogger()),
		WithAsyncErrorHandler(func(_ context.Context, scope string, _ error) {
			mu.Lock()
			scopes = append(scopes, scope)
			mu.Unlock()
		}),
	)
	if err := eng.RegisterRequestListener(panickingListener{}); err != nil {
		t.Fatalf("register listener failed: %v", err)
	}
	if err := eng.RegisterAgent(ctx, AgentSpec{ID: "a1"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	if _, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1")); err != nil {
		t.Fatalf("agent state failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(scopes) != 1 || scopes[0] != "request listener panics" {
		t.Fatalf("reported scopes = %v, want [request listener panics]", scopes)
	}
}

func TestEngineRejectsDuplicateListenerNames(t *testing.T) {
	t.Parallel()

	eng := New(WithLogger(discardLogger()))
	if err := eng.RegisterRequestListener(panickingListener{}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := eng.RegisterRequestListener(panickingListener{})
	if !errors.Is(err, scribe.ErrListenerAlreadyRegistered) {
		t.Fatalf("second register error = %v, want ErrListenerAlreadyRegistered", err)
	}
}

func TestEngineAwaitReleasesTicketOnCancel(t *testing.T) {
	t.Parallel()

	const requests = 50

	eng, _ := newWiredEngine(t, WithRequestBuffer(requests+1))
	if err := eng.RegisterAgent(context.Background(), AgentSpec{ID: "a1"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for index := 0; index < requests; index++ {
		ticket, err := eng.Submit(context.Background(), scribe.NewAgentStateRequest("a1"))
		if err != nil {
			t.Fatalf("submit %d failed: %v", index, err)
		}
		if _, err := eng.Await(canceled, ticket); !errors.Is(err, context.Canceled) {
			t.Fatalf("await %d error = %v, want context.Canceled", index, err)
		}
		if _, err := eng.Await(context.Background(), ticket); !errors.Is(err, scribe.ErrTicketNotFound) {
			t.Fatalf("second await %d error = %v, want ErrTicketNotFound", index, err)
		}
	}
	startEngine(t, eng)

	// Requests are serviced in order, so this one finishes after the rest.
	if _, err := eng.Do(context.Background(), scribe.NewAgentStateRequest("a1")); err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	if got := pendingCount(eng); got != 0 {
		t.Fatalf("pending requests = %d, want 0", got)
	}
}

func TestEngineStreamDoesNotBlockCacheAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := newBlockingProvider("fine")
	eng, cache := newWiredEngine(t, WithProviderRegistry(providerRegistryStub{"stub": provider}))
	if err := eng.RegisterAgent(ctx, AgentSpec{
		ID:         "a1",
		Provider:   "stub",
		Transcript: scribe.Transcript{scribe.NewMessage(scribe.RoleUser, "hi")},
	}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}
	startEngine(t, eng)

	type result struct {
		response scribe.Response
		err      error
	}
	completed := make(chan result, 1)
	go func() {
		response, err := eng.Do(ctx, scribe.NewCompletionRequest("a1", "how are you", true))
		completed <- result{response: response, err: err}
	}()

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
	}

	facade := cache.Facade()
	const limit = 250 * time.Millisecond
	steps := []struct {
		name string
		run  func() error
	}{
		{name: "read", run: func() error {
			_, _, err := facade.ReadTranscript(ctx, "a1")
			return err
		}},
		{name: "append", run: func() error {
			return facade.SubmitAppend(ctx, "a1", scribe.NewMessage(scribe.RoleUser, "side note"))
		}},
		{name: "modify", run: func() error {
			return facade.SubmitModify(ctx, "a1", 0, "hi edited")
		}},
	}
	for _, step := range steps {
		startedAt := time.Now()
		if err := step.run(); err != nil {
			t.Fatalf("%s during stream failed: %v", step.name, err)
		}
		if elapsed := time.Since(startedAt); elapsed >= limit {
			t.Fatalf("%s during stream took %s, want under %s", step.name, elapsed, limit)
		}
	}

	snapshot, _, err := facade.ReadTranscript(ctx, "a1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(snapshot) == 0 || snapshot[0].Content != "hi edited" {
		t.Fatalf("snapshot during stream = %+v, want optimistic edit", snapshot)
	}

	close(provider.release)
	select {
	case done := <-completed:
		if done.err != nil {
			t.Fatalf("completion failed: %v", done.err)
		}
		if done.response.Content != "fine" {
			t.Fatalf("content = %q, want fine", done.response.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion did not finish")
	}

	response, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	want := scribe.Transcript{
		scribe.NewMessage(scribe.RoleUser, "hi edited"),
		scribe.NewMessage(scribe.RoleUser, "how are you"),
		scribe.NewMessage(scribe.RoleAssistant, "fine"),
		scribe.NewMessage(scribe.RoleUser, "side note"),
	}
	if !response.Transcript.Equal(want) {
		t.Fatalf("authoritative = %+v, want %+v", response.Transcript, want)
	}
	snapshot, _, err = facade.ReadTranscript(ctx, "a1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !snapshot.Equal(want) {
		t.Fatalf("snapshot = %+v, want %+v", snapshot, want)
	}
}

func TestEngineAwaitUnknownTicket(t *testing.T) {
	t.Parallel()

	eng := New(WithLogger(discardLogger()))
	_, err := eng.Await(context.Background(), uuid.New())
	if !errors.Is(err, scribe.ErrTicketNotFound) {
		t.Fatalf("await error = %v, want ErrTicketNotFound", err)
	}
}

func TestEngineSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	eng := New(WithLogger(discardLogger()))
	if err := eng.RegisterAgent(context.Background(), AgentSpec{ID: "a1"}); err != nil {
		t.Fatalf("register agent failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	_, err := eng.Submit(context.Background(), scribe.NewAgentStateRequest("a1"))
	if !errors.Is(err, scribe.ErrEngineClosed) {
		t.Fatalf("submit error = %v, want ErrEngineClosed", err)
	}
	if err := eng.Run(context.Background()); !errors.Is(err, scribe.ErrEngineClosed) {
		t.Fatalf("second run error = %v, want ErrEngineClosed", err)
	}
}

func newWiredEngine(t *testing.T, options ...Option) (*Engine, *cachesync.Cache) {
	t.Helper()

	cache, err := cachesync.New(cachesync.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	eng := New(append([]Option{WithLogger(discardLogger())}, options...)...)
	if err := eng.RegisterRequestListener(cache.Reconciler()); err != nil {
		t.Fatalf("register reconciler failed: %v", err)
	}
	if err := eng.RegisterNotificationListener(cache.SnapshotListener()); err != nil {
		t.Fatalf("register snapshot listener failed: %v", err)
	}

	return eng, cache
}

func startEngine(t *testing.T, eng *Engine) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("engine run returned error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func pendingCount(eng *Engine) int {
	eng.pendingMu.Lock()
	defer eng.pendingMu.Unlock()

	return len(eng.pending)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type panickingListener struct{}

func (panickingListener) Name() string { return "panics" }

func (panickingListener) Observe(scribe.Request) bool { return true }

func (panickingListener) Apply(context.Context, scribe.Request, scribe.TranscriptRegistry) (scribe.Request, error) {
	panic("listener exploded")
}

type providerRegistryStub map[string]scribe.LLMProvider

func (r providerRegistryStub) Resolve(provider string) (scribe.LLMProvider, error) {
	resolved, exists := r[provider]
	if !exists {
		return nil, fmt.Errorf("provider %s is not configured", provider)
	}

	return resolved, nil
}

type providerStub struct {
	chunks  []string
	recvErr error

	mu       sync.Mutex
	requests []scribe.LLMGenerateRequest
	streams  []*streamStub
}

func (p *providerStub) GenerateStream(_ context.Context, req scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stream := &streamStub{chunks: append([]string(nil), p.chunks...), recvErr: p.recvErr}
	p.requests = append(p.requests, req)
	p.streams = append(p.streams, stream)

	return stream, nil
}

func (p *providerStub) lastRequest() scribe.LLMGenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.requests) == 0 {
		return scribe.LLMGenerateRequest{}
	}
	return p.requests[len(p.requests)-1]
}

func (p *providerStub) closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, stream := range p.streams {
		if !stream.isClosed() {
			return false
		}
	}
	return len(p.streams) > 0
}

type streamStub struct {
	mu      sync.Mutex
	chunks  []string
	recvErr error
	closed  bool
}

func (s *streamStub) Recv(context.Context) (scribe.LLMGenerateChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recvErr != nil {
		return scribe.LLMGenerateChunk{}, s.recvErr
	}
	if len(s.chunks) == 0 {
		return scribe.LLMGenerateChunk{}, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]

	return scribe.LLMGenerateChunk{Delta: next}, nil
}

func (s *streamStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *streamStub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// blockingProvider streams reply once release is closed.
type blockingProvider struct {
	reply   string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingProvider(reply string) *blockingProvider {
	return &blockingProvider{
		reply:   reply,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *blockingProvider) GenerateStream(context.Context, scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	return &blockingStream{provider: p}, nil
}

type blockingStream struct {
	provider *blockingProvider
	sent     bool
}

func (s *blockingStream) Recv(ctx context.Context) (scribe.LLMGenerateChunk, error) {
	s.provider.once.Do(func() { close(s.provider.started) })

	select {
	case <-s.provider.release:
	case <-ctx.Done():
		return scribe.LLMGenerateChunk{}, ctx.Err()
	}
	if s.sent {
		return scribe.LLMGenerateChunk{}, io.EOF
	}
	s.sent = true

	return scribe.LLMGenerateChunk{Delta: s.provider.reply}, nil
}

func (s *blockingStream) Close() error { return nil }
