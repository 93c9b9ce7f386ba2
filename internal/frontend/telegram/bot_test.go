package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"ex-scribe/internal/cachesync"
	"ex-scribe/internal/engine"
	"ex-scribe/pkg/scribe"

	gotdtg "github.com/gotd/td/tg"
)

func TestBotRespond(t *testing.T) {
	t.Parallel()

	unmatched := cachesync.OutcomeUpdated + " (" + cachesync.OutcomeNoMatch + " in cache)"
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "help", text: "~help", want: helpText},
		{name: "agents", text: "~agents", want: "* a1\n  a2"},
		{name: "history", text: "~history", want: "a1:\n[0] user: hi"},
		{name: "append", text: "~append assistant hello", want: cachesync.OutcomeUpdated},
		{name: "append with bad role", text: "~append narrator hello", want: "usage: ~append <user|assistant|system> <text>"},
		{name: "edit", text: "~edit 0 hey", want: cachesync.OutcomeUpdated},
		{name: "edit out of range", text: "~edit 4 hey", want: unmatched},
		{name: "edit without text", text: "~edit 0", want: "usage: ~edit <index> <text>"},
		{name: "delete", text: "~delete 0", want: cachesync.OutcomeUpdated},
		{name: "delete out of range", text: "~delete 1", want: unmatched},
		{name: "delete with extra args", text: "~delete 0 now", want: "usage: ~delete <index>"},
		{name: "use unknown agent", text: "~use ghost", want: cachesync.OutcomeNoMatch},
		{name: "use known agent", text: "~use a2", want: "using a2"},
		{name: "unknown command", text: "~frobnicate", want: "unknown command ~frobnicate, try ~help"},
		{name: "prompt", text: "how are you", want: "fine"},
		{name: "blank", text: "  ", want: ""},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			b, _ := newTestBot(t)
			if got := b.respond(context.Background(), "user:1", testCase.text); got != testCase.want {
				t.Fatalf("respond(%q) = %q, want %q", testCase.text, got, testCase.want)
			}
		})
	}
}

func TestBotQueuesEditsWithoutSnapshotTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _, cache := newTestBotStack(t)
	b.agents["user:1"] = "ghost"

	want := cachesync.OutcomeUpdated + " (" + cachesync.OutcomeNoMatch + " in cache)"
	for _, text := range []string{"~append user hello", "~edit 5 hey", "~delete 5"} {
		if got := b.respond(ctx, "user:1", text); got != want {
			t.Fatalf("respond(%q) = %q, want %q", text, got, want)
		}
	}

	if got := cache.PendingEdits(); got != 3 {
		t.Fatalf("pending edits = %d, want 3", got)
	}
}

func TestBotAgentSelectionIsPerChat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := newTestBot(t)

	if got := b.respond(ctx, "user:1", "~use a2"); got != "using a2" {
		t.Fatalf("use = %q", got)
	}
	if got := b.respond(ctx, "user:1", "~history"); got != "a2: empty transcript" {
		t.Fatalf("history after use = %q", got)
	}
	if got := b.respond(ctx, "user:2", "~history"); !strings.HasPrefix(got, "a1:") {
		t.Fatalf("other chat history = %q, want default agent", got)
	}
}

func TestBotEditsReachAuthoritativeTranscript(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, eng := newTestBot(t)

	for _, text := range []string{"~append assistant hello", "~edit 1 hello there", "~delete 0"} {
		if got := b.respond(ctx, "user:1", text); got != cachesync.OutcomeUpdated {
			t.Fatalf("respond(%q) = %q", text, got)
		}
	}

	response, err := eng.Do(ctx, scribe.NewAgentStateRequest("a1"))
	if err != nil {
		t.Fatalf("agent state failed: %v", err)
	}
	want := scribe.Transcript{scribe.NewMessage(scribe.RoleAssistant, "hello there")}
	if !response.Transcript.Equal(want) {
		t.Fatalf("authoritative = %+v, want %+v", response.Transcript, want)
	}
	if got := b.respond(ctx, "user:1", "~history"); got != "a1:\n[0] assistant: hello there" {
		t.Fatalf("history = %q", got)
	}
}

func TestBotPromptUpdatesHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := newTestBot(t)

	if got := b.respond(ctx, "user:1", "how are you"); got != "fine" {
		t.Fatalf("prompt = %q, want fine", got)
	}
	want := "a1:\n[0] user: hi\n[1] user: how are you\n[2] assistant: fine"
	if got := b.respond(ctx, "user:1", "/history"); got != want {
		t.Fatalf("history = %q, want %q", got, want)
	}
}

func TestChatKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		peer gotdtg.PeerClass
		want string
	}{
		{name: "user", peer: &gotdtg.PeerUser{UserID: 7}, want: "user:7"},
		{name: "chat", peer: &gotdtg.PeerChat{ChatID: 8}, want: "chat:8"},
		{name: "channel", peer: &gotdtg.PeerChannel{ChannelID: 9}, want: "channel:9"},
		{name: "nil", peer: nil, want: "unknown"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := chatKey(testCase.peer); got != testCase.want {
				t.Fatalf("chatKey = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestFrontendChatAllowed(t *testing.T) {
	t.Parallel()

	open := &Frontend{}
	if !open.chatAllowed("user:1") {
		t.Fatal("empty allow list should serve every chat")
	}
	restricted := &Frontend{cfg: Config{AllowedChats: []string{"chat:5"}}}
	if restricted.chatAllowed("user:1") {
		t.Fatal("user:1 should be rejected")
	}
	if !restricted.chatAllowed("chat:5") {
		t.Fatal("chat:5 should be served")
	}
}

// newTestBot wires a bot to a running engine with agent "a1" holding one user
// message and an empty agent "a2". Prompts are answered with "fine".
func newTestBot(t *testing.T) (*bot, *engine.Engine) {
	t.Helper()

	b, eng, _ := newTestBotStack(t)
	return b, eng
}

// newTestBotStack is newTestBot that also returns the cache behind the bot.
func newTestBotStack(t *testing.T) (*bot, *engine.Engine, *cachesync.Cache) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := cachesync.New(cachesync.WithLogger(logger))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	eng := engine.New(
		engine.WithLogger(logger),
		engine.WithProviderRegistry(providerRegistryStub{"stub": &providerStub{chunks: []string{"fi", "ne"}}}),
	)
	if err := eng.RegisterRequestListener(cache.Reconciler()); err != nil {
		t.Fatalf("register reconciler failed: %v", err)
	}
	if err := eng.RegisterNotificationListener(cache.SnapshotListener()); err != nil {
		t.Fatalf("register snapshot listener failed: %v", err)
	}
	specs := []engine.AgentSpec{
		{
			ID:         "a1",
			Provider:   "stub",
			Model:      "stub-model",
			Transcript: scribe.Transcript{scribe.NewMessage(scribe.RoleUser, "hi")},
		},
		{ID: "a2", Provider: "stub", Model: "stub-model"},
	}
	for _, spec := range specs {
		if err := eng.RegisterAgent(context.Background(), spec); err != nil {
			t.Fatalf("register agent %s failed: %v", spec.ID, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("engine did not stop")
		}
	})

	return newBot(eng, cache.Facade(), "a1", logger), eng, cache
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
	chunks []string
}

func (p *providerStub) GenerateStream(context.Context, scribe.LLMGenerateRequest) (scribe.LLMStream, error) {
	return &streamStub{chunks: append([]string(nil), p.chunks...)}, nil
}

type streamStub struct {
	mu     sync.Mutex
	chunks []string
}

func (s *streamStub) Recv(context.Context) (scribe.LLMGenerateChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chunks) == 0 {
		return scribe.LLMGenerateChunk{}, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]

	return scribe.LLMGenerateChunk{Delta: next}, nil
}

func (s *streamStub) Close() error {
	return nil
}
