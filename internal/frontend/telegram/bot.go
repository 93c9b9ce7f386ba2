package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"ex-scribe/internal/cachesync"
	"ex-scribe/pkg/scribe"
)

const helpText = `~agents - list agents
~use <agent> - switch the agent of this chat
~history - show the cached transcript
~append <role> <text> - append a message
~edit <index> <text> - replace a message
~delete <index> - remove a message
anything else is sent to the agent as a prompt`

// bot turns chat text into cache edits and prompts. It holds no Telegram
// state so that every reply can be produced without a live session.
type bot struct {
	dispatcher   scribe.Dispatcher
	cache        scribe.TranscriptCache
	defaultAgent string
	logger       *slog.Logger

	mu     sync.Mutex
	agents map[string]string
}

func newBot(
	dispatcher scribe.Dispatcher,
	cache scribe.TranscriptCache,
	defaultAgent string,
	logger *slog.Logger,
) *bot {
	if logger == nil {
		logger = slog.Default()
	}

	return &bot{
		dispatcher:   dispatcher,
		cache:        cache,
		defaultAgent: defaultAgent,
		logger:       logger,
		agents:       make(map[string]string),
	}
}

// respond produces the reply for one inbound text in chat. An empty reply
// means nothing should be sent.
func (b *bot) respond(ctx context.Context, chat string, text string) string {
	parsed, matched, err := parseCommand(text)
	if err != nil {
		return err.Error()
	}
	if !matched {
		if strings.TrimSpace(text) == "" {
			return ""
		}
		return b.prompt(ctx, chat, text)
	}

	switch parsed.Name {
	case commandHelp:
		return helpText
	case commandAgents:
		return b.listAgents(ctx, chat)
	case commandUse:
		return b.useAgent(ctx, chat, parsed.Args)
	case commandHistory:
		return b.history(ctx, chat)
	case commandAppend:
		return b.appendMessage(ctx, chat, parsed.Args)
	case commandEdit:
		return b.editMessage(ctx, chat, parsed.Args)
	case commandDelete:
		return b.deleteMessage(ctx, chat, parsed.Args)
	default:
		return fmt.Sprintf("unknown command %s%s, try ~help", commandPrefixSystem, parsed.Name)
	}
}

func (b *bot) agentFor(chat string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if agentID, exists := b.agents[chat]; exists {
		return agentID
	}

	return b.defaultAgent
}

func (b *bot) prompt(ctx context.Context, chat string, input string) string {
	agentID := b.agentFor(chat)
	response, err := scribe.StreamPrompt(ctx, b.dispatcher, agentID, input, nil)
	if err != nil {
		b.logger.WarnContext(ctx, "telegram prompt failed", "chat", chat, "agent", agentID, "error", err)
		if errors.Is(err, scribe.ErrAgentNotFound) {
			return cachesync.OutcomeNoMatch
		}
		return "prompt failed: " + err.Error()
	}
	if strings.TrimSpace(response.Content) == "" {
		return "(empty reply)"
	}

	return response.Content
}

func (b *bot) listAgents(ctx context.Context, chat string) string {
	agents, err := b.cache.Agents(ctx)
	if err != nil {
		return cachesync.Outcome(err)
	}
	if len(agents) == 0 {
		return "no agents"
	}

	active := b.agentFor(chat)
	lines := make([]string, 0, len(agents))
	for _, agentID := range agents {
		marker := "  "
		if agentID == active {
			marker = "* "
		}
		lines = append(lines, marker+agentID)
	}

	return strings.Join(lines, "\n")
}

func (b *bot) useAgent(ctx context.Context, chat string, agentID string) string {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "usage: ~use <agent>"
	}
	agents, err := b.cache.Agents(ctx)
	if err != nil {
		return cachesync.Outcome(err)
	}
	if !slices.Contains(agents, agentID) {
		return cachesync.OutcomeNoMatch
	}

	b.mu.Lock()
	b.agents[chat] = agentID
	b.mu.Unlock()

	return "using " + agentID
}

func (b *bot) history(ctx context.Context, chat string) string {
	agentID := b.agentFor(chat)
	transcript, found, err := b.cache.ReadTranscript(ctx, agentID)
	if err != nil {
		return cachesync.Outcome(err)
	}
	if !found {
		return cachesync.OutcomeNoMatch
	}
	if len(transcript) == 0 {
		return agentID + ": empty transcript"
	}

	var builder strings.Builder
	builder.WriteString(agentID)
	builder.WriteString(":")
	for index, message := range transcript {
		fmt.Fprintf(&builder, "\n[%d] %s: %s", index, message.Role, message.Content)
	}

	return builder.String()
}

func (b *bot) appendMessage(ctx context.Context, chat string, args string) string {
	rawRole, content := splitHeader(args)
	role, err := scribe.ParseRole(rawRole)
	if err != nil {
		return "usage: ~append <user|assistant|system> <text>"
	}
	message := scribe.NewMessage(role, strings.TrimSpace(content))
	if err := message.Validate(); err != nil {
		return "usage: ~append <user|assistant|system> <text>"
	}

	agentID := b.agentFor(chat)
	notice := cachesync.Notice(ctx, b.cache, agentID, -1)

	return submitted(notice, b.cache.SubmitAppend(ctx, agentID, message))
}

func (b *bot) editMessage(ctx context.Context, chat string, args string) string {
	index, content, err := indexArgs(args)
	if err != nil || content == "" {
		return "usage: ~edit <index> <text>"
	}

	agentID := b.agentFor(chat)
	notice := cachesync.Notice(ctx, b.cache, agentID, index)

	return submitted(notice, b.cache.SubmitModify(ctx, agentID, index, content))
}

func (b *bot) deleteMessage(ctx context.Context, chat string, args string) string {
	index, rest, err := indexArgs(args)
	if err != nil || rest != "" {
		return "usage: ~delete <index>"
	}

	agentID := b.agentFor(chat)
	notice := cachesync.Notice(ctx, b.cache, agentID, index)

	return submitted(notice, b.cache.SubmitRemove(ctx, agentID, index))
}

// submitted renders the reply for a queued edit.
func submitted(notice string, err error) string {
	if err != nil {
		return cachesync.Outcome(err)
	}
	if notice != "" {
		return cachesync.OutcomeUpdated + " (" + notice + " in cache)"
	}

	return cachesync.OutcomeUpdated
}
