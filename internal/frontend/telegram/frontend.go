package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"ex-scribe/pkg/scribe"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
)

// FrontendType is the configuration type token of the telegram frontend.
const FrontendType = "telegram"

// Frontend is a Telegram bot serving prompts and cache commands.
type Frontend struct {
	name   string
	cfg    Config
	bot    *bot
	logger *slog.Logger
}

// New creates one telegram frontend bound to dispatcher and cache.
func New(
	name string,
	cfg Config,
	dispatcher scribe.Dispatcher,
	cache scribe.TranscriptCache,
	logger *slog.Logger,
) (*Frontend, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("new telegram frontend %s: nil dispatcher", name)
	}
	if cache == nil {
		return nil, fmt.Errorf("new telegram frontend %s: nil transcript cache", name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Frontend{
		name:   name,
		cfg:    cfg,
		bot:    newBot(dispatcher, cache, cfg.Agent, logger),
		logger: logger,
	}, nil
}

// Name returns the configured frontend instance name.
func (f *Frontend) Name() string {
	return f.name
}

// Run connects the bot session and serves updates until ctx is canceled.
func (f *Frontend) Run(ctx context.Context) error {
	storage, err := newSessionStorage(f.cfg.SessionFile)
	if err != nil {
		return fmt.Errorf("telegram session storage: %w", err)
	}

	dispatcher := tg.NewUpdateDispatcher()
	client := gotdtelegram.NewClient(f.cfg.AppID, f.cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  dispatcher,
		SessionStorage: storage,
	})
	sender := message.NewSender(client.API())

	var replies sync.WaitGroup
	defer replies.Wait()

	dispatcher.OnNewMessage(func(_ context.Context, entities tg.Entities, update *tg.UpdateNewMessage) error {
		inbound, ok := update.Message.(*tg.Message)
		if !ok || inbound.Out {
			return nil
		}
		chat := chatKey(inbound.PeerID)
		if !f.chatAllowed(chat) {
			return nil
		}

		// Replies may take a full completion; keep the update loop free.
		replies.Add(1)
		go func() {
			defer replies.Done()
			f.reply(ctx, sender, entities, update, chat, inbound.Message)
		}()
		return nil
	})

	err = client.Run(ctx, func(runCtx context.Context) error {
		if err := f.authenticate(runCtx, client); err != nil {
			return err
		}
		f.logger.InfoContext(runCtx, "telegram frontend connected", "agent", f.cfg.Agent)

		<-runCtx.Done()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("run telegram client: %w", err)
	}

	return nil
}

func (f *Frontend) authenticate(ctx context.Context, client *gotdtelegram.Client) error {
	authCtx, cancel := context.WithTimeout(ctx, f.cfg.AuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check telegram auth status: %w", err)
	}
	if status.Authorized {
		f.logger.InfoContext(ctx, "telegram session restored", "session_file", f.cfg.SessionFile)
		return nil
	}
	if _, err := client.Auth().Bot(authCtx, f.cfg.BotToken); err != nil {
		return fmt.Errorf("authenticate telegram bot: %w", err)
	}

	return nil
}

func (f *Frontend) reply(
	ctx context.Context,
	sender *message.Sender,
	entities tg.Entities,
	update *tg.UpdateNewMessage,
	chat string,
	text string,
) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ReplyTimeout)
	defer cancel()

	answer := f.bot.respond(ctx, chat, text)
	if answer == "" {
		return
	}
	if _, err := sender.Reply(entities, update).Text(ctx, trimReply(answer)); err != nil {
		f.logger.ErrorContext(ctx, "telegram reply failed", "chat", chat, "error", err)
	}
}

func (f *Frontend) chatAllowed(chat string) bool {
	return len(f.cfg.AllowedChats) == 0 || slices.Contains(f.cfg.AllowedChats, chat)
}

// chatKey names a conversation the way allowed_chats entries do:
// "user:<id>", "chat:<id>" or "channel:<id>".
func chatKey(peer tg.PeerClass) string {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return "user:" + strconv.FormatInt(typed.UserID, 10)
	case *tg.PeerChat:
		return "chat:" + strconv.FormatInt(typed.ChatID, 10)
	case *tg.PeerChannel:
		return "channel:" + strconv.FormatInt(typed.ChannelID, 10)
	default:
		return "unknown"
	}
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

var _ scribe.Frontend = (*Frontend)(nil)
