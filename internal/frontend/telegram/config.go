package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	defaultSessionFile  = ".cache/telegram/session.json"
	defaultAuthTimeout  = time.Minute
	defaultReplyTimeout = 2 * time.Minute
)

type fileConfig struct {
	AppID        int      `json:"app_id"`
	AppHash      string   `json:"app_hash"`
	BotToken     string   `json:"bot_token"`
	SessionFile  string   `json:"session_file"`
	Agent        string   `json:"agent"`
	AuthTimeout  string   `json:"auth_timeout"`
	ReplyTimeout string   `json:"reply_timeout"`
	AllowedChats []string `json:"allowed_chats"`
}

// Config is the parsed telegram frontend configuration.
type Config struct {
	AppID       int
	AppHash     string
	BotToken    string
	SessionFile string
	// Agent is the agent each chat talks to until it switches with ~use.
	Agent string
	// AuthTimeout bounds session restore and bot login.
	AuthTimeout time.Duration
	// ReplyTimeout bounds one inbound message from receipt to reply.
	ReplyTimeout time.Duration
	// AllowedChats restricts which chats are served. Empty serves every chat.
	AllowedChats []string
}

// ParseConfig decodes one telegram frontend payload strictly.
func ParseConfig(raw []byte) (Config, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Config{}, fmt.Errorf("parse telegram config: missing config")
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse telegram config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("parse telegram config: trailing content")
	}

	cfg := Config{
		AppID:        parsed.AppID,
		AppHash:      strings.TrimSpace(parsed.AppHash),
		BotToken:     strings.TrimSpace(parsed.BotToken),
		SessionFile:  strings.TrimSpace(parsed.SessionFile),
		Agent:        strings.TrimSpace(parsed.Agent),
		AuthTimeout:  defaultAuthTimeout,
		ReplyTimeout: defaultReplyTimeout,
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile
	}

	if timeout := strings.TrimSpace(parsed.AuthTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse telegram config auth_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return Config{}, fmt.Errorf("parse telegram config auth_timeout: must be > 0")
		}
		cfg.AuthTimeout = parsedTimeout
	}
	if timeout := strings.TrimSpace(parsed.ReplyTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse telegram config reply_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return Config{}, fmt.Errorf("parse telegram config reply_timeout: must be > 0")
		}
		cfg.ReplyTimeout = parsedTimeout
	}
	for index, chat := range parsed.AllowedChats {
		chat = strings.TrimSpace(chat)
		if chat == "" {
			return Config{}, fmt.Errorf("parse telegram config allowed_chats[%d]: empty chat", index)
		}
		cfg.AllowedChats = append(cfg.AllowedChats, chat)
	}

	if cfg.AppID <= 0 {
		return Config{}, fmt.Errorf("parse telegram config: app_id must be > 0")
	}
	if cfg.AppHash == "" {
		return Config{}, fmt.Errorf("parse telegram config: app_hash is required")
	}
	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("parse telegram config: bot_token is required")
	}
	if cfg.Agent == "" {
		return Config{}, fmt.Errorf("parse telegram config: agent is required")
	}

	return cfg, nil
}
