package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ex-scribe/pkg/scribe"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	frameToken    = "token"
	frameFinished = "finished"
	frameError    = "error"
)

// promptFrame is one client request on the prompt socket.
type promptFrame struct {
	Input string `json:"input"`
}

// replyFrame is one server frame on the prompt socket.
type replyFrame struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handlePrompt upgrades to a websocket and serves prompts one at a time.
// Every prompt yields zero or more token frames and then a finished or error
// frame.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if _, found, err := s.cache.ReadTranscript(r.Context(), agentID); err != nil {
		s.writeError(w, r, "open prompt", err)
		return
	} else if !found {
		s.writeError(w, r, "open prompt", scribe.ErrAgentNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.logger.WarnContext(r.Context(), "web prompt upgrade failed", "agent", agentID, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx := r.Context()
	for {
		var frame promptFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			s.logger.WarnContext(ctx, "web prompt read failed", "agent", agentID, "error", err)
			return
		}

		if err := s.servePrompt(ctx, conn, agentID, frame.Input); err != nil {
			s.logger.WarnContext(ctx, "web prompt write failed", "agent", agentID, "error", err)
			return
		}
	}
}

func (s *Server) servePrompt(ctx context.Context, conn *websocket.Conn, agentID string, input string) error {
	if strings.TrimSpace(input) == "" {
		return wsjson.Write(ctx, conn, replyFrame{Type: frameError, Error: "missing input"})
	}

	response, err := scribe.StreamPrompt(ctx, s.dispatcher, agentID, input, func(ctx context.Context, delta string) error {
		return wsjson.Write(ctx, conn, replyFrame{Type: frameToken, Delta: delta})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "web prompt failed", "agent", agentID, "error", err)
		return wsjson.Write(ctx, conn, replyFrame{Type: frameError, Error: err.Error()})
	}

	return wsjson.Write(ctx, conn, replyFrame{Type: frameFinished, Content: response.Content})
}
