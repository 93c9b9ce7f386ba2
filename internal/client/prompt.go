package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame types sent by the server on the prompt socket.
const (
	FrameToken    = "token"
	FrameFinished = "finished"
	FrameError    = "error"
)

// Frame is one server message on the prompt socket.
type Frame struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type promptFrame struct {
	Input string `json:"input"`
}

// ErrPromptFailed wraps error frames reported by the server.
var ErrPromptFailed = errors.New("prompt failed")

// PromptConn is one open prompt socket for an agent.
//
// Prompts are served one at a time; Send must not be called again until the
// previous prompt has yielded a finished or error frame.
type PromptConn struct {
	conn *websocket.Conn
}

// OpenPrompt dials the prompt socket of agentID.
func (c *Client) OpenPrompt(ctx context.Context, agentID string) (*PromptConn, error) {
	endpoint := c.path("agents", agentID, "prompt")
	socketURL := *endpoint
	switch socketURL.Scheme {
	case "https":
		socketURL.Scheme = "wss"
	default:
		socketURL.Scheme = "ws"
	}

	conn, response, err := websocket.Dial(ctx, socketURL.String(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		if response != nil && response.StatusCode >= 300 {
			return nil, fmt.Errorf("open prompt %s: %w", agentID, decodeAPIError(response))
		}
		return nil, fmt.Errorf("open prompt %s: %w", agentID, err)
	}

	return &PromptConn{conn: conn}, nil
}

// Send submits one prompt input.
func (p *PromptConn) Send(ctx context.Context, input string) error {
	if err := wsjson.Write(ctx, p.conn, promptFrame{Input: input}); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	return nil
}

// Next reads the next frame of the current prompt.
func (p *PromptConn) Next(ctx context.Context) (Frame, error) {
	var frame Frame
	if err := wsjson.Read(ctx, p.conn, &frame); err != nil {
		return Frame{}, fmt.Errorf("read prompt frame: %w", err)
	}

	return frame, nil
}

// Close closes the socket with a normal closure.
func (p *PromptConn) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "")
}

// Prompt sends input to agentID, relays every token delta to onToken and
// returns the full reply.
func (c *Client) Prompt(ctx context.Context, agentID string, input string, onToken func(string)) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("prompt %s: empty input", agentID)
	}

	conn, err := c.OpenPrompt(ctx, agentID)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.Send(ctx, input); err != nil {
		return "", fmt.Errorf("prompt %s: %w", agentID, err)
	}

	for {
		frame, err := conn.Next(ctx)
		if err != nil {
			return "", fmt.Errorf("prompt %s: %w", agentID, err)
		}

		switch frame.Type {
		case FrameToken:
			if onToken != nil {
				onToken(frame.Delta)
			}
		case FrameFinished:
			return frame.Content, nil
		case FrameError:
			return "", fmt.Errorf("prompt %s: %w: %s", agentID, ErrPromptFailed, frame.Error)
		default:
			return "", fmt.Errorf("prompt %s: unexpected frame type %q", agentID, frame.Type)
		}
	}
}
