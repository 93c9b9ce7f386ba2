package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"ex-scribe/pkg/scribe"

	"github.com/openai/openai-go/v3/responses"
)

const (
	eventOutputTextDelta = "response.output_text.delta"
	eventCompleted       = "response.completed"
	eventFailed          = "response.failed"
	eventError           = "error"
)

// responseStream is the subset of the SDK server-sent event stream we consume.
type responseStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

// stream adapts one Responses event stream to text deltas.
type stream struct {
	mu   sync.Mutex
	sse  responseStream
	done bool
}

func newStream(sse responseStream) *stream {
	return &stream{sse: sse}
}

// Recv returns the next non-empty output text delta.
func (s *stream) Recv(ctx context.Context) (scribe.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return scribe.LLMGenerateChunk{}, fmt.Errorf("openai stream recv: %w", err)
		}

		event, err := s.next(ctx)
		if err != nil {
			return scribe.LLMGenerateChunk{}, err
		}

		delta, finished, err := textDelta(event)
		switch {
		case err != nil:
			return scribe.LLMGenerateChunk{}, err
		case finished:
			s.finish()
			return scribe.LLMGenerateChunk{}, io.EOF
		case delta != "":
			return scribe.LLMGenerateChunk{Delta: delta}, nil
		}
	}
}

// Close releases the underlying event stream once.
func (s *stream) Close() error {
	s.mu.Lock()
	sse := s.sse
	s.sse = nil
	s.done = true
	s.mu.Unlock()

	if sse == nil {
		return nil
	}
	if err := sse.Close(); err != nil {
		return fmt.Errorf("openai stream close: %w", err)
	}

	return nil
}

func (s *stream) next(ctx context.Context) (responses.ResponseStreamEventUnion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.sse == nil {
		return responses.ResponseStreamEventUnion{}, io.EOF
	}
	if s.sse.Next() {
		return s.sse.Current(), nil
	}

	s.done = true
	err := s.sse.Err()
	switch {
	case err == nil:
		return responses.ResponseStreamEventUnion{}, io.EOF
	case ctx.Err() != nil:
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream next: %w", ctx.Err())
	default:
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream next: %w", err)
	}
}

func (s *stream) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

// textDelta extracts output text from event, reporting whether the response
// completed. Events that carry no output text yield an empty delta.
func textDelta(event responses.ResponseStreamEventUnion) (string, bool, error) {
	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case "":
		return "", false, errors.New("openai stream parse event: missing type")
	case eventOutputTextDelta:
		if !event.JSON.Delta.Valid() {
			return "", false, fmt.Errorf("openai stream parse event %s: missing delta", eventType)
		}
		return event.Delta, false, nil
	case eventCompleted:
		return "", true, nil
	case eventFailed:
		status := strings.TrimSpace(string(event.Response.Status))
		if status == "" {
			status = "unknown"
		}
		return "", false, fmt.Errorf("openai stream response failed: status=%s", status)
	case eventError:
		message := strings.TrimSpace(event.Message)
		if message == "" {
			message = "unknown error"
		}
		if code := strings.TrimSpace(event.Code); code != "" {
			return "", false, fmt.Errorf("openai stream error %s: %s", code, message)
		}
		return "", false, fmt.Errorf("openai stream error: %s", message)
	default:
		return "", false, nil
	}
}

var _ scribe.LLMStream = (*stream)(nil)
