package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"ex-scribe/pkg/scribe"

	"google.golang.org/genai"
)

// stream turns the push-style SDK iterator into pull-style Recv calls.
type stream struct {
	mu      sync.Mutex
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	done    bool
	pending []string
}

func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}
}

// Recv returns the next text part, buffering extra parts of one response.
func (s *stream) Recv(ctx context.Context) (scribe.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return scribe.LLMGenerateChunk{}, fmt.Errorf("gemini stream recv: %w", err)
		}
		if delta, ok := s.popPending(); ok {
			return scribe.LLMGenerateChunk{Delta: delta}, nil
		}

		response, err := s.pull(ctx)
		if err != nil {
			return scribe.LLMGenerateChunk{}, err
		}
		parts, err := textParts(response)
		if err != nil {
			return scribe.LLMGenerateChunk{}, err
		}

		s.mu.Lock()
		s.pending = append(s.pending, parts...)
		s.mu.Unlock()
	}
}

// Close stops the underlying iterator once.
func (s *stream) Close() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.next = nil
	s.done = true
	s.pending = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

func (s *stream) pull(ctx context.Context) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	next := s.next
	done := s.done
	s.mu.Unlock()
	if done || next == nil {
		return nil, io.EOF
	}

	response, err, ok := next()
	if !ok {
		s.markDone()
		return nil, io.EOF
	}
	if err != nil {
		s.markDone()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gemini stream next: %w", ctxErr)
		}
		return nil, fmt.Errorf("gemini stream next: %w", err)
	}

	return response, nil
}

func (s *stream) popPending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return "", false
	}
	delta := s.pending[0]
	s.pending = s.pending[1:]

	return delta, true
}

func (s *stream) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

// textParts returns the non-thought text parts of the first candidate.
func textParts(response *genai.GenerateContentResponse) ([]string, error) {
	if response == nil {
		return nil, fmt.Errorf("gemini stream parse response: nil response")
	}
	if len(response.Candidates) == 0 || response.Candidates[0] == nil || response.Candidates[0].Content == nil {
		return nil, nil
	}

	var parts []string
	for _, part := range response.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		parts = append(parts, part.Text)
	}

	return parts, nil
}

var _ scribe.LLMStream = (*stream)(nil)
