package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ex-scribe/pkg/scribe"
)

// service executes one request against the authoritative transcripts.
func (e *Engine) service(ctx context.Context, request scribe.Request) (scribe.Response, error) {
	response := scribe.Response{
		Ticket:  request.Ticket,
		Kind:    request.Kind,
		AgentID: request.AgentID,
	}

	switch request.Kind {
	case scribe.RequestKindAgentState:
		transcript, err := e.agents.Transcript(request.AgentID)
		if err != nil {
			return response, fmt.Errorf("get agent state: %w", err)
		}
		response.Transcript = transcript
		return response, nil
	case scribe.RequestKindPushToCache:
		if err := e.appendMessage(ctx, request.AgentID, request.Message); err != nil {
			return response, fmt.Errorf("push to cache: %w", err)
		}
		transcript, err := e.agents.Transcript(request.AgentID)
		if err != nil {
			return response, fmt.Errorf("push to cache: %w", err)
		}
		response.Transcript = transcript
		return response, nil
	case scribe.RequestKindCompletion, scribe.RequestKindCompletionStream:
		return e.complete(ctx, request, response)
	default:
		return response, fmt.Errorf("service request: %w: unsupported kind %q", scribe.ErrInvalidRequest, request.Kind)
	}
}

// appendMessage appends message to the agent transcript and announces the change.
func (e *Engine) appendMessage(ctx context.Context, agentID string, message scribe.Message) error {
	if err := e.agents.WithTranscript(agentID, func(transcript *scribe.Transcript) error {
		*transcript = append(*transcript, message)
		return nil
	}); err != nil {
		return err
	}
	e.emitTranscriptChanged(ctx, agentID)

	return nil
}

// complete appends the user turn, streams the provider reply, and appends it
// as an assistant turn.
func (e *Engine) complete(
	ctx context.Context,
	request scribe.Request,
	response scribe.Response,
) (scribe.Response, error) {
	spec, err := e.agents.Spec(request.AgentID)
	if err != nil {
		return response, fmt.Errorf("complete: %w", err)
	}
	if e.cfg.providers == nil {
		return response, fmt.Errorf("complete %s: no llm providers configured", request.AgentID)
	}
	provider, err := e.cfg.providers.Resolve(spec.Provider)
	if err != nil {
		return response, fmt.Errorf("complete %s: %w", request.AgentID, err)
	}

	if err := e.appendMessage(ctx, request.AgentID, scribe.NewMessage(scribe.RoleUser, request.Input)); err != nil {
		return response, fmt.Errorf("complete append user turn: %w", err)
	}
	history, err := e.agents.Transcript(request.AgentID)
	if err != nil {
		return response, fmt.Errorf("complete: %w", err)
	}

	timeout := spec.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startedAt := time.Now()
	reply, err := e.streamReply(streamCtx, provider, request, scribe.LLMGenerateRequest{
		Model:           spec.Model,
		Messages:        history,
		MaxOutputTokens: spec.MaxOutputTokens,
		Temperature:     spec.Temperature,
		Metadata:        spec.Metadata,
	})
	if err != nil {
		if request.Kind == scribe.RequestKindCompletionStream {
			e.emit(ctx, scribe.Notification{
				Kind:       scribe.NotificationStreamFailed,
				Ticket:     request.Ticket,
				AgentID:    request.AgentID,
				Error:      err.Error(),
				OccurredAt: time.Now().UTC(),
			})
		}
		return response, fmt.Errorf("complete %s: %w", request.AgentID, err)
	}

	if err := e.appendMessage(ctx, request.AgentID, scribe.NewMessage(scribe.RoleAssistant, reply)); err != nil {
		return response, fmt.Errorf("complete append assistant turn: %w", err)
	}
	if request.Kind == scribe.RequestKindCompletionStream {
		e.emit(ctx, scribe.Notification{
			Kind:       scribe.NotificationStreamFinished,
			Ticket:     request.Ticket,
			AgentID:    request.AgentID,
			Content:    reply,
			OccurredAt: time.Now().UTC(),
		})
	}

	transcript, err := e.agents.Transcript(request.AgentID)
	if err != nil {
		return response, fmt.Errorf("complete: %w", err)
	}
	response.Transcript = transcript
	response.Content = reply

	e.cfg.logger.InfoContext(ctx, "completion finished",
		"ticket", request.Ticket.String(),
		"agent", request.AgentID,
		"provider", spec.Provider,
		"model", spec.Model,
		"reply_runes", len([]rune(reply)),
		"duration", time.Since(startedAt),
	)

	return response, nil
}

// streamReply consumes one provider stream and returns the accumulated text.
// Stream requests publish every delta as a token notification.
func (e *Engine) streamReply(
	ctx context.Context,
	provider scribe.LLMProvider,
	request scribe.Request,
	generate scribe.LLMGenerateRequest,
) (reply string, err error) {
	if provider == nil {
		return "", fmt.Errorf("stream reply: nil provider")
	}
	if err := generate.Validate(); err != nil {
		return "", fmt.Errorf("stream reply validate request: %w", err)
	}

	stream, err := provider.GenerateStream(ctx, generate)
	if err != nil {
		return "", fmt.Errorf("stream reply generate stream: %w", err)
	}
	defer func() {
		closeErr := stream.Close()
		if closeErr == nil {
			return
		}

		wrapped := fmt.Errorf("stream reply close stream: %w", closeErr)
		if err == nil {
			err = wrapped
			return
		}
		err = errors.Join(err, wrapped)
	}()

	builder := strings.Builder{}
	chunks := 0
	for {
		chunk, recvErr := stream.Recv(ctx)
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}

			return "", fmt.Errorf("stream reply receive chunk: %w", recvErr)
		}
		if chunk.Delta == "" {
			continue
		}
		chunks++
		builder.WriteString(chunk.Delta)

		if request.Kind == scribe.RequestKindCompletionStream {
			e.emit(ctx, scribe.Notification{
				Kind:       scribe.NotificationStreamToken,
				Ticket:     request.Ticket,
				AgentID:    request.AgentID,
				Delta:      chunk.Delta,
				OccurredAt: time.Now().UTC(),
			})
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("stream reply canceled: %w", ctxErr)
		}
		return "", fmt.Errorf("stream reply: no output text received (chunks=%d)", chunks)
	}

	return text, nil
}
