package scribe

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const promptSubscriptionBuffer = 256

// Dispatcher submits requests to the dispatch engine.
type Dispatcher interface {
	// Submit queues one request and returns its ticket.
	Submit(ctx context.Context, request Request) (uuid.UUID, error)
	// Await blocks until the request identified by ticket has been serviced.
	Await(ctx context.Context, ticket uuid.UUID) (Response, error)
	// Do submits request and waits for its response.
	Do(ctx context.Context, request Request) (Response, error)
	// Notifications exposes engine notifications.
	Notifications() NotificationBus
}

// TranscriptCache is the UI-side view of agent transcripts.
//
// Reads come from the snapshot; edits are applied optimistically and queued
// for reconciliation against the authoritative transcripts.
type TranscriptCache interface {
	SubmitAppend(ctx context.Context, agentID string, message Message) error
	SubmitModify(ctx context.Context, agentID string, index int, content string) error
	SubmitRemove(ctx context.Context, agentID string, index int) error
	// Locate reports whether index addresses a message of agentID in the snapshot.
	Locate(ctx context.Context, agentID string, index int) error
	ReadTranscript(ctx context.Context, agentID string) (Transcript, bool, error)
	Agents(ctx context.Context) ([]string, error)
}

// Frontend is one user-facing surface run next to the engine.
type Frontend interface {
	// Name returns the configured frontend instance name.
	Name() string
	// Run serves until ctx is canceled.
	Run(ctx context.Context) error
}

// TokenFunc receives one streamed completion delta.
type TokenFunc func(ctx context.Context, delta string) error

// StreamPrompt submits a streaming completion for agentID and relays every
// token to onToken in order. It returns once the reply is complete and every
// token has been relayed.
func StreamPrompt(
	ctx context.Context,
	dispatcher Dispatcher,
	agentID string,
	input string,
	onToken TokenFunc,
) (Response, error) {
	if dispatcher == nil {
		return Response{}, fmt.Errorf("stream prompt: nil dispatcher")
	}

	request := NewCompletionRequest(agentID, input, true)
	if err := request.Validate(); err != nil {
		return Response{}, fmt.Errorf("stream prompt: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)

	events := make(chan Notification, promptSubscriptionBuffer)
	subscription, err := dispatcher.Notifications().Subscribe(ctx, SubscriptionSpec{
		Name:         "prompt:" + request.Ticket.String(),
		Filter:       NotificationFilter{Ticket: request.Ticket},
		Buffer:       promptSubscriptionBuffer,
		Backpressure: BackpressureBlock,
	}, func(handlerCtx context.Context, notification Notification) error {
		select {
		case events <- notification:
			return nil
		case <-stop:
			return nil
		case <-handlerCtx.Done():
			return handlerCtx.Err()
		}
	})
	if err != nil {
		return Response{}, fmt.Errorf("stream prompt subscribe: %w", err)
	}
	defer func() {
		_ = subscription.Close(context.WithoutCancel(ctx))
	}()

	ticket, err := dispatcher.Submit(ctx, request)
	if err != nil {
		return Response{}, fmt.Errorf("stream prompt: %w", err)
	}

	type awaited struct {
		response Response
		err      error
	}
	done := make(chan awaited, 1)
	go func() {
		response, err := dispatcher.Await(ctx, ticket)
		done <- awaited{response: response, err: err}
	}()

	var result *awaited
	finished := false
	for !finished || result == nil {
		select {
		case <-ctx.Done():
			return Response{}, fmt.Errorf("stream prompt: %w", ctx.Err())
		case outcome := <-done:
			if outcome.err != nil {
				return Response{}, outcome.err
			}
			result = &outcome
		case notification := <-events:
			switch notification.Kind {
			case NotificationStreamToken:
				if onToken == nil {
					continue
				}
				if err := onToken(ctx, notification.Delta); err != nil {
					return Response{}, fmt.Errorf("stream prompt relay token: %w", err)
				}
			case NotificationStreamFinished:
				finished = true
			case NotificationStreamFailed:
				return Response{}, fmt.Errorf("stream prompt: %s", notification.Error)
			}
		}
	}

	return result.response, nil
}
