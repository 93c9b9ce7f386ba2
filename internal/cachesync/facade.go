package cachesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ex-scribe/pkg/scribe"
)

// Facade is the only entry point the UI layer uses to read and edit transcripts.
type Facade struct {
	store  *SnapshotStore
	queue  *EditQueue
	logger *slog.Logger
}

// NewFacade wires one facade over a shared store and queue.
func NewFacade(store *SnapshotStore, queue *EditQueue, logger *slog.Logger) (*Facade, error) {
	if store == nil {
		return nil, fmt.Errorf("new cache facade: nil snapshot store")
	}
	if queue == nil {
		return nil, fmt.Errorf("new cache facade: nil edit queue")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Facade{store: store, queue: queue, logger: logger}, nil
}

// SubmitAppend appends message to the agent transcript.
func (f *Facade) SubmitAppend(ctx context.Context, agentID string, message scribe.Message) error {
	return f.submit(ctx, agentID, scribe.AppendEdit(message))
}

// SubmitModify replaces the content of the message at index.
func (f *Facade) SubmitModify(ctx context.Context, agentID string, index int, content string) error {
	return f.submit(ctx, agentID, scribe.ModifyEdit(index, content))
}

// SubmitRemove deletes the message at index.
func (f *Facade) SubmitRemove(ctx context.Context, agentID string, index int) error {
	return f.submit(ctx, agentID, scribe.RemoveEdit(index))
}

// ReadTranscript returns the snapshot copy for agentID. It never touches the
// edit queue or the engine.
func (f *Facade) ReadTranscript(ctx context.Context, agentID string) (scribe.Transcript, bool, error) {
	transcript, found, err := f.store.Get(ctx, agentID)
	if err != nil {
		return nil, false, fmt.Errorf("read transcript %s: %w", agentID, err)
	}

	return transcript, found, nil
}

// Locate reports ErrAgentNotFound or ErrIndexOutOfRange when index does not
// address a message of agentID in the current snapshot.
func (f *Facade) Locate(ctx context.Context, agentID string, index int) error {
	transcript, found, err := f.ReadTranscript(ctx, agentID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("locate %s: %w", agentID, scribe.ErrAgentNotFound)
	}
	if index < 0 || index >= len(transcript) {
		return fmt.Errorf("locate %s[%d]: %w", agentID, index, scribe.ErrIndexOutOfRange)
	}

	return nil
}

// Agents lists every agent currently present in the snapshot.
func (f *Facade) Agents(ctx context.Context) ([]string, error) {
	agents, err := f.store.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	return agents, nil
}

// submit applies edit optimistically and then queues it for reconciliation.
//
// The optimistic result never decides whether the edit is queued. Only an
// edit that fails Validate, which no transcript could accept, or a failed
// push is reported to the caller.
func (f *Facade) submit(ctx context.Context, agentID string, edit scribe.Edit) error {
	pending := scribe.PendingEdit{AgentID: agentID, Edit: edit}
	if err := pending.Validate(); err != nil {
		return fmt.Errorf("submit %s: %w", edit, err)
	}

	if err := f.store.ApplyEditInPlace(ctx, agentID, edit); err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, scribe.ErrIndexOutOfRange) && !errors.Is(err, scribe.ErrAgentNotFound) {
			level = slog.LevelWarn
		}
		f.logger.Log(ctx, level, "optimistic edit skipped",
			"agent", agentID,
			"edit", edit.String(),
			"error", err,
		)
	}

	if err := f.queue.Push(pending); err != nil {
		return fmt.Errorf("submit %s for %s: %w", edit, agentID, err)
	}

	return nil
}

var _ scribe.TranscriptCache = (*Facade)(nil)
