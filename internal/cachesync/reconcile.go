package cachesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ex-scribe/pkg/scribe"
)

// ReconciliationListenerName identifies the reconciliation hook in the engine.
const ReconciliationListenerName = "cache_reconciliation"

// ReconciliationListener drains queued edits into authoritative transcripts
// right before the engine services a cache-sensitive request.
type ReconciliationListener struct {
	queue  *EditQueue
	logger *slog.Logger
}

// NewReconciliationListener creates the hook consuming queue.
func NewReconciliationListener(queue *EditQueue, logger *slog.Logger) (*ReconciliationListener, error) {
	if queue == nil {
		return nil, fmt.Errorf("new reconciliation listener: nil edit queue")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconciliationListener{queue: queue, logger: logger}, nil
}

// Name returns the stable listener identifier.
func (l *ReconciliationListener) Name() string {
	return ReconciliationListenerName
}

// Observe reports whether request reads or extends an authoritative transcript.
func (l *ReconciliationListener) Observe(request scribe.Request) bool {
	switch request.Kind {
	case scribe.RequestKindCompletion,
		scribe.RequestKindCompletionStream,
		scribe.RequestKindAgentState,
		scribe.RequestKindPushToCache:
		return true
	default:
		return false
	}
}

// Apply drains the queue and applies every pending edit in FIFO order.
//
// Edits for unknown agents or out-of-range indices are discarded and never
// retried. The request is returned unchanged.
func (l *ReconciliationListener) Apply(
	ctx context.Context,
	request scribe.Request,
	registry scribe.TranscriptRegistry,
) (scribe.Request, error) {
	if registry == nil {
		return request, fmt.Errorf("reconcile %s: nil transcript registry", request.Kind)
	}

	pending := l.queue.DrainAll()
	if len(pending) == 0 {
		return request, nil
	}

	applied := 0
	for _, item := range pending {
		err := registry.WithTranscript(item.AgentID, func(transcript *scribe.Transcript) error {
			return item.Edit.ApplyTo(transcript)
		})
		switch {
		case err == nil:
			applied++
		case errors.Is(err, scribe.ErrAgentNotFound), errors.Is(err, scribe.ErrIndexOutOfRange):
			l.logger.DebugContext(ctx, "reconciliation dropped edit",
				"agent", item.AgentID,
				"edit", item.Edit.String(),
				"error", err,
			)
		default:
			l.logger.WarnContext(ctx, "reconciliation failed edit",
				"agent", item.AgentID,
				"edit", item.Edit.String(),
				"error", err,
			)
		}
	}

	l.logger.DebugContext(ctx, "reconciliation applied",
		"ticket", request.Ticket.String(),
		"drained", len(pending),
		"applied", applied,
	)

	return request, nil
}

var _ scribe.RequestListener = (*ReconciliationListener)(nil)
