package cachesync

import (
	"context"
	"fmt"

	"ex-scribe/pkg/scribe"
)

// SnapshotListenerName identifies the snapshot hook in the engine.
const SnapshotListenerName = "cache_snapshot"

// SnapshotListener overwrites snapshot entries with authoritative transcripts.
//
// It is the second writer to the store and always wins over optimistic edits.
type SnapshotListener struct {
	store *SnapshotStore
}

// NewSnapshotListener creates the hook writing into store.
func NewSnapshotListener(store *SnapshotStore) (*SnapshotListener, error) {
	if store == nil {
		return nil, fmt.Errorf("new snapshot listener: nil snapshot store")
	}

	return &SnapshotListener{store: store}, nil
}

// Name returns the stable listener identifier.
func (l *SnapshotListener) Name() string {
	return SnapshotListenerName
}

// ObserveNotification reports whether notification carries a new authoritative transcript.
func (l *SnapshotListener) ObserveNotification(notification scribe.Notification) bool {
	return notification.Kind == scribe.NotificationTranscriptChanged
}

// HandleNotification replaces the agent entry in full.
func (l *SnapshotListener) HandleNotification(ctx context.Context, notification scribe.Notification) error {
	if err := l.store.Set(ctx, notification.AgentID, notification.Transcript); err != nil {
		return fmt.Errorf("snapshot %s: %w", notification.AgentID, err)
	}

	return nil
}

var _ scribe.NotificationListener = (*SnapshotListener)(nil)
