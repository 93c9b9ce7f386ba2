package cachesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"ex-scribe/pkg/scribe"

	"golang.org/x/sync/semaphore"
)

// storeCapacity is the semaphore weight held by a writer. Readers hold one
// unit each, so a writer excludes every reader and readers share.
const storeCapacity int64 = 1 << 16

// SnapshotStore maps agent ids to their last known full transcript.
//
// Entries are always independent copies. Every operation waits at most the
// configured lock timeout and reports ErrLockTimeout instead of blocking.
type SnapshotStore struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	entries     map[string]scribe.Transcript
}

// NewSnapshotStore creates an empty store with a bounded lock wait.
func NewSnapshotStore(lockTimeout time.Duration) *SnapshotStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	return &SnapshotStore{
		sem:         semaphore.NewWeighted(storeCapacity),
		lockTimeout: lockTimeout,
		entries:     make(map[string]scribe.Transcript),
	}
}

// Get returns a copy of the agent transcript. A missing agent yields false
// without error.
func (s *SnapshotStore) Get(ctx context.Context, agentID string) (scribe.Transcript, bool, error) {
	release, err := s.acquire(ctx, 1, "get "+agentID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	transcript, exists := s.entries[agentID]
	if !exists {
		return nil, false, nil
	}

	return transcript.Clone(), true, nil
}

// Set overwrites the agent entry with a copy of transcript, creating it when absent.
func (s *SnapshotStore) Set(ctx context.Context, agentID string, transcript scribe.Transcript) error {
	if agentID == "" {
		return fmt.Errorf("snapshot store set: empty agent id")
	}

	cloned := transcript.Clone()
	release, err := s.acquire(ctx, storeCapacity, "set "+agentID)
	if err != nil {
		return err
	}
	defer release()

	s.entries[agentID] = cloned

	return nil
}

// ApplyEditInPlace applies one edit to the stored transcript under a single
// critical section.
//
// Unknown agents report ErrAgentNotFound. Out-of-range indices report
// ErrIndexOutOfRange and leave the entry unchanged.
func (s *SnapshotStore) ApplyEditInPlace(ctx context.Context, agentID string, edit scribe.Edit) error {
	release, err := s.acquire(ctx, storeCapacity, "apply "+agentID)
	if err != nil {
		return err
	}
	defer release()

	transcript, exists := s.entries[agentID]
	if !exists {
		return fmt.Errorf("snapshot store apply %s to %s: %w", edit, agentID, scribe.ErrAgentNotFound)
	}
	if err := edit.ApplyTo(&transcript); err != nil {
		return fmt.Errorf("snapshot store apply to %s: %w", agentID, err)
	}
	s.entries[agentID] = transcript

	return nil
}

// Agents returns the sorted ids of every known agent.
func (s *SnapshotStore) Agents(ctx context.Context) ([]string, error) {
	release, err := s.acquire(ctx, 1, "agents")
	if err != nil {
		return nil, err
	}
	defer release()

	ids := make([]string, 0, len(s.entries))
	for agentID := range s.entries {
		ids = append(ids, agentID)
	}
	slices.Sort(ids)

	return ids, nil
}

// acquire waits up to the lock timeout for weight units and returns the release func.
func (s *SnapshotStore) acquire(ctx context.Context, weight int64, scope string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.sem.Acquire(waitCtx, weight); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("snapshot store %s: %w", scope, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("snapshot store %s after %s: %w", scope, s.lockTimeout, scribe.ErrLockTimeout)
		}
		return nil, fmt.Errorf("snapshot store %s: %w", scope, err)
	}

	return func() { s.sem.Release(weight) }, nil
}
