package cachesync

import (
	"fmt"
)

// Cache owns one edit queue and one snapshot store and hands out the
// components that share them.
type Cache struct {
	store      *SnapshotStore
	queue      *EditQueue
	facade     *Facade
	reconciler *ReconciliationListener
	snapshots  *SnapshotListener
}

// New constructs the subsystem. It is built once per process and passed to
// the engine and the frontends.
func New(options ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	store := NewSnapshotStore(cfg.lockTimeout)
	queue := NewEditQueue(cfg.queueCapacity)
	logger := cfg.logger.With("component", "cachesync")

	facade, err := NewFacade(store, queue, logger)
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}
	reconciler, err := NewReconciliationListener(queue, logger)
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}
	snapshots, err := NewSnapshotListener(store)
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}

	return &Cache{
		store:      store,
		queue:      queue,
		facade:     facade,
		reconciler: reconciler,
		snapshots:  snapshots,
	}, nil
}

// Facade returns the UI entry point.
func (c *Cache) Facade() *Facade {
	return c.facade
}

// Reconciler returns the hook the engine runs before cache-sensitive requests.
func (c *Cache) Reconciler() *ReconciliationListener {
	return c.reconciler
}

// SnapshotListener returns the hook the engine runs on transcript changes.
func (c *Cache) SnapshotListener() *SnapshotListener {
	return c.snapshots
}

// PendingEdits reports how many edits await reconciliation.
func (c *Cache) PendingEdits() int {
	return c.queue.Len()
}
