package cachesync

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"ex-scribe/pkg/scribe"
)

func TestEditQueueDrainAllReturnsFIFO(t *testing.T) {
	t.Parallel()

	queue := NewEditQueue(0)
	for index := 0; index < 5; index++ {
		if err := queue.Push(scribe.PendingEdit{AgentID: "a1", Edit: scribe.RemoveEdit(index)}); err != nil {
			t.Fatalf("push %d failed: %v", index, err)
		}
	}

	drained := queue.DrainAll()
	if len(drained) != 5 {
		t.Fatalf("drained = %d, want 5", len(drained))
	}
	for index, pending := range drained {
		if pending.Edit.Index() != index {
			t.Fatalf("drained[%d] index = %d, want %d", index, pending.Edit.Index(), index)
		}
	}
	if queue.Len() != 0 {
		t.Fatalf("queue len after drain = %d, want 0", queue.Len())
	}
	if again := queue.DrainAll(); len(again) != 0 {
		t.Fatalf("second drain = %d, want 0", len(again))
	}
}

func TestEditQueuePushFailsWhenFull(t *testing.T) {
	t.Parallel()

	queue := NewEditQueue(2)
	for index := 0; index < 2; index++ {
		if err := queue.Push(scribe.PendingEdit{AgentID: "a1", Edit: scribe.RemoveEdit(index)}); err != nil {
			t.Fatalf("push %d failed: %v", index, err)
		}
	}

	err := queue.Push(scribe.PendingEdit{AgentID: "a1", Edit: scribe.RemoveEdit(2)})
	if !errors.Is(err, scribe.ErrQueuePush) {
		t.Fatalf("push error = %v, want ErrQueuePush", err)
	}

	drained := queue.DrainAll()
	if len(drained) != 2 || drained[0].Edit.Index() != 0 || drained[1].Edit.Index() != 1 {
		t.Fatalf("drained = %+v, want first two edits intact", drained)
	}
}

func TestEditQueueRejectsInvalidEdit(t *testing.T) {
	t.Parallel()

	queue := NewEditQueue(0)
	err := queue.Push(scribe.PendingEdit{AgentID: "", Edit: scribe.RemoveEdit(0)})
	if !errors.Is(err, scribe.ErrInvalidEdit) {
		t.Fatalf("push error = %v, want ErrInvalidEdit", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", queue.Len())
	}
}

func TestEditQueueConcurrentPushAndDrainLosesNothing(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		perWorker = 200
	)

	queue := NewEditQueue(0)
	var producerWG sync.WaitGroup
	for producer := 0; producer < producers; producer++ {
		producerWG.Add(1)
		go func(producer int) {
			defer producerWG.Done()
			agentID := fmt.Sprintf("agent-%d", producer)
			for index := 0; index < perWorker; index++ {
				if err := queue.Push(scribe.PendingEdit{AgentID: agentID, Edit: scribe.RemoveEdit(index)}); err != nil {
					t.Errorf("push failed: %v", err)
					return
				}
			}
		}(producer)
	}

	stop := make(chan struct{})
	drainDone := make(chan struct{})
	var collected []scribe.PendingEdit
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-stop:
				return
			default:
				collected = append(collected, queue.DrainAll()...)
			}
		}
	}()

	producerWG.Wait()
	close(stop)
	<-drainDone
	collected = append(collected, queue.DrainAll()...)

	next := make(map[string]int, producers)
	total := 0
	for _, pending := range collected {
		if pending.Edit.Index() != next[pending.AgentID] {
			t.Fatalf("agent %s index = %d, want %d", pending.AgentID, pending.Edit.Index(), next[pending.AgentID])
		}
		next[pending.AgentID]++
		total++
	}
	if total != producers*perWorker {
		t.Fatalf("total drained = %d, want %d", total, producers*perWorker)
	}
}
