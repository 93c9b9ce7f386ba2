package cachesync

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ex-scribe/pkg/scribe"
)

// registryStub is an in-memory authoritative transcript registry.
type registryStub struct {
	mu          sync.Mutex
	transcripts map[string]scribe.Transcript
}

func newRegistryStub(entries map[string]scribe.Transcript) *registryStub {
	transcripts := make(map[string]scribe.Transcript, len(entries))
	for agentID, transcript := range entries {
		transcripts[agentID] = transcript.Clone()
	}

	return &registryStub{transcripts: transcripts}
}

func (r *registryStub) WithTranscript(agentID string, fn func(*scribe.Transcript) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	transcript, exists := r.transcripts[agentID]
	if !exists {
		return fmt.Errorf("registry stub %s: %w", agentID, scribe.ErrAgentNotFound)
	}
	if err := fn(&transcript); err != nil {
		return err
	}
	r.transcripts[agentID] = transcript

	return nil
}

func (r *registryStub) transcript(agentID string) scribe.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transcripts[agentID].Clone()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userMessage(content string) scribe.Message {
	return scribe.NewMessage(scribe.RoleUser, content)
}

func assistantMessage(content string) scribe.Message {
	return scribe.NewMessage(scribe.RoleAssistant, content)
}
