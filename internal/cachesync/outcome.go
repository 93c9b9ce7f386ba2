package cachesync

import (
	"context"
	"errors"

	"ex-scribe/pkg/scribe"
)

const (
	// OutcomeUpdated is reported for accepted edits.
	OutcomeUpdated = "Cache Updated!"
	// OutcomeNoMatch is reported when an edit or read targets nothing.
	OutcomeNoMatch = "no matching message"
	// OutcomeUnavailable is reported when a short-lived lock timed out.
	OutcomeUnavailable = "temporarily unavailable"
)

// Outcome maps a facade result to the text shown to users.
//
// Unknown agents and out-of-range indices are expected races and read as
// "no matching message"; other failures keep their error text.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeUpdated
	case errors.Is(err, scribe.ErrAgentNotFound), errors.Is(err, scribe.ErrIndexOutOfRange):
		return OutcomeNoMatch
	case errors.Is(err, scribe.ErrLockTimeout):
		return OutcomeUnavailable
	default:
		return "Error updating cache: " + err.Error()
	}
}

// Notice checks the snapshot target of an edit before the edit is submitted
// and returns OutcomeNoMatch when the agent, or the message at index, is not
// in the cached transcript. A negative index checks only the agent.
//
// The check never decides whether the edit is queued: the authoritative
// transcript may still hold the target. Other failures yield no notice.
func Notice(ctx context.Context, cache scribe.TranscriptCache, agentID string, index int) string {
	var err error
	if index < 0 {
		var found bool
		_, found, err = cache.ReadTranscript(ctx, agentID)
		if err == nil && !found {
			err = scribe.ErrAgentNotFound
		}
	} else {
		err = cache.Locate(ctx, agentID, index)
	}

	if errors.Is(err, scribe.ErrAgentNotFound) || errors.Is(err, scribe.ErrIndexOutOfRange) {
		return OutcomeNoMatch
	}

	return ""
}
