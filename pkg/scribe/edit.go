package scribe

import (
	"fmt"
	"slices"
	"strings"
)

// EditKind identifies one transcript mutation variant.
type EditKind string

const (
	// EditKindAppend appends one message to the transcript tail.
	EditKindAppend EditKind = "append"
	// EditKindModify replaces the content of the message at one index.
	EditKindModify EditKind = "modify"
	// EditKindRemove deletes the message at one index.
	EditKindRemove EditKind = "remove"
)

// Edit is an immutable description of one transcript mutation.
//
// Indices are resolved against the transcript at application time, so a
// sequence of edits only keeps its meaning when applied in submission order.
type Edit struct {
	kind    EditKind
	message Message
	index   int
	content string
}

// AppendEdit describes appending message to the transcript tail.
func AppendEdit(message Message) Edit {
	return Edit{kind: EditKindAppend, message: message}
}

// ModifyEdit describes replacing the content at index, keeping the existing role.
func ModifyEdit(index int, content string) Edit {
	return Edit{kind: EditKindModify, index: index, content: content}
}

// RemoveEdit describes deleting the message at index.
func RemoveEdit(index int) Edit {
	return Edit{kind: EditKindRemove, index: index}
}

// Kind returns the edit variant.
func (e Edit) Kind() EditKind {
	return e.kind
}

// Message returns the appended message for append edits.
func (e Edit) Message() Message {
	return e.message
}

// Index returns the target position for modify and remove edits.
func (e Edit) Index() int {
	return e.index
}

// Content returns the replacement content for modify edits.
func (e Edit) Content() string {
	return e.content
}

// Validate checks variant invariants that do not depend on transcript state.
func (e Edit) Validate() error {
	switch e.kind {
	case EditKindAppend:
		if err := e.message.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEdit, err)
		}
	case EditKindModify:
		if strings.TrimSpace(e.content) == "" {
			return fmt.Errorf("%w: modify missing content", ErrInvalidEdit)
		}
	case EditKindRemove:
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEdit, e.kind)
	}

	return nil
}

// ApplyTo mutates transcript in place.
//
// Out-of-range modify and remove edits leave the transcript untouched and
// report ErrIndexOutOfRange.
func (e Edit) ApplyTo(transcript *Transcript) error {
	if transcript == nil {
		return fmt.Errorf("apply %s edit: nil transcript", e.kind)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("apply %s edit: %w", e.kind, err)
	}

	switch e.kind {
	case EditKindAppend:
		*transcript = append(*transcript, e.message)
	case EditKindModify:
		if !e.inRange(*transcript) {
			return fmt.Errorf("apply modify edit at %d of %d: %w", e.index, len(*transcript), ErrIndexOutOfRange)
		}
		(*transcript)[e.index] = Message{Role: (*transcript)[e.index].Role, Content: e.content}
	case EditKindRemove:
		if !e.inRange(*transcript) {
			return fmt.Errorf("apply remove edit at %d of %d: %w", e.index, len(*transcript), ErrIndexOutOfRange)
		}
		*transcript = slices.Delete(*transcript, e.index, e.index+1)
	}

	return nil
}

func (e Edit) inRange(transcript Transcript) bool {
	return e.index >= 0 && e.index < len(transcript)
}

// String renders a short description for logs.
func (e Edit) String() string {
	switch e.kind {
	case EditKindAppend:
		return fmt.Sprintf("append(%s)", e.message.Role)
	case EditKindModify:
		return fmt.Sprintf("modify(%d)", e.index)
	case EditKindRemove:
		return fmt.Sprintf("remove(%d)", e.index)
	default:
		return fmt.Sprintf("edit(%s)", e.kind)
	}
}

// PendingEdit is one queued edit tagged with its target agent.
type PendingEdit struct {
	// AgentID identifies the transcript the edit targets.
	AgentID string
	// Edit is the owned mutation.
	Edit Edit
}

// Validate checks one pending edit contract.
func (p PendingEdit) Validate() error {
	if strings.TrimSpace(p.AgentID) == "" {
		return fmt.Errorf("validate pending edit: %w: missing agent id", ErrInvalidEdit)
	}
	if err := p.Edit.Validate(); err != nil {
		return fmt.Errorf("validate pending edit: %w", err)
	}

	return nil
}
