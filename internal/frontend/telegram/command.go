package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	commandPrefixSystem   = "~"
	commandPrefixOrdinary = "/"
)

const (
	commandHistory = "history"
	commandAppend  = "append"
	commandEdit    = "edit"
	commandDelete  = "delete"
	commandAgents  = "agents"
	commandUse     = "use"
	commandHelp    = "help"
)

// command is one parsed chat command.
type command struct {
	// Name is the lower-cased command name without prefix or mention.
	Name string
	// Mention is the optional "@bot" suffix of the header.
	Mention string
	// Args is the raw remainder after the header with inner spacing kept.
	Args string
}

// parseCommand splits text into a command when it starts with a command
// prefix. matched is false for plain prompts.
func parseCommand(text string) (parsed command, matched bool, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return command{}, false, nil
	}
	if !strings.HasPrefix(trimmed, commandPrefixSystem) && !strings.HasPrefix(trimmed, commandPrefixOrdinary) {
		return command{}, false, nil
	}

	header, rest := splitHeader(trimmed[1:])
	name, mention, _ := strings.Cut(header, "@")
	parsed = command{
		Name:    strings.ToLower(strings.TrimSpace(name)),
		Mention: strings.TrimSpace(mention),
		Args:    strings.TrimSpace(rest),
	}
	if parsed.Name == "" {
		return parsed, true, fmt.Errorf("parse command: missing command name")
	}

	return parsed, true, nil
}

// indexArgs splits "<index> <text>" arguments. text may be empty.
func indexArgs(args string) (index int, text string, err error) {
	head, rest := splitHeader(args)
	if head == "" {
		return 0, "", fmt.Errorf("missing message index")
	}
	index, err = strconv.Atoi(head)
	if err != nil {
		return 0, "", fmt.Errorf("invalid message index %q", head)
	}
	if index < 0 {
		return 0, "", fmt.Errorf("message index must be >= 0")
	}

	return index, strings.TrimSpace(rest), nil
}

func splitHeader(text string) (head string, rest string) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	separator := strings.IndexFunc(text, unicode.IsSpace)
	if separator < 0 {
		return text, ""
	}

	return text[:separator], text[separator:]
}
