// Package printer writes colored CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"ex-scribe/pkg/scribe"

	"github.com/fatih/color"
)

func init() {
	// NO_COLOR still disables output coloring.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
)

// Success prints a status line in green with a checkmark prefix.
func Success(w io.Writer, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprintln(w, msg)
}

// Warning prints a warning line in yellow.
func Warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! %s\n", fmt.Sprintf(format, a...))
}

// Error prints a title and optional hints in red and returns a plain error
// for cobra, which is configured not to print it again.
func Error(w io.Writer, title string, err error, hints ...string) error {
	red.Fprintln(w, title)
	if err != nil {
		fmt.Fprintf(w, "%v\n", err)
	}
	for _, hint := range hints {
		fmt.Fprintf(w, "  %s\n", hint)
	}

	return fmt.Errorf("%s", title)
}

// Agents prints one agent id per line, marking current with an asterisk.
func Agents(w io.Writer, agents []string, current string) {
	if len(agents) == 0 {
		faint.Fprintln(w, "no agents")
		return
	}
	for _, agent := range agents {
		if agent == current {
			cyan.Fprintf(w, "* %s\n", agent)
			continue
		}
		fmt.Fprintf(w, "  %s\n", agent)
	}
}

// Transcript prints indexed messages with role-colored headers.
func Transcript(w io.Writer, agentID string, transcript scribe.Transcript) {
	if len(transcript) == 0 {
		faint.Fprintf(w, "%s: empty transcript\n", agentID)
		return
	}
	for index, message := range transcript {
		RoleColor(message.Role).Fprintf(w, "[%d] %s:", index, message.Role)
		fmt.Fprintf(w, " %s\n", message.Content)
	}
}

// RoleColor returns the color used for role headers.
func RoleColor(role scribe.Role) *color.Color {
	switch role {
	case scribe.RoleUser:
		return cyan
	case scribe.RoleAssistant:
		return green
	default:
		return faint
	}
}
