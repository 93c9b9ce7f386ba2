package tui

import (
	"strconv"
	"strings"

	"ex-scribe/pkg/scribe"

	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	emptyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

func roleStyle(role scribe.Role) lipgloss.Style {
	switch role {
	case scribe.RoleUser:
		return userStyle
	case scribe.RoleAssistant:
		return assistantStyle
	default:
		return systemStyle
	}
}

func renderTranscript(transcript scribe.Transcript, pending string, partial string, streaming bool, width int) string {
	if len(transcript) == 0 && !streaming {
		return emptyStyle.Render("empty transcript")
	}

	body := lipgloss.NewStyle()
	if width > 0 {
		body = body.Width(width)
	}

	blocks := make([]string, 0, len(transcript)+2)
	for index, message := range transcript {
		blocks = append(blocks, renderMessage(index, message.Role, message.Content, body))
	}
	if streaming {
		blocks = append(blocks, renderMessage(len(transcript), scribe.RoleUser, pending, body))
		reply := partial
		if reply == "" {
			reply = "…"
		}
		blocks = append(blocks, renderMessage(len(transcript)+1, scribe.RoleAssistant, reply, body))
	}

	return strings.Join(blocks, "\n\n")
}

func renderMessage(index int, role scribe.Role, content string, body lipgloss.Style) string {
	header := roleStyle(role).Render("[" + strconv.Itoa(index) + "] " + string(role))
	return header + "\n" + body.Render(content)
}
