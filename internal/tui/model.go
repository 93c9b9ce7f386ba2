// Package tui is an interactive terminal view of one agent transcript.
package tui

import (
	"context"
	"fmt"
	"strings"

	"ex-scribe/pkg/scribe"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	inputHeight  = 1
	statusHeight = 1
	streamBuffer = 64
)

// Backend is the server surface the view needs.
type Backend interface {
	History(ctx context.Context, agentID string) (scribe.Transcript, error)
	Prompt(ctx context.Context, agentID string, input string, onToken func(string)) (string, error)
}

type historyMsg struct {
	transcript scribe.Transcript
	err        error
}

type tokenMsg struct {
	delta  string
	stream <-chan tea.Msg
}

type finishedMsg struct {
	content string
	err     error
}

// Model is the bubbletea model of the transcript view.
type Model struct {
	ctx     context.Context
	backend Backend
	agentID string

	viewport viewport.Model
	input    textinput.Model

	transcript scribe.Transcript
	pending    string
	partial    string
	streaming  bool
	status     string
	err        error
}

// New creates a model for agentID. ctx bounds every backend call.
func New(ctx context.Context, backend Backend, agentID string) *Model {
	input := textinput.New()
	input.Placeholder = "message " + agentID
	input.Prompt = "> "
	input.Focus()

	return &Model{
		ctx:      ctx,
		backend:  backend,
		agentID:  agentID,
		viewport: viewport.New(80, 20),
		input:    input,
		status:   "loading history",
	}
}

// Init loads the transcript.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadHistory())
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-inputHeight-statusHeight, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "history failed"
		} else {
			m.err = nil
			m.transcript = msg.transcript
			m.status = fmt.Sprintf("%d messages", len(msg.transcript))
		}
		m.refresh()
		return m, nil

	case tokenMsg:
		m.partial += msg.delta
		m.refresh()
		return m, waitForStream(msg.stream)

	case finishedMsg:
		m.streaming = false
		m.pending = ""
		m.partial = ""
		if msg.err != nil {
			m.err = msg.err
			m.status = "prompt failed"
			m.refresh()
			return m, nil
		}
		m.err = nil
		m.status = "refreshing history"
		m.refresh()
		return m, m.loadHistory()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the transcript, status line and input.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	status := statusStyle.Render(fmt.Sprintf("%s · %s", m.agentID, m.status))
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("%s · %v", m.agentID, m.err))
	}
	b.WriteString(status)
	b.WriteString("\n")
	b.WriteString(m.input.View())

	return b.String()
}

func (m *Model) submit() tea.Cmd {
	if m.streaming {
		return nil
	}
	input := strings.TrimSpace(m.input.Value())
	if input == "" {
		return nil
	}

	m.input.Reset()
	m.streaming = true
	m.pending = input
	m.partial = ""
	m.status = "streaming"
	m.refresh()

	return startPrompt(m.ctx, m.backend, m.agentID, input)
}

func (m *Model) loadHistory() tea.Cmd {
	ctx, backend, agentID := m.ctx, m.backend, m.agentID
	return func() tea.Msg {
		transcript, err := backend.History(ctx, agentID)
		return historyMsg{transcript: transcript, err: err}
	}
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.transcript, m.pending, m.partial, m.streaming, m.viewport.Width))
	if atBottom || m.streaming {
		m.viewport.GotoBottom()
	}
}

// startPrompt runs the prompt in the background and feeds its tokens back
// through a channel, one message per Cmd.
func startPrompt(ctx context.Context, backend Backend, agentID string, input string) tea.Cmd {
	stream := make(chan tea.Msg, streamBuffer)
	go func() {
		content, err := backend.Prompt(ctx, agentID, input, func(delta string) {
			select {
			case stream <- tokenMsg{delta: delta, stream: stream}:
			case <-ctx.Done():
			}
		})
		select {
		case stream <- finishedMsg{content: content, err: err}:
		case <-ctx.Done():
		}
		close(stream)
	}()

	return waitForStream(stream)
}

func waitForStream(stream <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-stream
		if !ok {
			return nil
		}
		return msg
	}
}

// Run starts the full-screen program and blocks until the user quits or ctx
// is canceled.
func Run(ctx context.Context, backend Backend, agentID string) error {
	program := tea.NewProgram(New(ctx, backend, agentID), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}

	return nil
}
