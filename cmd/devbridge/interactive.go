package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// historyLimit bounds the entries kept on screen.
const historyLimit = 12

type entry struct {
	err    error
	input  string
	output string
}

type interactiveModel struct {
	session *session
	device  string
	input   textinput.Model
	history []entry
	recall  []string
	stats   bridge.Stats
	recallI int
	busy    bool
}

type evalResultMsg struct {
	err    error
	input  string
	output string
	stats  bridge.Stats
}

func newInteractiveModel(s *session, cfg *config.Config) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "listProcesses()"
	ti.Prompt = promptStyle.Render("js> ")
	ti.Width = 72
	ti.Focus()

	return &interactiveModel{
		session: s,
		device:  cfg.DeviceConfig().Name,
		input:   ti,
		stats:   s.runner.Bridge().Stats(),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) eval(src string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.session.runner.Eval(context.Background(), src)
		return evalResultMsg{
			input:  src,
			output: out,
			err:    err,
			stats:  m.session.runner.Bridge().Stats(),
		}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.recall = append(m.recall, src)
			m.recallI = len(m.recall)
			m.input.SetValue("")
			return m, m.eval(src)

		case "up":
			if m.recallI > 0 {
				m.recallI--
				m.input.SetValue(m.recall[m.recallI])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.recallI < len(m.recall)-1 {
				m.recallI++
				m.input.SetValue(m.recall[m.recallI])
				m.input.CursorEnd()
			} else {
				m.recallI = len(m.recall)
				m.input.SetValue("")
			}
			return m, nil
		}

	case evalResultMsg:
		m.busy = false
		m.stats = msg.stats
		m.history = append(m.history, entry{input: msg.input, output: msg.output, err: msg.err})
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Device Bridge"))
	b.WriteString(" ")
	b.WriteString(m.device)
	b.WriteString("\n")
	b.WriteString(statStyle.Render(fmt.Sprintf("handles %d • buffers %d (%d bytes) • pending %d • operations %d",
		m.stats.Handles, m.stats.Buffers, m.stats.BufferBytes, m.stats.Pending, m.stats.Operations)))
	b.WriteString("\n\n")

	for _, e := range m.history {
		b.WriteString(promptStyle.Render("js> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", e.err)))
		} else {
			b.WriteString(resultStyle.Render(e.output))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter evaluate • ↑/↓ history • ctrl+c quit"))
	return b.String()
}

func runInteractive(s *session, cfg *config.Config) error {
	p := tea.NewProgram(newInteractiveModel(s, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
