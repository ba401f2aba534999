package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/antonkrylov/livecon/internal/console"
)

const helpText = "view <path> <title> | exec <path> <title> | scope <config|temp> | env <name> | Enter send | Ctrl+L clear input | Esc quit"

type updateMsg struct {
	u console.Update
}

type sessionDoneMsg struct {
	err error
}

type theme struct {
	header   lipgloss.Style
	open     lipgloss.Style
	waiting  lipgloss.Style
	errorMsg lipgloss.Style
	muted    lipgloss.Style
	input    lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		open:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		waiting:  lipgloss.NewStyle().Foreground(muted).Bold(true),
		errorMsg: lipgloss.NewStyle().Foreground(pink),
		muted:    lipgloss.NewStyle().Foreground(muted),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
	}
}

type model struct {
	cancel  context.CancelFunc
	ctrl    *console.Controller
	updates <-chan console.Update
	done    <-chan error

	server string
	lines  console.LineContext

	viewport viewport.Model
	input    textarea.Model
	theme    theme

	state   console.State
	notice  string
	failure string
	sent    int
	ended   bool
}

func newModel(cancel context.CancelFunc, ctrl *console.Controller, updates <-chan console.Update, done <-chan error, server string, lines console.LineContext) model {
	ta := textarea.New()
	ta.Placeholder = "view <path> <title>  (Enter to send)"
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.SetHeight(1)
	ta.SetWidth(80)

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return model{
		cancel:   cancel,
		ctrl:     ctrl,
		updates:  updates,
		done:     done,
		server:   server,
		lines:    lines,
		viewport: vp,
		input:    ta,
		theme:    newTheme(),
		state:    console.StateConnecting,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitUpdate(m.updates), waitDone(m.done), textarea.Blink)
}

func waitUpdate(ch <-chan console.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return updateMsg{u: u}
	}
}

func waitDone(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return sessionDoneMsg{err: <-ch}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = t.Width
		m.input.SetWidth(max(10, t.Width-4))
		// header, status line and the bordered input
		m.viewport.Height = max(1, t.Height-2-m.input.Height()-2)
		return m, nil
	case tea.KeyMsg:
		switch t.String() {
		case "ctrl+c", "esc":
			m.cancel()
			return m, tea.Quit
		case "ctrl+l":
			m.input.SetValue("")
			return m, nil
		case "enter", "ctrl+s":
			m.submit(m.input.Value())
			m.input.SetValue("")
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	case updateMsg:
		m.apply(t.u)
		return m, waitUpdate(m.updates)
	case sessionDoneMsg:
		m.ended = true
		m.state = console.StateDisconnected
		if t.err != nil {
			m.failure = t.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit(line string) {
	line = strings.TrimSpace(strings.ReplaceAll(line, "\n", " "))
	if line == "" {
		return
	}
	if line == "help" {
		m.notice = helpText
		return
	}
	req, err := m.lines.Parse(line)
	if err != nil {
		m.failure = err.Error()
		return
	}
	m.failure = ""
	if req == nil {
		m.notice = fmt.Sprintf("scope=%s env=%s", orDash(m.lines.Scope), orDash(m.lines.Environment))
		return
	}
	if err := m.ctrl.Request(*req); err != nil {
		m.failure = err.Error()
		return
	}
	m.sent++
	m.notice = fmt.Sprintf("%s %s %q", req.Command, req.Payload.Path, req.Payload.Title)
}

func (m *model) apply(u console.Update) {
	m.state = u.State
	if u.Err != nil {
		m.failure = u.Err.Error()
	} else if u.State == console.StateOpen && u.Command == nil {
		m.failure = ""
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(u.Content)
	if atBottom || u.Command == nil {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	header := m.theme.header.Render("livecon") + " " + m.theme.muted.Render(m.server)
	return header + "\n" +
		m.viewport.View() + "\n" +
		m.statusLine() + "\n" +
		m.theme.input.Render(m.input.View())
}

func (m model) statusLine() string {
	style := m.theme.waiting
	if m.state == console.StateOpen {
		style = m.theme.open
	}
	parts := []string{
		style.Render(m.state.String()),
		m.theme.muted.Render(fmt.Sprintf("scope=%s env=%s sent=%d", orDash(m.lines.Scope), orDash(m.lines.Environment), m.sent)),
	}
	if m.ended {
		parts = append(parts, m.theme.muted.Render("session ended"))
	}
	if m.failure != "" {
		parts = append(parts, m.theme.errorMsg.Render(m.failure))
	} else if m.notice != "" {
		parts = append(parts, m.theme.muted.Render(m.notice))
	}
	return strings.Join(parts, "  ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
