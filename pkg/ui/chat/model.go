package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const mouseWheelLines = 3

type role int

const (
	roleUser role = iota
	roleAssistant
	roleFallback
	roleError
)

type chatMessage struct {
	role    role
	content string
}

type turnResultMsg struct {
	turn Turn
	err  error
}

type model struct {
	ctx  context.Context
	send SendFunc
	info Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	progress  Progress
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool
}

func newModel(ctx context.Context, send SendFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(colorAmber)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type a reply as if texting..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		send:      send,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.submit()
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case turnResultMsg:
		m.applyResult(typed)
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit() tea.Cmd {
	if m.isLoading {
		return nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
	m.input.SetValue("")
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return tea.Batch(m.spinner.Tick, sendTurnCmd(m.ctx, m.send, text))
}

func (m *model) applyResult(result turnResultMsg) {
	m.isLoading = false
	if result.err != nil {
		m.lastErr = result.err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: result.err.Error()})
		m.refreshViewport(false)
		return
	}

	m.lastErr = ""
	r := roleAssistant
	if result.turn.Fallback {
		r = roleFallback
	}
	m.messages = append(m.messages, chatMessage{role: r, content: result.turn.Reply})
	m.progress = result.turn.Progress
	m.refreshViewport(false)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("📱 SMS Form Session")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"phone:%s · provider:%s · model:%s · texts:%d",
		displayOrNA(m.info.Phone),
		displayOrNA(m.info.Provider),
		displayOrNA(m.info.Model),
		countRole(m.messages, roleUser),
	))
	progress := m.renderProgress()
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
	switch {
	case m.isLoading:
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s waiting for reply...", m.spinner.View()))
	case m.lastErr != "":
		status = m.theme.statusErr.Render("🚨 last message failed - try again")
	case m.progress.Complete:
		status = m.theme.statusDone.Render("✅ form complete")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		progress,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("📱 You")+" "+m.theme.hint.Render("(type exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) renderProgress() string {
	total := m.progress.Total
	if total <= 0 {
		return m.theme.hint.Render("form not started")
	}

	done := min(m.progress.Collected, total)
	bar := m.theme.progressDone.Render(strings.Repeat("■", done)) +
		m.theme.progressTodo.Render(strings.Repeat("□", total-done))

	label := fmt.Sprintf(" %d/%d fields", done, total)
	if m.progress.Pending != "" && !m.progress.Complete {
		label += " · asking for " + m.progress.Pending
	}
	return bar + m.theme.hint.Render(label)
}

func (m *model) resizeComponents() {
	w := max(40, m.width-6)
	h := max(6, m.height-11)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		body := strings.TrimSpace(item.content)
		switch item.role {
		case roleUser:
			sections = append(sections, renderCard(
				m.theme.userTitle.Render("You"),
				m.theme.userBox.Width(m.viewport.Width).Render(body),
			))
		case roleAssistant:
			sections = append(sections, renderCard(
				m.theme.assistantTitle.Render("Assistant"),
				m.theme.assistantBox.Width(m.viewport.Width).Render(body),
			))
		case roleFallback:
			sections = append(sections, renderCard(
				m.theme.fallbackTitle.Render("Assistant (fallback)"),
				m.theme.assistantBox.Width(m.viewport.Width).Render(body),
			))
		case roleError:
			sections = append(sections, renderCard(
				m.theme.errorTitle.Render("Error"),
				m.theme.errorBox.Width(m.viewport.Width).Render(body),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseWheelLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseWheelLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func sendTurnCmd(ctx context.Context, send SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		turn, err := send(ctx, text)
		return turnResultMsg{turn: turn, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func countRole(messages []chatMessage, r role) int {
	count := 0
	for _, message := range messages {
		if message.role == r {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
