package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/palemoky/chat-room/internal/chat"
	"github.com/palemoky/chat-room/internal/protocol"
)

const (
	sidebarWidth = 24
	// header, input box and status line
	chromeHeight = 7
)

const helpText = "Enter send · Ctrl+L clear · Ctrl+T theme · Esc quit"

// View renders the UI.
func (m *Model) View() string {
	state := m.machine.Snapshot()
	theme := ThemeFor(state.DisplayMode)

	if m.fatal != "" {
		return theme.App.Width(m.width).Render(theme.Error.Render(m.fatal))
	}
	if m.naming {
		return m.renderNamePrompt(theme)
	}

	bodyHeight := max(m.height-chromeHeight, 3)
	mainWidth := max(m.width-sidebarWidth-3, 20)

	sidebar := theme.Sidebar.Width(sidebarWidth).Height(bodyHeight + 3).Render(RenderSidebar(state, theme))
	main := lipgloss.JoinVertical(lipgloss.Left,
		theme.Header.Width(mainWidth).Render(RenderHeader(state, theme)),
		RenderMessages(state, theme, bodyHeight),
	)

	var sb strings.Builder
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sidebar, theme.Main.Width(mainWidth).Render(main)))
	sb.WriteString("\n")
	sb.WriteString(theme.Input.Width(max(m.width-2, 20)).Render(m.input.View()))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus(theme))
	return theme.App.Render(sb.String())
}

func (m *Model) renderNamePrompt(theme Theme) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Chat Room"))
	sb.WriteString("\n\n")
	sb.WriteString(theme.Muted.Render("Enter your name to join"))
	sb.WriteString("\n")
	sb.WriteString(theme.Input.Width(maxUsernameLength + 4).Render(m.input.View()))
	return theme.App.Padding(1, 2).Render(sb.String())
}

func (m *Model) renderStatus(theme Theme) string {
	var status string
	switch m.status {
	case StatusConnecting:
		status = "○ Connecting..."
	case StatusConnected:
		status = "● Connected as " + m.username
	case StatusReconnecting:
		status = fmt.Sprintf("◌ Reconnecting (%d/%d)...", m.attempt, m.maxTries)
	case StatusClosed:
		status = "✕ Disconnected"
	}

	line := theme.Status.Render(status + "  " + helpText)
	if m.notification != "" {
		line += "  " + theme.Error.Render(m.notification)
	}
	return line
}

// RenderSidebar 在线用户列表
func RenderSidebar(state chat.State, theme Theme) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(fmt.Sprintf("Online Users (%d)", state.UserCount())))
	sb.WriteString("\n\n")

	if len(state.Roster) == 0 {
		sb.WriteString(theme.Muted.Render("No users online"))
		return sb.String()
	}
	for _, p := range state.Roster {
		sb.WriteString(theme.badge(p.Initial(), p.Color))
		sb.WriteString(" ")
		sb.WriteString(theme.Text.Render(p.Name))
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// RenderHeader 标题与消息数
func RenderHeader(state chat.State, theme Theme) string {
	return theme.Title.Render("Chat Room") + theme.Muted.Render(fmt.Sprintf(" · %d messages", state.MessageCount()))
}

// RenderMessages renders the most recent messages that fit in height lines.
func RenderMessages(state chat.State, theme Theme, height int) string {
	if len(state.Log) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			"",
			theme.Muted.Render("No messages yet"),
			theme.Muted.Render("Start a conversation!"),
		)
	}

	start := 0
	if height > 0 && len(state.Log) > height {
		start = len(state.Log) - height
	}

	lines := make([]string, 0, len(state.Log)-start)
	for _, msg := range state.Log[start:] {
		lines = append(lines, renderMessage(state, theme, msg))
	}
	return strings.Join(lines, "\n")
}

func renderMessage(state chat.State, theme Theme, msg protocol.ChatMessage) string {
	color := state.ColorOf(msg.From)
	name := theme.Name.Foreground(lipgloss.Color(color)).Render(msg.From)

	body := theme.Text.Render(msg.Message)
	if msg.IsImage() {
		body = theme.Image.Render("[image] " + msg.Message)
	}
	return theme.badge(state.InitialOf(msg.From), color) + " " + name + " " + body
}
