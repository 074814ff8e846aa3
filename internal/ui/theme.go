package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/palemoky/chat-room/internal/chat"
)

// Theme 一套界面样式
type Theme struct {
	App       lipgloss.Style
	Sidebar   lipgloss.Style
	Main      lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Name      lipgloss.Style
	Text      lipgloss.Style
	Image     lipgloss.Style
	Muted     lipgloss.Style
	Input     lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	BadgeText lipgloss.Color
}

func newTheme(bg, fg, muted, border lipgloss.Color) Theme {
	base := lipgloss.NewStyle().Foreground(fg)
	return Theme{
		App:       base.Background(bg),
		Sidebar:   base.Border(lipgloss.RoundedBorder(), false, true, false, false).BorderForeground(border).Padding(0, 1),
		Main:      base.Padding(0, 1),
		Title:     base.Bold(true),
		Header:    base.Bold(true).Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(border),
		Name:      lipgloss.NewStyle().Bold(true),
		Text:      base,
		Image:     base.Italic(true).Underline(true),
		Muted:     lipgloss.NewStyle().Foreground(muted),
		Input:     base.Border(lipgloss.RoundedBorder()).BorderForeground(border),
		Status:    lipgloss.NewStyle().Foreground(muted),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		BadgeText: lipgloss.Color("#FFFFFF"),
	}
}

var (
	LightTheme = newTheme("#FFFFFF", "#111827", "#6B7280", "#D1D5DB")
	DarkTheme  = newTheme("#111827", "#F9FAFB", "#9CA3AF", "#374151")
)

// ThemeFor 根据显示模式选择主题
func ThemeFor(mode chat.DisplayMode) Theme {
	if mode == chat.Dark {
		return DarkTheme
	}
	return LightTheme
}

// badge renders a name's initial on its palette color.
func (t Theme) badge(initial, color string) string {
	return lipgloss.NewStyle().
		Background(lipgloss.Color(color)).
		Foreground(t.BadgeText).
		Bold(true).
		Padding(0, 1).
		Render(initial)
}
