// Package tui renders the chat clients in the terminal with bubbletea.
package tui

import (
	"strings"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type uiTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	inputPanel  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	helpText    lipgloss.Style
	alert       lipgloss.Style
	alertTitle  lipgloss.Style
	speaker     map[domain.Role]lipgloss.Style
}

func newTheme() uiTheme {
	teal := lipgloss.Color("#6fd0c6")
	coral := lipgloss.Color("#ff8a80")
	gold := lipgloss.Color("#f6c177")
	lilac := lipgloss.Color("#c4a7e7")
	text := lipgloss.Color("#e0def4")
	muted := lipgloss.Color("#908caa")

	return uiTheme{
		header: lipgloss.NewStyle().
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lilac).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Foreground(gold).Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		footer:      lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(teal).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(coral).Bold(true),
		helpText:    lipgloss.NewStyle().Foreground(muted),
		alert: lipgloss.NewStyle().
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(coral).
			Padding(0, 1),
		alertTitle: lipgloss.NewStyle().Foreground(coral).Bold(true),
		speaker: map[domain.Role]lipgloss.Style{
			domain.RoleSelf:    lipgloss.NewStyle().Foreground(teal).Bold(true),
			domain.RoleMonster: lipgloss.NewStyle().Foreground(coral).Bold(true),
			domain.RoleLumen:   lipgloss.NewStyle().Foreground(gold).Bold(true),
		},
	}
}

type line struct {
	role domain.Role
	text string
}

// renderLines formats the transcript for the timeline viewport.
func renderLines(theme uiTheme, lines []line, label func(domain.Role) string, width int) string {
	if len(lines) == 0 {
		return theme.helpText.Render("Nothing said yet.")
	}
	wrap := lipgloss.NewStyle()
	if width > 4 {
		wrap = wrap.Width(width - 4)
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		style, ok := theme.speaker[l.role]
		if !ok {
			style = theme.speaker[domain.RoleLumen]
		}
		b.WriteString(style.Render(label(l.role) + ":"))
		b.WriteString("\n")
		b.WriteString(wrap.Render(l.text))
	}
	return b.String()
}

func renderAlert(theme uiTheme, alert *domain.Alert, resetKey string) string {
	parts := []string{theme.alertTitle.Render("You are not alone")}
	if alert.Message != "" {
		parts = append(parts, alert.Message)
	}
	if alert.HotlinesURL != "" {
		parts = append(parts, "Hotlines:  "+alert.HotlinesURL)
	}
	if alert.ResourcesURL != "" {
		parts = append(parts, "Resources: "+alert.ResourcesURL)
	}
	if alert.Locked {
		parts = append(parts, theme.helpText.Render("This conversation is paused. Press "+resetKey+" to start over."))
	}
	return theme.alert.Render(strings.Join(parts, "\n"))
}
