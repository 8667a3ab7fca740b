package main

import "github.com/charmbracelet/lipgloss"

// 终端输出样式 / Terminal output styles
var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorDanger  = lipgloss.Color("#EF4444")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")

	titleStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarning)

	idColumn     = lipgloss.NewStyle().Width(14)
	sourceColumn = lipgloss.NewStyle().Width(16).Foreground(colorMuted)
	dateColumn   = lipgloss.NewStyle().Width(12).Foreground(colorMuted)
)
