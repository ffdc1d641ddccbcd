package app

import (
	"github.com/charmbracelet/lipgloss"

	"localops/internal/runwatch"
	"localops/internal/types"
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	sectionStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dividerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Faint(true)
	errorLineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	confirmStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	tabStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	tabActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("239")).Bold(true).Padding(0, 1)
	toastInfoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("29")).Bold(true)
	toastErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Bold(true)
)

func runStatusStyle(status types.RunStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch status {
	case types.RunStatusAwaitingReview:
		return base.Foreground(lipgloss.Color("179"))
	case types.RunStatusRunning:
		return base.Foreground(lipgloss.Color("75"))
	case types.RunStatusSucceeded:
		return base.Foreground(lipgloss.Color("70"))
	case types.RunStatusFailed:
		return base.Foreground(lipgloss.Color("203"))
	default:
		return base.Foreground(lipgloss.Color("245"))
	}
}

func stepStatusStyle(status types.StepStatus) lipgloss.Style {
	switch status {
	case types.StepStatusRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	case types.StepStatusSucceeded:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	case types.StepStatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
}

func streamStateStyle(state runwatch.StreamState) lipgloss.Style {
	switch state {
	case runwatch.StreamLive:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	case runwatch.StreamRetrying:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("179"))
	case runwatch.StreamDown:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
}
