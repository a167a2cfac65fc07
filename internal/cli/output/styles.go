package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the lipgloss styles used by text output.
type Styles struct {
	Header1  lipgloss.Style
	Header2  lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Info     lipgloss.Style
	FilePath lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

// NewStyles builds styles bound to w. Colour is used only when color is
// true and NO_COLOR is unset.
func NewStyles(w io.Writer, color bool) *Styles {
	renderer := lipgloss.NewRenderer(w)
	if !color || termenv.EnvNoColor() {
		renderer.SetColorProfile(termenv.Ascii)
	}

	return &Styles{
		Header1:  renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2:  renderer.NewStyle().Bold(true),
		Bold:     renderer.NewStyle().Bold(true),
		Muted:    renderer.NewStyle().Foreground(lipgloss.Color("8")),
		Success:  renderer.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:  renderer.NewStyle().Foreground(lipgloss.Color("11")),
		Error:    renderer.NewStyle().Foreground(lipgloss.Color("9")),
		Info:     renderer.NewStyle().Foreground(lipgloss.Color("14")),
		FilePath: renderer.NewStyle().Underline(true),

		StatusSuccess: renderer.NewStyle().Foreground(lipgloss.Color("10")).SetString("✓"),
		StatusFailed:  renderer.NewStyle().Foreground(lipgloss.Color("9")).SetString("✗"),
	}
}
