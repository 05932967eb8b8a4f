package chat

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette used by the form session.
const (
	colorInk     = lipgloss.Color("16")
	colorPaper   = lipgloss.Color("230")
	colorNavy    = lipgloss.Color("24")
	colorSteel   = lipgloss.Color("31")
	colorSky     = lipgloss.Color("153")
	colorTeal    = lipgloss.Color("44")
	colorAmber   = lipgloss.Color("214")
	colorSand    = lipgloss.Color("179")
	colorMint    = lipgloss.Color("114")
	colorCoral   = lipgloss.Color("203")
	colorCrimson = lipgloss.Color("160")
	colorMuted   = lipgloss.Color("244")
	colorFaint   = lipgloss.Color("240")
)

type theme struct {
	header         lipgloss.Style
	headerMeta     lipgloss.Style
	divider        lipgloss.Style
	progressDone   lipgloss.Style
	progressTodo   lipgloss.Style
	userBox        lipgloss.Style
	userTitle      lipgloss.Style
	assistantBox   lipgloss.Style
	assistantTitle lipgloss.Style
	fallbackTitle  lipgloss.Style
	errorBox       lipgloss.Style
	errorTitle     lipgloss.Style
	status         lipgloss.Style
	statusBusy     lipgloss.Style
	statusErr      lipgloss.Style
	statusDone     lipgloss.Style
	hint           lipgloss.Style
	inputLabel     lipgloss.Style
	input          lipgloss.Style
	viewport       lipgloss.Style
}

func badge(fg, bg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(fg).Background(bg).Padding(0, 1)
}

func box(border lipgloss.Border, color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(border).BorderForeground(color).Padding(0, 1)
}

func bold(color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

func defaultTheme() theme {
	rounded := lipgloss.RoundedBorder()

	return theme{
		header:         badge(colorPaper, colorNavy),
		headerMeta:     lipgloss.NewStyle().Foreground(colorSky),
		divider:        lipgloss.NewStyle().Foreground(colorSteel),
		progressDone:   bold(colorMint),
		progressTodo:   lipgloss.NewStyle().Foreground(colorFaint),
		userBox:        box(rounded, colorAmber),
		userTitle:      badge(colorInk, colorAmber),
		assistantBox:   box(rounded, colorTeal),
		assistantTitle: badge(colorInk, colorTeal),
		fallbackTitle:  badge(colorInk, colorSand),
		errorBox:       box(rounded, colorCoral).Foreground(colorCoral),
		errorTitle:     badge(lipgloss.Color("231"), colorCrimson),
		status:         bold(lipgloss.Color("250")),
		statusBusy:     bold(lipgloss.Color("222")),
		statusErr:      bold(colorCoral),
		statusDone:     bold(colorMint),
		hint:           lipgloss.NewStyle().Foreground(colorMuted),
		inputLabel:     bold(lipgloss.Color("229")),
		input:          box(rounded, colorSteel),
		viewport:       box(lipgloss.NormalBorder(), colorSteel),
	}
}
