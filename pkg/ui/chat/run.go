package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Progress summarizes how far the form has come.
type Progress struct {
	Collected int
	Total     int
	Pending   string
	Complete  bool
}

// Turn is the result of sending one message.
type Turn struct {
	Reply    string
	Fallback bool
	Progress Progress
}

// SendFunc applies one typed message to the local conversation.
type SendFunc func(ctx context.Context, text string) (Turn, error)

// Info is shown in the header.
type Info struct {
	Provider string
	Model    string
	Phone    string
}

// Run starts the full-screen form session and blocks until the user quits.
func Run(ctx context.Context, send SendFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, send, info), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	return badge(colorPaper, colorNavy).Padding(1, 2).Render("📱 Form session closed")
}
