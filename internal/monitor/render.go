package monitor

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders specialist output for the terminal. width <= 0
// uses 80 columns.
func RenderMarkdown(text string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}
