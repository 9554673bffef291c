package router

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/refacta/internal/specialist"
)

// BuildRoutingPrompt lists each specialist by name and one-line description
// only. Full instructions never reach the classifier.
func BuildRoutingPrompt(catalog []specialist.CatalogEntry) string {
	var b strings.Builder
	b.WriteString("You are an agent router. Select the best agent for this task.\n\nAvailable agents:\n")
	for _, e := range catalog {
		desc := firstLine(e.Description)
		if desc == "" {
			desc = fmt.Sprintf("Agent for %s tasks", e.Name)
		}
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, desc)
	}
	b.WriteString("\nReturn ONLY a JSON array with 1 agent name. Example: [\"python-refactorer\"]")
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
