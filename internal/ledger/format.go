package ledger

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	sessionIDLayout = "20060102_150405"
	stampLayout     = "2006-01-02 15:04:05"
	clockLayout     = "15:04:05"

	truncatedSuffix = "... (truncated)"
)

var numbers = message.NewPrinter(language.English)

func formatFileHeader(project, sessionID string, now time.Time) string {
	ts := now.Format(stampLayout)
	return fmt.Sprintf(`# Refactor Changes Report

**Project**: %s
**Created**: %s

This file tracks all code changes made during refactoring sessions.
Each edit is logged with timestamp, file path, and change details.

---

## Session: %s

Started: %s

`, project, ts, sessionID, ts)
}

func formatSessionSeparator(sessionID string, now time.Time) string {
	return fmt.Sprintf("\n\n---\n\n## Session: %s\n\nStarted: %s\n\n", sessionID, now.Format(stampLayout))
}

func formatEntry(e Entry) string {
	var b strings.Builder

	icon := "✅"
	if !e.Accepted {
		icon = "❌"
	}
	by := ""
	if e.Specialist != "" {
		by = fmt.Sprintf(" by `%s`", e.Specialist)
	}

	fmt.Fprintf(&b, "### Edit #%d %s [%s]%s\n\n", e.Seq, icon, e.Time.Format(clockLayout), by)
	fmt.Fprintf(&b, "**File**: `%s`\n\n", e.FilePath)
	if e.Error != "" {
		fmt.Fprintf(&b, "**Error**: %s\n\n", e.Error)
	}
	fmt.Fprintf(&b, "<details>\n<summary>View changes</summary>\n\n**Before**:\n```\n%s\n```\n\n**After**:\n```\n%s\n```\n\n</details>\n\n", e.Before, e.After)

	return b.String()
}

func formatSummary(summary string) string {
	return fmt.Sprintf("\n### Summary\n\n%s\n\n", summary)
}

func formatClosing(now time.Time, edits, tokens int, costUSD float64) string {
	return fmt.Sprintf(`
---

### Session Complete

- **Ended**: %s
- **Total Edits**: %d
- **Tokens Used**: %s
- **Estimated Cost**: $%.4f

`, now.Format(stampLayout), edits, numbers.Sprintf("%d", tokens), costUSD)
}

// truncate cuts s to limit characters, marking the cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncatedSuffix
}
