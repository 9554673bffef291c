package monitor

import (
	"fmt"
	"strconv"
	"time"
)

// FormatTokens formats a token count with thousands separators, "1,234".
func FormatTokens(n int) string {
	s := strconv.Itoa(n)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatTokenRate formats a token rate as "X.X tok/min".
func FormatTokenRate(rate float64) string {
	return fmt.Sprintf("%.1f tok/min", rate)
}

// FormatCost formats a dollar amount with four decimals.
func FormatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatElapsed formats a run duration as "X.Xs", "Xm Ys" or "Xh Ym".
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return FormatDuration(int64(d.Seconds()))
	}
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
