// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"time"
)

// FormatPercent formats a 0-100 value as a percentage string.
func FormatPercent(pct float64) string {
	if pct == float64(int64(pct)) {
		return fmt.Sprintf("%.0f%%", pct)
	}
	return fmt.Sprintf("%.1f%%", pct)
}

// FormatMoney formats an amount in major currency units.
func FormatMoney(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// FormatCountdown formats the time left until a reset.
// e.g., 26h -> "1d 2h", 90m -> "1h 30m", 5m -> "5m"
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return "<1m"
	}
}

// FormatResetsAt turns an RFC 3339 reset timestamp into a countdown from now.
// Returns "" when the timestamp is absent and the raw value when it does not parse.
func FormatResetsAt(resetsAt string, now time.Time) string {
	if resetsAt == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, resetsAt)
	if err != nil {
		return resetsAt
	}
	return FormatCountdown(t.Sub(now))
}
