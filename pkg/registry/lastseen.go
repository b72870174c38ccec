package registry

import (
	"fmt"
	"time"
)

// FormatLastSeen renders a last-seen timestamp for display. It is a pure
// derivation computed at read time and never stored: "just now" within a
// minute, then minutes/hours/days, and a calendar date beyond 7 days.
func FormatLastSeen(lastSeen *time.Time, now time.Time) string {
	if lastSeen == nil {
		return "never"
	}

	elapsed := now.Sub(*lastSeen)

	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	case elapsed < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	default:
		return lastSeen.Format("2006-01-02")
	}
}
