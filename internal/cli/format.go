package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/dispatch"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatAttempts renders one line per variant attempt.
func FormatAttempts(attempts []dispatch.Attempt) string {
	var b strings.Builder
	for _, a := range attempts {
		calls := "call"
		if a.Calls != 1 {
			calls = "calls"
		}
		if a.Succeeded() {
			fmt.Fprintf(&b, "  variant %d: ok (%d %s)\n", a.Index+1, a.Calls, calls)
		} else {
			fmt.Fprintf(&b, "  variant %d: %s (%d %s)\n", a.Index+1, apperr.UserMessage(a.Err), a.Calls, calls)
		}
	}
	return b.String()
}
