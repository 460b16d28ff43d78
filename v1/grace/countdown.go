package grace

import "fmt"

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Tooltip describes a locked cell: the time left while its grace timer
// runs, "Locked" once it is gone.
func Tooltip(seconds int, active bool) string {
	if !active {
		return "Locked"
	}
	return "Editable for " + FormatCountdown(seconds)
}
