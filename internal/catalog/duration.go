package catalog

import "fmt"

// UnknownDuration replaces an album's running time when its track listing
// could not be fetched.
const UnknownDuration = "Unknown"

// FormatDuration renders milliseconds as H:MM:SS when at least an hour,
// otherwise MM:SS. Sub-second remainders are truncated.
func FormatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms % 3_600_000 / 60_000
	seconds := ms % 60_000 / 1000

	if hours >= 1 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
