package timer

import (
	"fmt"
	"math"
	"time"
)

// FormatRemaining renders a duration as [-][h:]mm:ss, rounding to the
// nearest second. Negative durations keep their sign so overtime reads as
// "-00:50".
func FormatRemaining(d time.Duration) string {
	seconds := int(math.Round(d.Seconds()))
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d", sign, hours, minutes, secs)
	}
	return fmt.Sprintf("%s%02d:%02d", sign, minutes, secs)
}

// Minutes converts a whole-minute count into a duration, the unit timer
// creation forms work in.
func Minutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}
