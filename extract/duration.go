package extract

import (
	"strings"

	"github.com/sosodev/duration"
)

// isISODuration reports whether s looks like an ISO-8601 duration literal.
func isISODuration(s string) bool {
	return strings.HasPrefix(s, "PT") || strings.HasPrefix(s, "P")
}

// isoDurationMinutes converts an ISO-8601 duration to minutes. ok is false
// when the string does not parse; the caller keeps the raw string either way,
// since the original form is the source of truth.
func isoDurationMinutes(s string) (float64, bool) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, false
	}
	return d.ToTimeDuration().Minutes(), true
}

// isoDurationSeconds converts an ISO-8601 duration to seconds.
func isoDurationSeconds(s string) (float64, bool) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, false
	}
	return d.ToTimeDuration().Seconds(), true
}
