// internal/engine/recurrence.go
package engine

import (
	"fmt"
	"strings"
	"time"
)

// Recurrence patterns: "hourly", "daily", "weekly", "monthly", or
// "every <duration>" with Go duration syntax (e.g. "every 15m").

// ValidateRecurrence reports whether the pattern is usable.
func ValidateRecurrence(pattern string) error {
	_, err := nextOccurrence(pattern, time.Unix(0, 0).UTC())
	return err
}

// nextOccurrence derives the next fire time from the ORIGINAL scheduled
// time, never from "now", so recurring notifications do not drift.
func nextOccurrence(pattern string, from time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(pattern)) {
	case "hourly":
		return from.Add(time.Hour), nil
	case "daily":
		return from.AddDate(0, 0, 1), nil
	case "weekly":
		return from.AddDate(0, 0, 7), nil
	case "monthly":
		return from.AddDate(0, 1, 0), nil
	}

	if rest, ok := strings.CutPrefix(strings.TrimSpace(pattern), "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid recurrence duration %q: %w", rest, err)
		}
		if d <= 0 {
			return time.Time{}, fmt.Errorf("recurrence duration must be positive, got %s", d)
		}
		return from.Add(d), nil
	}

	return time.Time{}, fmt.Errorf("unknown recurrence pattern %q", pattern)
}
