// internal/models/throttle.go
package models

import "time"

// ThrottleKind names the rolling window a rule counts against.
type ThrottleKind string

const (
	ThrottleNone   ThrottleKind = "none"
	ThrottleHourly ThrottleKind = "hourly"
	ThrottleDaily  ThrottleKind = "daily"
	ThrottleWeekly ThrottleKind = "weekly"
)

// Default window caps. Policy choice, overridable per user and via config.
const (
	DefaultHourlyMax = 10
	DefaultDailyMax  = 50
	DefaultWeeklyMax = 200
)

// ThrottleRule caps how many notifications a user may receive within a
// rolling window. The zero value is NoThrottle.
type ThrottleRule struct {
	Kind ThrottleKind `json:"kind"`
	Max  int          `json:"max,omitempty"`
}

// NoThrottle admits everything.
var NoThrottle = ThrottleRule{Kind: ThrottleNone}

func Hourly(max int) ThrottleRule { return ThrottleRule{Kind: ThrottleHourly, Max: max} }
func Daily(max int) ThrottleRule  { return ThrottleRule{Kind: ThrottleDaily, Max: max} }
func Weekly(max int) ThrottleRule { return ThrottleRule{Kind: ThrottleWeekly, Max: max} }

// Window returns the rolling window length for the rule kind, or zero for
// an unthrottled rule.
func (r ThrottleRule) Window() time.Duration {
	switch r.Kind {
	case ThrottleHourly:
		return time.Hour
	case ThrottleDaily:
		return 24 * time.Hour
	case ThrottleWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Unlimited reports whether the rule admits everything.
func (r ThrottleRule) Unlimited() bool {
	return r.Kind == "" || r.Kind == ThrottleNone
}
