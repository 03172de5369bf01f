package compliance

import (
	"regexp"
	"strings"
	"time"
)

// Outreach hours, Eastern time. The offset is fixed at UTC-5: ignoring DST
// errs on the conservative side in summer.
const (
	weekdayStartHour = 9
	weekdayEndHour   = 21
	saturdayStart    = 10
	saturdayEnd      = 17
	easternOffset    = -5
)

// WithinContactHours reports whether outreach is allowed at the given
// instant: Mon-Fri 9am-9pm ET, Saturday 10am-5pm ET, never Sunday.
func WithinContactHours(now time.Time) bool {
	utc := now.UTC()
	etHour := (utc.Hour() + easternOffset + 24) % 24

	// Shift the weekday along with the hour when the offset crosses midnight.
	weekday := utc.Weekday()
	if utc.Hour()+easternOffset < 0 {
		weekday = (weekday + 6) % 7
	}

	switch weekday {
	case time.Sunday:
		return false
	case time.Saturday:
		return etHour >= saturdayStart && etHour < saturdayEnd
	default:
		return etHour >= weekdayStartHour && etHour < weekdayEndHour
	}
}

var optOutPattern = regexp.MustCompile(`\b(stop|unsubscribe|cancel|end|quit|opt out|optout|opt-out|remove me|do not contact|don't contact|leave me alone)\b`)

// IsOptOutMessage reports whether an inbound message contains an opt-out
// keyword.
func IsOptOutMessage(text string) bool {
	return optOutPattern.MatchString(strings.ToLower(text))
}
