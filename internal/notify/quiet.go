package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// IsQuietHours reports whether now falls inside the quiet-hours window.
// start <= end is a same-day window (inclusive); start > end wraps past
// midnight, so the window is now >= start OR now <= end. Empty or
// unparseable bounds mean no quiet hours.
func IsQuietHours(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}

	startMin, err := parseClock(start)
	if err != nil {
		return false
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	// Overnight wraparound, e.g. 22:00 to 08:00.
	return nowMin >= startMin || nowMin <= endMin
}

// localNow converts now to the user's timezone, falling back to UTC when the
// zone name does not resolve.
func localNow(now time.Time, timezone string) time.Time {
	if timezone == "" {
		return now.UTC()
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return now.UTC()
	}
	return now.In(loc)
}
