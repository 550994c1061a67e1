package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Maps 0=Mon..6=Sun onto rrule weekdays.
var weekdayMap = [7]rrule.Weekday{
	rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU,
}

// NextOccurrence returns the next occurrence strictly after the given time,
// or false when the series has ended (max occurrences reached, past the end
// date, or the rule is exhausted or malformed).
//
// Monthly schedules skip months that lack the requested day: a by_monthday
// of 31 anchored in January yields March 31, not a clamped February date.
// That is the rule library's behavior and the documented policy here.
func NextOccurrence(p *Pattern, after time.Time, occurrencesSoFar int) (time.Time, bool) {
	if p.MaxOccurrences > 0 && occurrencesSoFar >= p.MaxOccurrences {
		return time.Time{}, false
	}

	var next time.Time
	if p.Frequency == Custom {
		next = nextFromRRuleString(p.RRule, after)
	} else {
		next = nextStandard(p, after)
	}

	if next.IsZero() {
		return time.Time{}, false
	}
	if p.EndDate != nil && next.After(*p.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

func nextStandard(p *Pattern, after time.Time) time.Time {
	opt := rrule.ROption{
		Interval: p.Interval,
		Dtstart:  after,
	}

	switch p.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		// Without explicit weekdays the rule repeats on the anchor's
		// weekday, which is the documented default.
		for _, wd := range p.ByWeekday {
			if wd >= 0 && wd <= 6 {
				opt.Byweekday = append(opt.Byweekday, weekdayMap[wd])
			}
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		monthday := p.ByMonthday
		if monthday == 0 {
			monthday = after.Day()
		}
		opt.Bymonthday = []int{monthday}
	default:
		return time.Time{}
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}
	}
	return rule.After(after, false)
}

func nextFromRRuleString(s string, after time.Time) time.Time {
	rule, err := rrule.StrToRRule(s)
	if err != nil {
		// Malformed rule ends the series rather than erroring the handler;
		// redelivery would fail identically.
		return time.Time{}
	}
	rule.DTStart(after)
	return rule.After(after, false)
}

// DueDateForInstance carries the original due-date-to-completion offset onto
// the next occurrence. A task without a due date produces an instance
// without one.
func DueDateForInstance(originalDueDate *time.Time, originalCompletedAt, nextOccurrence time.Time) *time.Time {
	if originalDueDate == nil {
		return nil
	}
	offset := originalDueDate.Sub(originalCompletedAt)
	due := nextOccurrence.Add(offset)
	return &due
}
