// Package recurrence computes the next occurrence of a recurring task
// series from its pattern. Daily, weekly and monthly schedules are expressed
// as RFC 5545 rules internally; custom patterns supply the rule string
// directly.
package recurrence

import (
	"fmt"
	"time"

	"todoflow/internal/event"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Custom  Frequency = "custom"
)

// Pattern describes how a repeating task regenerates itself. Exactly one of
// EndDate and MaxOccurrences bounds the series.
type Pattern struct {
	ID             string
	Frequency      Frequency
	Interval       int
	ByWeekday      []int // 0=Mon .. 6=Sun
	ByMonthday     int   // 1..31, 0 = unset
	EndDate        *time.Time
	MaxOccurrences int // 0 = unset
	RRule          string
}

// Validate enforces the construction invariants. Both end conditions set, or
// neither, is rejected outright rather than silently picking one.
func (p *Pattern) Validate() error {
	switch p.Frequency {
	case Daily, Weekly, Monthly, Custom:
	default:
		return fmt.Errorf("invalid frequency %q", p.Frequency)
	}

	if p.Interval < 1 {
		return fmt.Errorf("interval must be >= 1, got %d", p.Interval)
	}

	for _, wd := range p.ByWeekday {
		if wd < 0 || wd > 6 {
			return fmt.Errorf("by_weekday value %d out of range 0..6", wd)
		}
	}

	if p.ByMonthday != 0 && (p.ByMonthday < 1 || p.ByMonthday > 31) {
		return fmt.Errorf("by_monthday %d out of range 1..31", p.ByMonthday)
	}

	hasEnd := p.EndDate != nil
	hasMax := p.MaxOccurrences > 0
	if hasEnd == hasMax {
		return fmt.Errorf("exactly one of end_date and max_occurrences must be set")
	}

	if p.Frequency == Custom && p.RRule == "" {
		return fmt.Errorf("custom frequency requires rrule_string")
	}
	if p.Frequency != Custom && p.RRule != "" {
		return fmt.Errorf("rrule_string is only valid with custom frequency")
	}

	return nil
}

// PatternFromEvent builds a validated Pattern from event payload data.
func PatternFromEvent(d *event.RecurrenceData) (*Pattern, error) {
	interval := d.Interval
	if interval == 0 {
		interval = 1
	}

	p := &Pattern{
		ID:             d.ID,
		Frequency:      Frequency(d.Frequency),
		Interval:       interval,
		ByWeekday:      d.ByWeekday,
		ByMonthday:     d.ByMonthday,
		EndDate:        d.EndDate,
		MaxOccurrences: d.MaxOccurrences,
		RRule:          d.RRuleString,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recurrence pattern %s: %w", d.ID, err)
	}
	return p, nil
}
