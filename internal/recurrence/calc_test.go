package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d, hour, min int) time.Time {
	return time.Date(y, m, d, hour, min, 0, 0, time.UTC)
}

func endDate(t time.Time) *time.Time { return &t }

func TestNextOccurrenceDaily(t *testing.T) {
	tests := []struct {
		name     string
		pattern  Pattern
		after    time.Time
		soFar    int
		want     time.Time
		wantMore bool
	}{
		{
			name: "daily interval 3",
			pattern: Pattern{
				Frequency: Daily,
				Interval:  3,
				EndDate:   endDate(date(2026, 12, 31, 0, 0)),
			},
			after:    date(2026, 1, 1, 10, 0),
			want:     date(2026, 1, 4, 10, 0),
			wantMore: true,
		},
		{
			name: "daily past end date",
			pattern: Pattern{
				Frequency: Daily,
				Interval:  1,
				EndDate:   endDate(date(2026, 1, 2, 0, 0)),
			},
			after:    date(2026, 1, 5, 10, 0),
			wantMore: false,
		},
		{
			name: "max occurrences reached",
			pattern: Pattern{
				Frequency:      Daily,
				Interval:       1,
				MaxOccurrences: 3,
			},
			after:    date(2026, 1, 1, 10, 0),
			soFar:    3,
			wantMore: false,
		},
		{
			name: "one occurrence left",
			pattern: Pattern{
				Frequency:      Daily,
				Interval:       1,
				MaxOccurrences: 3,
			},
			after:    date(2026, 1, 1, 10, 0),
			soFar:    2,
			want:     date(2026, 1, 2, 10, 0),
			wantMore: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, more := NextOccurrence(&tt.pattern, tt.after, tt.soFar)
			if more != tt.wantMore {
				t.Fatalf("NextOccurrence() more = %v, want %v", more, tt.wantMore)
			}
			if more && !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextOccurrenceWeekly(t *testing.T) {
	// Monday/Wednesday/Friday schedule, completed on a Wednesday: the next
	// instance lands on Friday of the same week.
	p := Pattern{
		Frequency: Weekly,
		Interval:  1,
		ByWeekday: []int{0, 2, 4},
		EndDate:   endDate(date(2026, 12, 31, 0, 0)),
	}

	// 2026-01-07 is a Wednesday.
	after := date(2026, 1, 7, 9, 0)
	got, more := NextOccurrence(&p, after, 0)
	if !more {
		t.Fatal("NextOccurrence() more = false, want true")
	}
	want := date(2026, 1, 9, 9, 0) // Friday
	if !got.Equal(want) {
		t.Errorf("NextOccurrence() = %v (%v), want %v (Friday)", got, got.Weekday(), want)
	}

	// Completed on Friday, next is Monday of the following week.
	got, more = NextOccurrence(&p, got, 1)
	if !more {
		t.Fatal("NextOccurrence() more = false, want true")
	}
	want = date(2026, 1, 12, 9, 0) // Monday
	if !got.Equal(want) {
		t.Errorf("NextOccurrence() = %v (%v), want %v (Monday)", got, got.Weekday(), want)
	}
}

func TestNextOccurrenceMonthly(t *testing.T) {
	p := Pattern{
		Frequency:  Monthly,
		Interval:   1,
		ByMonthday: 15,
		EndDate:    endDate(date(2026, 12, 31, 0, 0)),
	}

	got, more := NextOccurrence(&p, date(2026, 1, 15, 8, 0), 0)
	if !more {
		t.Fatal("NextOccurrence() more = false, want true")
	}
	want := date(2026, 2, 15, 8, 0)
	if !got.Equal(want) {
		t.Errorf("NextOccurrence() = %v, want %v", got, want)
	}
}

func TestNextOccurrenceMonthlyShortMonthSkips(t *testing.T) {
	// Day 31 does not exist in February or April; those months are skipped.
	p := Pattern{
		Frequency:  Monthly,
		Interval:   1,
		ByMonthday: 31,
		EndDate:    endDate(date(2026, 12, 31, 0, 0)),
	}

	got, more := NextOccurrence(&p, date(2026, 1, 31, 8, 0), 0)
	if !more {
		t.Fatal("NextOccurrence() more = false, want true")
	}
	want := date(2026, 3, 31, 8, 0)
	if !got.Equal(want) {
		t.Errorf("NextOccurrence() = %v, want %v (February skipped)", got, want)
	}
}

func TestNextOccurrenceCustomRRule(t *testing.T) {
	p := Pattern{
		Frequency:      Custom,
		Interval:       1,
		RRule:          "FREQ=WEEKLY;INTERVAL=2;BYDAY=TU",
		MaxOccurrences: 10,
	}

	// 2026-01-06 is a Tuesday.
	got, more := NextOccurrence(&p, date(2026, 1, 6, 14, 0), 0)
	if !more {
		t.Fatal("NextOccurrence() more = false, want true")
	}
	want := date(2026, 1, 20, 14, 0)
	if !got.Equal(want) {
		t.Errorf("NextOccurrence() = %v, want %v", got, want)
	}
}

func TestNextOccurrenceInvalidRRule(t *testing.T) {
	p := Pattern{
		Frequency:      Custom,
		Interval:       1,
		RRule:          "not-an-rrule",
		MaxOccurrences: 5,
	}

	if _, more := NextOccurrence(&p, date(2026, 1, 1, 0, 0), 0); more {
		t.Error("NextOccurrence() more = true for unparseable rule, want false")
	}
}

func TestDueDateForInstance(t *testing.T) {
	completed := date(2026, 1, 9, 9, 0)
	next := date(2026, 2, 10, 9, 0)

	t.Run("offset preserved", func(t *testing.T) {
		// Completed a day before the due date: the next due date keeps
		// that one-day lag behind the next occurrence.
		due := date(2026, 1, 10, 9, 0)
		got := DueDateForInstance(&due, completed, next)
		if got == nil {
			t.Fatal("DueDateForInstance() = nil, want non-nil")
		}
		want := date(2026, 2, 11, 9, 0)
		if !got.Equal(want) {
			t.Errorf("DueDateForInstance() = %v, want %v", got, want)
		}
	})

	t.Run("nil due date stays nil", func(t *testing.T) {
		if got := DueDateForInstance(nil, completed, next); got != nil {
			t.Errorf("DueDateForInstance() = %v, want nil", got)
		}
	})
}
