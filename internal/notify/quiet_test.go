package notify

import (
	"testing"
	"time"
)

func clockTime(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestIsQuietHours(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		start string
		end   string
		want  bool
	}{
		{
			name:  "overnight window, late evening",
			now:   clockTime(23, 30),
			start: "22:00",
			end:   "08:00",
			want:  true,
		},
		{
			name:  "overnight window, early morning",
			now:   clockTime(6, 15),
			start: "22:00",
			end:   "08:00",
			want:  true,
		},
		{
			name:  "overnight window, midday",
			now:   clockTime(12, 0),
			start: "22:00",
			end:   "08:00",
			want:  false,
		},
		{
			name:  "same-day window, inside",
			now:   clockTime(14, 0),
			start: "13:00",
			end:   "15:00",
			want:  true,
		},
		{
			name:  "same-day window, outside",
			now:   clockTime(16, 0),
			start: "13:00",
			end:   "15:00",
			want:  false,
		},
		{
			name:  "boundaries are inclusive",
			now:   clockTime(22, 0),
			start: "22:00",
			end:   "08:00",
			want:  true,
		},
		{
			name:  "end boundary inclusive",
			now:   clockTime(8, 0),
			start: "22:00",
			end:   "08:00",
			want:  true,
		},
		{
			name:  "unset window",
			now:   clockTime(3, 0),
			start: "",
			end:   "",
			want:  false,
		},
		{
			name:  "malformed start",
			now:   clockTime(3, 0),
			start: "late",
			end:   "08:00",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuietHours(tt.now, tt.start, tt.end); got != tt.want {
				t.Errorf("IsQuietHours(%v, %q, %q) = %v, want %v",
					tt.now.Format("15:04"), tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestLocalNow(t *testing.T) {
	utc := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	ny := localNow(utc, "America/New_York")
	if ny.Hour() == utc.Hour() {
		t.Errorf("localNow() hour = %d, want shifted from UTC %d", ny.Hour(), utc.Hour())
	}

	// Unknown zones fall back to UTC rather than erroring.
	fallback := localNow(utc, "Not/AZone")
	if fallback.Hour() != utc.Hour() {
		t.Errorf("localNow() with bad zone hour = %d, want %d", fallback.Hour(), utc.Hour())
	}
}
