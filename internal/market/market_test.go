package market

import (
	"testing"
	"time"
)

func stockholm(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	return loc
}

func TestStatusAt(t *testing.T) {
	loc := stockholm(t)
	s := DefaultSchedule()

	tests := []struct {
		name   string
		at     time.Time
		open   bool
		reason string
	}{
		{"mid-session", time.Date(2025, 3, 10, 11, 0, 0, 0, loc), true, "open"},
		{"at open", time.Date(2025, 3, 10, 9, 0, 0, 0, loc), true, "open"},
		{"before open", time.Date(2025, 3, 10, 8, 30, 0, 0, loc), false, "pre-market"},
		{"at close", time.Date(2025, 3, 10, 17, 30, 0, 0, loc), false, "after-hours"},
		{"saturday", time.Date(2025, 3, 8, 11, 0, 0, 0, loc), false, "weekend"},
		{"sunday", time.Date(2025, 3, 9, 11, 0, 0, 0, loc), false, "weekend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := s.StatusAt(tt.at)
			if st.IsOpen != tt.open {
				t.Errorf("IsOpen = %v, want %v", st.IsOpen, tt.open)
			}
			if st.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", st.Reason, tt.reason)
			}
		})
	}
}

func TestStatusAt_TimeToOpenSkipsWeekend(t *testing.T) {
	loc := stockholm(t)
	s := DefaultSchedule()

	// Friday after close: next open is Monday 09:00
	friday := time.Date(2025, 3, 7, 18, 0, 0, 0, loc)
	st := s.StatusAt(friday)
	if st.IsOpen {
		t.Fatal("expected closed")
	}

	nextOpen := friday.Add(st.TimeToOpen)
	if nextOpen.Weekday() != time.Monday {
		t.Errorf("next open on %s, want Monday", nextOpen.Weekday())
	}
	if nextOpen.Hour() != 9 || nextOpen.Minute() != 0 {
		t.Errorf("next open at %02d:%02d, want 09:00", nextOpen.Hour(), nextOpen.Minute())
	}
}

func TestInSignalWindowAt(t *testing.T) {
	loc := stockholm(t)
	s := DefaultSchedule()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"window start", time.Date(2025, 3, 10, 9, 20, 0, 0, loc), true},
		{"inside window", time.Date(2025, 3, 10, 9, 45, 0, 0, loc), true},
		{"window end inclusive", time.Date(2025, 3, 10, 10, 0, 0, 0, loc), true},
		{"before window", time.Date(2025, 3, 10, 9, 19, 0, 0, loc), false},
		{"after window", time.Date(2025, 3, 10, 10, 1, 0, 0, loc), false},
		{"weekend inside hours", time.Date(2025, 3, 8, 9, 30, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.InSignalWindowAt(tt.at); got != tt.want {
				t.Errorf("InSignalWindowAt(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestSignalWindowOverlapsAt(t *testing.T) {
	loc := stockholm(t)
	s := DefaultSchedule()

	tests := []struct {
		name string
		at   time.Time
		d    time.Duration
		want bool
	}{
		{"hourly bar spanning window start", time.Date(2025, 3, 10, 9, 0, 0, 0, loc), time.Hour, true},
		{"hourly bar at window end", time.Date(2025, 3, 10, 10, 0, 0, 0, loc), time.Hour, true},
		{"hourly bar past window", time.Date(2025, 3, 10, 11, 0, 0, 0, loc), time.Hour, false},
		{"minute bar before window", time.Date(2025, 3, 10, 9, 18, 0, 0, loc), time.Minute, false},
		{"minute bar inside window", time.Date(2025, 3, 10, 9, 30, 0, 0, loc), time.Minute, true},
		{"weekend", time.Date(2025, 3, 8, 9, 0, 0, 0, loc), time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SignalWindowOverlapsAt(tt.at, tt.d); got != tt.want {
				t.Errorf("SignalWindowOverlapsAt(%s, %s) = %v, want %v", tt.at, tt.d, got, tt.want)
			}
		})
	}
}

func TestSessionBounds(t *testing.T) {
	loc := stockholm(t)
	s := DefaultSchedule()

	open, close := s.SessionBounds(time.Date(2025, 3, 10, 0, 0, 0, 0, loc))
	if open.Hour() != 9 || open.Minute() != 0 {
		t.Errorf("open at %02d:%02d, want 09:00", open.Hour(), open.Minute())
	}
	if close.Hour() != 17 || close.Minute() != 30 {
		t.Errorf("close at %02d:%02d, want 17:30", close.Hour(), close.Minute())
	}
}
