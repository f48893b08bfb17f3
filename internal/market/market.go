package market

import (
	"fmt"
	"time"

	"svea/internal/config"
)

// Clock returns the current time; injectable for tests and catch-up logic.
type Clock func() time.Time

// Schedule describes the Stockholm exchange trading session.
type Schedule struct {
	Location          *time.Location
	OpenHour          int
	OpenMin           int
	CloseHour         int
	CloseMin          int
	SignalStartHour   int
	SignalStartMin    int
	SignalEndHour     int
	SignalEndMin      int
}

// NewSchedule builds a Schedule from market configuration.
func NewSchedule(cfg config.MarketConfig) (*Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	s := &Schedule{Location: loc}
	for _, f := range []struct {
		value     string
		hour, min *int
	}{
		{cfg.OpenTime, &s.OpenHour, &s.OpenMin},
		{cfg.CloseTime, &s.CloseHour, &s.CloseMin},
		{cfg.SignalWindowStart, &s.SignalStartHour, &s.SignalStartMin},
		{cfg.SignalWindowEnd, &s.SignalEndHour, &s.SignalEndMin},
	} {
		t, err := time.Parse("15:04", f.value)
		if err != nil {
			return nil, fmt.Errorf("parsing clock time %q: %w", f.value, err)
		}
		*f.hour, *f.min = t.Hour(), t.Minute()
	}
	return s, nil
}

// DefaultSchedule returns the XSTO session (09:00-17:30, window 09:20-10:00).
func DefaultSchedule() *Schedule {
	s, _ := NewSchedule(config.DefaultConfig().Market)
	return s
}

// Status describes the market state at a point in time.
type Status struct {
	IsOpen      bool
	Now         time.Time
	OpenTime    time.Time
	CloseTime   time.Time
	TimeToOpen  time.Duration
	TimeToClose time.Duration
	Reason      string // "open", "weekend", "pre-market", "after-hours"
}

// StatusAt returns the market status for the given instant.
func (s *Schedule) StatusAt(t time.Time) Status {
	now := t.In(s.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Location)

	st := Status{
		Now:       now,
		OpenTime:  day.Add(time.Duration(s.OpenHour)*time.Hour + time.Duration(s.OpenMin)*time.Minute),
		CloseTime: day.Add(time.Duration(s.CloseHour)*time.Hour + time.Duration(s.CloseMin)*time.Minute),
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		st.Reason = "weekend"
		days := (8 - int(wd)) % 7
		if days == 0 {
			days = 7
		}
		st.TimeToOpen = st.OpenTime.AddDate(0, 0, days).Sub(now)
		return st
	}

	switch {
	case now.Before(st.OpenTime):
		st.Reason = "pre-market"
		st.TimeToOpen = st.OpenTime.Sub(now)
	case !now.Before(st.CloseTime):
		st.Reason = "after-hours"
		next := st.OpenTime.AddDate(0, 0, 1)
		for wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday; wd = next.Weekday() {
			next = next.AddDate(0, 0, 1)
		}
		st.TimeToOpen = next.Sub(now)
	default:
		st.IsOpen = true
		st.Reason = "open"
		st.TimeToClose = st.CloseTime.Sub(now)
	}
	return st
}

// IsOpenAt reports whether the market is in its regular session.
func (s *Schedule) IsOpenAt(t time.Time) bool {
	return s.StatusAt(t).IsOpen
}

// InSignalWindowAt reports whether t falls inside the signal window on a
// trading day. The window bounds are inclusive.
func (s *Schedule) InSignalWindowAt(t time.Time) bool {
	now := t.In(s.Location)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	start := s.SignalStartHour*60 + s.SignalStartMin
	end := s.SignalEndHour*60 + s.SignalEndMin
	return minutes >= start && minutes <= end
}

// SignalWindowOverlapsAt reports whether the bar starting at t with the
// given duration overlaps the signal window. Used for coarse bars that
// start before the window but span into it.
func (s *Schedule) SignalWindowOverlapsAt(t time.Time, d time.Duration) bool {
	start := t.In(s.Location)
	if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}

	winStart := time.Date(start.Year(), start.Month(), start.Day(), s.SignalStartHour, s.SignalStartMin, 0, 0, s.Location)
	winEnd := time.Date(start.Year(), start.Month(), start.Day(), s.SignalEndHour, s.SignalEndMin, 0, 0, s.Location)
	return !start.After(winEnd) && start.Add(d).After(winStart)
}

// SessionBounds returns the open and close instants for the given date.
func (s *Schedule) SessionBounds(date time.Time) (open, close time.Time) {
	d := date.In(s.Location)
	open = time.Date(d.Year(), d.Month(), d.Day(), s.OpenHour, s.OpenMin, 0, 0, s.Location)
	close = time.Date(d.Year(), d.Month(), d.Day(), s.CloseHour, s.CloseMin, 0, 0, s.Location)
	return open, close
}

// DateKey formats t as the YYYY-MM-DD key used throughout persistence.
func (s *Schedule) DateKey(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}
