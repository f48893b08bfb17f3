package scheduler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"svea/internal/market"
)

// Job names used in the registry.
const (
	JobScreen  = "screen"
	JobMonitor = "monitor"
	JobClose   = "close_trades"
	JobCleanup = "cleanup"
)

// Cron expressions, evaluated in the market timezone.
const (
	screenSpec  = "30 8 * * 1-5"  // 08:30, before the open
	monitorSpec = "0 9 * * 1-5"   // 09:00, session start
	closeSpec   = "0 17 * * 1-5"  // 17:00, before the close
	cleanupSpec = "30 17 * * 1-5" // 17:30, after the close
)

// monitorGrace is how far past the signal window the monitor keeps
// polling before it stops itself.
const monitorGrace = 30 * time.Minute

// Jobs are the daily operations the scheduler drives.
type Jobs interface {
	Screen(ctx context.Context, date string) error
	Monitor(ctx context.Context, until time.Time) error
	CloseTrades(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// JobStatus reports one scheduled job's timing.
type JobStatus struct {
	Name    string    `json:"name"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
	NextRun time.Time `json:"next_run"`
}

// Scheduler drives the daily pipeline on market-timezone cron entries.
type Scheduler struct {
	cron     *cron.Cron
	jobs     Jobs
	schedule *market.Schedule
	clock    market.Clock
	log      *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	last    map[string]time.Time
	lastErr map[string]error
}

// New creates a scheduler. A nil clock defaults to time.Now.
func New(jobs Jobs, schedule *market.Schedule, clock market.Clock, log *zap.SugaredLogger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(schedule.Location)),
		jobs:     jobs,
		schedule: schedule,
		clock:    clock,
		log:      log,
		entries:  make(map[string]cron.EntryID),
		last:     make(map[string]time.Time),
		lastErr:  make(map[string]error),
	}
}

// Start registers the cron entries, runs catch-up for anything already
// missed today, and starts the cron loop. Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	register := func(name, spec string, fn func()) error {
		id, err := s.cron.AddFunc(spec, fn)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
		return nil
	}

	specs := []struct {
		name string
		spec string
		fn   func()
	}{
		{JobScreen, screenSpec, func() { s.runScreen(ctx) }},
		{JobMonitor, monitorSpec, func() { s.runMonitor(ctx) }},
		{JobClose, closeSpec, func() { s.runClose(ctx) }},
		{JobCleanup, cleanupSpec, func() { s.runCleanup(ctx) }},
	}
	for _, j := range specs {
		if err := register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}

	s.catchUp(ctx)

	s.cron.Start()
	s.log.Infow("scheduler started", "jobs", len(specs))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// catchUp runs jobs whose slot has already passed today. Starting the
// process at 09:30 must still screen and begin monitoring.
func (s *Scheduler) catchUp(ctx context.Context) {
	now := s.clock().In(s.schedule.Location)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return
	}

	minutes := now.Hour()*60 + now.Minute()
	windowEnd := s.schedule.SignalEndHour*60 + s.schedule.SignalEndMin
	closeMin := s.schedule.CloseHour*60 + s.schedule.CloseMin

	if minutes >= specMinuteOfDay(screenSpec) && minutes < closeMin {
		s.log.Infow("catch-up: running screen")
		s.runScreen(ctx)
	}
	if minutes >= specMinuteOfDay(monitorSpec) && minutes <= windowEnd+int(monitorGrace.Minutes()) {
		s.log.Infow("catch-up: starting monitor")
		go s.runMonitor(ctx)
	}
	if minutes >= specMinuteOfDay(closeSpec) {
		s.log.Infow("catch-up: closing open trades")
		s.runClose(ctx)
	}
}

// specMinuteOfDay extracts the minute of day a daily "M H * * ..." cron
// expression fires at, so catch-up thresholds track the registered specs.
func specMinuteOfDay(spec string) int {
	fields := strings.Fields(spec)
	if len(fields) < 2 {
		return 0
	}
	m, errM := strconv.Atoi(fields[0])
	h, errH := strconv.Atoi(fields[1])
	if errM != nil || errH != nil {
		return 0
	}
	return h*60 + m
}

func (s *Scheduler) runScreen(ctx context.Context) {
	date := s.schedule.DateKey(s.clock())
	s.record(JobScreen, s.jobs.Screen(ctx, date))
}

func (s *Scheduler) runMonitor(ctx context.Context) {
	now := s.clock().In(s.schedule.Location)
	until := time.Date(now.Year(), now.Month(), now.Day(),
		s.schedule.SignalEndHour, s.schedule.SignalEndMin, 0, 0, s.schedule.Location).
		Add(monitorGrace)
	s.record(JobMonitor, s.jobs.Monitor(ctx, until))
}

func (s *Scheduler) runClose(ctx context.Context) {
	s.record(JobClose, s.jobs.CloseTrades(ctx))
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.record(JobCleanup, s.jobs.Cleanup(ctx))
}

func (s *Scheduler) record(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[name] = s.clock()
	s.lastErr[name] = err
	if err != nil && err != context.Canceled {
		s.log.Errorw("job failed", "job", name, "error", err)
	}
}

// Status returns the timing of every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, name := range []string{JobScreen, JobMonitor, JobClose, JobCleanup} {
		id, ok := s.entries[name]
		if !ok {
			continue
		}
		st := JobStatus{Name: name, LastRun: s.last[name]}
		if err := s.lastErr[name]; err != nil {
			st.LastErr = err.Error()
		}
		if entry := s.cron.Entry(id); entry.Valid() {
			st.NextRun = entry.Next
		}
		statuses = append(statuses, st)
	}
	return statuses
}
