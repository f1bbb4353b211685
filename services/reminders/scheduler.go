package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultJobTimeout = 5 * time.Minute

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron specs in the canteen time zone.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timeout time.Duration
	log     zerolog.Logger
}

// NewScheduler returns a stopped scheduler. Each run gets a fresh background
// context bounded by timeout.
func NewScheduler(loc *time.Location, timeout time.Duration, log zerolog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	log = log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{log}))),
		entries: make(map[string]cron.EntryID),
		timeout: timeout,
		log:     log,
	}
}

// Add schedules job under name. Specs use the standard five fields.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

// Next returns when the named job fires after t. It is zero for unknown jobs.
func (s *Scheduler) Next(name string, t time.Time) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Schedule.Next(t)
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.entries)).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stopped with jobs still running")
	}
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		return
	}
	s.log.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("scheduled job done")
}

// Schedule registers the daily reminder and the expiry sweep.
func Schedule(s *Scheduler, svc *Service, sweep Job, reminderSpec, sweepSpec string) error {
	if err := s.Add("daily-reminder", reminderSpec, func(ctx context.Context) error {
		_, err := svc.DailyReminder(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.Add("token-sweep", sweepSpec, sweep)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}
