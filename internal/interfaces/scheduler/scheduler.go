package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ofbconnect/internal/shared/config"
)

const (
	// dueCheckSpec is used when no schedule times are configured: connections
	// carry their own sync time, so due ones are looked up every quarter hour.
	dueCheckSpec = "*/15 * * * *"
	sweepSpec    = "@every 5m"
)

// ScheduleTime is a time of day in HH:MM.
type ScheduleTime struct {
	Hour   int
	Minute int
}

func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// CronSpec returns the daily cron expression for st.
func (st ScheduleTime) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", st.Minute, st.Hour)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Scheduler submits due connection syncs and the consent sweep to the worker
// pool on cron schedules.
type Scheduler struct {
	cron          *cron.Cron
	pool          *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   func(context.Context) ([]Job, error)
	sweep         Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler on pool. sweep may be nil.
func NewScheduler(cfg config.SchedulerConfig, pool *WorkerPool, jobProvider func(context.Context) ([]Job, error), sweep Job) (*Scheduler, error) {
	times := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, s := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", s, err)
		}
		times = append(times, st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:          cron.New(),
		pool:          pool,
		scheduleTimes: times,
		runOnStartup:  cfg.RunOnStartup,
		jobProvider:   jobProvider,
		sweep:         sweep,
		ctx:           ctx,
		cancel:        cancel,
	}

	specs := []string{dueCheckSpec}
	if len(times) > 0 {
		specs = specs[:0]
		for _, st := range times {
			specs = append(specs, st.CronSpec())
		}
	}
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, s.runJobs); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	if sweep != nil {
		if _, err := s.cron.AddFunc(sweepSpec, s.runSweep); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid sweep schedule: %w", err)
		}
	}

	log.Info().Strs("schedules", specs).Int("workers", pool.workerCount).Dur("job_delay", pool.jobDelay).Msg("Scheduler initialized")
	return s, nil
}

// Start launches the worker pool and the cron loop.
func (s *Scheduler) Start() {
	s.pool.Start()

	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs()
		}()
	}

	s.cron.Start()
	log.Info().Msg("Scheduler started")
}

// runJobs submits the provider's jobs to the pool.
func (s *Scheduler) runJobs() {
	if s.jobProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: failed to fetch jobs")
		return
	}
	if len(jobs) == 0 {
		log.Debug().Msg("Scheduler: no jobs to process")
		return
	}
	s.pool.SubmitBatch(jobs)
}

func (s *Scheduler) runSweep() {
	if err := s.pool.Submit(s.sweep); err != nil {
		log.Warn().Err(err).Msg("Scheduler: failed to submit consent sweep")
	}
}

// TriggerNow runs the job provider immediately.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJobs()
	}()
}

// Next returns the next time a cron entry fires.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if !e.Next.IsZero() && (next.IsZero() || e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) ScheduleTimes() []ScheduleTime {
	return s.scheduleTimes
}

// Shutdown stops scheduling and drains the pool within timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Info().Msg("Scheduler: initiating graceful shutdown")

	stopCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Scheduler: timeout waiting for scheduled runs to stop")
	}

	s.pool.ShutdownWithTimeout(timeout)
	log.Info().Msg("Scheduler: shutdown complete")
}
