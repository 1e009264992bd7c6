// Package scheduler runs the batch passes on cron schedules inside the
// process, for deployments without an external scheduler.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mentorship/internal/repository"
	"mentorship/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	JobSessionStatus = "session-status"
	JobRenewal       = "subscription-renewal"
	JobTrialExpiry   = "trial-expiry"
)

// Job is one named batch pass.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Schedules holds six-field cron specs (with seconds) per job.
type Schedules struct {
	SessionStatus string
	Renewal       string
	TrialExpiry   string
}

// Jobs binds the passes of the two services to their schedules.
func Jobs(sessions service.SessionService, renewals service.RenewalService, s Schedules, logger zerolog.Logger) []Job {
	return []Job{
		{
			Name: JobSessionStatus,
			Spec: s.SessionStatus,
			Run: func(ctx context.Context) error {
				res, err := sessions.RunStatusPass(ctx, repository.BookingFilter{})
				if err != nil {
					return err
				}
				logger.Info().Int("updates", len(res.Updates)).Int("failures", len(res.Failures)).Msg("[CRON] Session status pass done")
				return nil
			},
		},
		{
			Name: JobRenewal,
			Spec: s.Renewal,
			Run: func(ctx context.Context) error {
				res, err := renewals.RunRenewalPass(ctx)
				if err != nil {
					return err
				}
				for _, e := range res.Errors {
					logger.Warn().Str("user_id", e.UserID).Str("error", e.Message).Msg("[CRON] Renewal failed for user")
				}
				return nil
			},
		},
		{
			Name: JobTrialExpiry,
			Spec: s.TrialExpiry,
			Run: func(ctx context.Context) error {
				_, err := renewals.RunTrialExpiryPass(ctx)
				return err
			},
		},
	}
}

// Scheduler wraps a cron runner. Overlapping runs of the same job are
// skipped; a panic inside a job is logged and does not stop the runner.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	timeout time.Duration
	logger  zerolog.Logger
}

func New(jobs []Job, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    make(map[string]Job, len(jobs)),
		timeout: timeout,
		logger:  logger,
	}
	for _, j := range jobs {
		if j.Spec == "" {
			logger.Info().Str("job", j.Name).Msg("No schedule configured; job disabled")
			s.jobs[j.Name] = j
			continue
		}
		job := j
		if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.run(context.Background(), job) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		s.jobs[job.Name] = job
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, name := range s.Names() {
		s.logger.Info().Str("job", name).Str("spec", s.jobs[name].Spec).Msg("Cron job scheduled")
	}
}

// Stop stops scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs the named job immediately, outside the schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) run(parent context.Context, job Job) error {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.timeout)
	}
	defer cancel()

	start := time.Now()
	s.logger.Info().Str("job", job.Name).Msg("[CRON] Starting job")
	if err := job.Run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Dur("duration", time.Since(start)).Msg("[CRON] Job failed")
		return err
	}
	s.logger.Info().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("[CRON] Finished job")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
