// Package scheduler runs periodic maintenance jobs for SupportPipe.
//
// Jobs, such as refreshing the Excel reports, are registered with cron expressions
// or descriptors like "@hourly".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work. The context is canceled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates and starts a cron scheduler. Jobs receive a context derived
// from ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	// Standard 5-field cron (min, hour, dom, month, dow) plus @descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	jobCtx, cancel := context.WithCancel(ctx)
	c.Start()
	return &Scheduler{cron: c, ctx: jobCtx, cancel: cancel}
}

// AddJob schedules job under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			slog.Error("Scheduler.run: job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler.run: job finished", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

// Stop stops the cron scheduler, cancels running jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}
