// Package scheduler runs periodic jobs on a cron schedule. Each run takes a
// distributed lock first, so with several replicas a job runs once per tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("job not found")

type Job interface {
	Name() string
	// Schedule is a cron expression; empty means on-demand only.
	Schedule() string
	Execute(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	log     *zap.Logger
	lockTTL time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

// NewScheduler builds a stopped scheduler. lockTTL bounds both the lock and
// the context a single run gets.
func NewScheduler(locker Locker, log *zap.Logger, lockTTL time.Duration) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	logger := cronLogger{log: log.Sugar()}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		locker:  locker,
		log:     log,
		lockTTL: lockTTL,
		jobs:    make(map[string]Job),
	}
}

func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	if schedule := job.Schedule(); schedule != "" {
		if _, err := s.cron.AddFunc(schedule, func() {
			if _, err := s.Run(context.Background(), job); err != nil {
				s.log.Error("scheduled job failed", zap.String("job", job.Name()), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule job %s: %w", job.Name(), err)
		}
		s.log.Info("job scheduled", zap.String("job", job.Name()), zap.String("schedule", schedule))
	}

	s.jobs[job.Name()] = job
	return nil
}

// Run executes job once under its lock. It reports false when another
// holder had the lock and the run was skipped.
func (s *Scheduler) Run(ctx context.Context, job Job) (bool, error) {
	release, ok, err := s.locker.Acquire(ctx, job.Name(), s.lockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug("job locked elsewhere, skipping", zap.String("job", job.Name()))
		return false, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()

	start := time.Now()
	if err := job.Execute(ctx); err != nil {
		return true, err
	}
	s.log.Info("job completed", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
	return true, nil
}

func (s *Scheduler) RunByName(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}
	return s.Run(ctx, job)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts the cron loop and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
	s.log.Info("scheduler stopped")
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
