// Package scheduler periodically syncs every discovered account.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// DefaultSchedule runs daily at 04:30:00. Expressions have six fields, the
// first being seconds.
const DefaultSchedule = "0 30 4 * * *"

const jobName = "sync_all_accounts"

type Runner interface {
	Run(ctx context.Context, configPath, userID string) (schema.Metadata, error)
}

type Discoverer interface {
	Discover() ([]accounts.Account, error)
}

// Config tunes a pass. Concurrency is the number of accounts synced in
// parallel; Attempts is the number of whole-run tries per account, 1 meaning
// no retry.
type Config struct {
	Schedule      string
	Concurrency   int
	Attempts      int
	RetryInterval time.Duration
}

// Summary counts the outcome of one pass over all accounts.
type Summary struct {
	Accounts  int `json:"accounts"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Scheduler struct {
	cron     gocron.Scheduler
	job      gocron.Job
	runner   Runner
	discover Discoverer
	cfg      Config
	logger   *zap.Logger
}

// New registers the sync job. An unparsable schedule falls back to
// DefaultSchedule.
func New(runner Runner, discover Discoverer, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{
		cron:     cron,
		runner:   runner,
		discover: discover,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
	}

	s.job, err = s.newJob(cfg.Schedule)
	if err != nil && cfg.Schedule != DefaultSchedule {
		s.logger.Warn("invalid schedule, using default",
			zap.String("schedule", cfg.Schedule),
			zap.String("default", DefaultSchedule),
			zap.Error(err),
		)
		s.cfg.Schedule = DefaultSchedule
		s.job, err = s.newJob(DefaultSchedule)
	}
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("failed to create job %s: %w", jobName, err)
	}
	return s, nil
}

func (s *Scheduler) newJob(expr string) (gocron.Job, error) {
	return s.cron.NewJob(
		gocron.CronJob(expr, true),
		gocron.NewTask(s.task),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}

// Schedule returns the cron expression in effect.
func (s *Scheduler) Schedule() string {
	return s.cfg.Schedule
}

// NextRun returns when the job fires next. It is only meaningful after Start.
func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

func (s *Scheduler) Start() {
	s.cron.Start()
	next, _ := s.job.NextRun()
	s.logger.Info("scheduler started", zap.String("schedule", s.cfg.Schedule), zap.Time("next_run", next))
}

// Shutdown stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

func (s *Scheduler) task(ctx context.Context) {
	if _, err := s.RunAll(ctx); err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

// RunAll syncs every discovered account. Per-account failures are counted,
// not returned; only a discovery failure is an error.
func (s *Scheduler) RunAll(ctx context.Context) (Summary, error) {
	accts, err := s.discover.Discover()
	if err != nil {
		return Summary{}, fmt.Errorf("discover accounts: %w", err)
	}
	if len(accts) == 0 {
		s.logger.Info("no accounts configured, nothing to sync")
		return Summary{}, nil
	}
	s.logger.Info("sync pass started", zap.Int("accounts", len(accts)))

	results := make([]bool, len(accts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, a := range accts {
		g.Go(func() error {
			results[i] = s.syncOne(gctx, a)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Accounts: len(accts)}
	for _, ok := range results {
		if ok {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	s.logger.Info("sync pass finished", zap.Int("succeeded", sum.Succeeded), zap.Int("failed", sum.Failed))
	return sum, nil
}

func (s *Scheduler) syncOne(ctx context.Context, a accounts.Account) bool {
	log := s.logger.With(zap.String("account", a.Key()))

	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryInterval > 0 {
		b.InitialInterval = s.cfg.RetryInterval
	}
	_, err := backoff.Retry(ctx, func() (schema.Metadata, error) {
		meta, err := s.runner.Run(ctx, a.ConfigPath, a.User)
		if err != nil && !retryable(err) {
			return meta, backoff.Permanent(err)
		}
		return meta, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("sync attempt failed, retrying", zap.Duration("in", next), zap.Error(err))
		}),
	)
	if err != nil {
		log.Error("account sync failed", zap.Error(err))
		return false
	}
	return true
}

// Credential, account binding and storage problems do not fix themselves
// between attempts.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errs.ErrCredential),
		errors.Is(err, errs.ErrNoAccountBound),
		errors.Is(err, errs.ErrStorage),
		errors.Is(err, errs.ErrInvalidName):
		return false
	}
	return true
}
