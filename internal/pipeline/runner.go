// Package pipeline runs one account sync end to end: authenticate, fetch
// every record, merge into the ledger. Runs for the same account never
// overlap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/auth"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/fetcher"
	"github.com/celerix-dev/celerix-gacha/internal/journal"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// Stages reported in the journal and in logs.
const (
	StageCredentials = "credentials"
	StageAuth        = "auth"
	StageVerify      = "verify"
	StageFetch       = "fetch"
	StageStore       = "store"
)

type Authenticator interface {
	Authenticate(ctx context.Context, configPath string) (*auth.Result, error)
	VerifyAccount(ctx context.Context, res *auth.Result) error
}

type Fetcher interface {
	FetchAll(ctx context.Context, s fetcher.Session, gameUID string) ([]model.RawDraw, error)
}

type LedgerStore interface {
	Save(user, gameUID string, draws []model.RawDraw) (schema.Metadata, error)
}

type Journal interface {
	Record(ctx context.Context, run journal.Run) (journal.Run, error)
}

// StageError tags a run failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Runner owns the per-account lock registry.
type Runner struct {
	auth    Authenticator
	fetch   Fetcher
	store   LedgerStore
	journal Journal
	verify  bool

	locks  *KeyedMutex
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

type Option func(*Runner)

// WithJournal records every run outcome in j.
func WithJournal(j Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithVerifyAccount re-checks the resolved account with the device token
// before fetching.
func WithVerifyAccount(on bool) Option {
	return func(r *Runner) { r.verify = on }
}

func New(a Authenticator, f Fetcher, s LedgerStore, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		auth:   a,
		fetch:  f,
		store:  s,
		locks:  NewKeyedMutex(),
		logger: logger.Named("pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LockKey identifies the account a config file belongs to.
func LockKey(configPath, userID string) string {
	return accounts.ResolveUser(userID) + "/" + accountName(configPath)
}

func accountName(configPath string) string {
	return filepath.Base(filepath.Dir(configPath))
}

// Run syncs the account configured at configPath for userID, waiting for any
// run of the same account to finish first. The ledger is written only after
// every record has been fetched.
func (r *Runner) Run(ctx context.Context, configPath, userID string) (schema.Metadata, error) {
	unlock := r.locks.Lock(LockKey(configPath, userID))
	defer unlock()
	return r.run(ctx, configPath, userID)
}

// RunSync is Run reduced to success or failure. The reason for a failure is
// only logged.
func (r *Runner) RunSync(ctx context.Context, configPath, userID string) bool {
	_, err := r.Run(ctx, configPath, userID)
	return err == nil
}

// Start launches a run in the background and returns immediately. It fails
// with errs.ErrSyncInProgress if the account is already syncing. The run
// outlives ctx's cancellation; use Wait to drain it.
func (r *Runner) Start(ctx context.Context, configPath, userID string) error {
	unlock, ok := r.locks.TryLock(LockKey(configPath, userID))
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrSyncInProgress, LockKey(configPath, userID))
	}

	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unlock()
		_, _ = r.run(ctx, configPath, userID)
	}()
	return nil
}

// Wait blocks until every run launched by Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, configPath, userID string) (schema.Metadata, error) {
	user := accounts.ResolveUser(userID)
	entry := journal.Run{
		User:      user,
		Account:   accountName(configPath),
		StartedAt: r.now(),
	}
	log := r.logger.With(zap.String("user", user), zap.String("account", entry.Account))
	log.Info("sync started")

	meta, err := r.stages(ctx, configPath, user, &entry)
	if entry.GameUID != "" && entry.GameUID != entry.Account {
		// The ledger lives under the game UID, not under the config's directory.
		log.Warn("account directory does not match game uid", zap.String("game_uid", entry.GameUID))
	}

	entry.FinishedAt = r.now()
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			entry.Stage = se.Stage
		}
		entry.Outcome = journal.OutcomeFailure
		entry.Error = err.Error()
		fields := []zap.Field{zap.String("stage", entry.Stage), zap.Error(err)}
		if state, ok := auth.FailedState(err); ok {
			fields = append(fields, zap.Stringer("auth_state", state))
		}
		log.Error("sync failed", fields...)
	} else {
		entry.Outcome = journal.OutcomeSuccess
		entry.RecordCount = meta.RecordCount
		log.Info("sync finished",
			zap.String("game_uid", entry.GameUID),
			zap.Int("events", meta.RecordCount),
			zap.Duration("took", entry.FinishedAt.Sub(entry.StartedAt)),
		)
	}

	if r.journal != nil {
		if _, jerr := r.journal.Record(ctx, entry); jerr != nil {
			log.Warn("journal write failed", zap.Error(jerr))
		}
	}
	return meta, err
}

func (r *Runner) stages(ctx context.Context, configPath, user string, entry *journal.Run) (schema.Metadata, error) {
	res, err := r.auth.Authenticate(ctx, configPath)
	if err != nil {
		stage := StageAuth
		if errors.Is(err, errs.ErrCredential) {
			stage = StageCredentials
		}
		return schema.Metadata{}, &StageError{Stage: stage, Err: err}
	}
	entry.GameUID = res.GameUID()

	if r.verify {
		if err := r.auth.VerifyAccount(ctx, res); err != nil {
			return schema.Metadata{}, &StageError{Stage: StageVerify, Err: err}
		}
	}

	draws, err := r.fetch.FetchAll(ctx, res.Session, res.GameUID())
	if err != nil {
		return schema.Metadata{}, &StageError{Stage: StageFetch, Err: err}
	}

	meta, err := r.store.Save(user, res.GameUID(), draws)
	if err != nil {
		return schema.Metadata{}, &StageError{Stage: StageStore, Err: err}
	}
	return meta, nil
}
