// Package app wires the sync pipeline from a Config. Both the daemon and the
// CLI build their components here.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/auth"
	"github.com/celerix-dev/celerix-gacha/internal/config"
	"github.com/celerix-dev/celerix-gacha/internal/fetcher"
	"github.com/celerix-dev/celerix-gacha/internal/journal"
	"github.com/celerix-dev/celerix-gacha/internal/ledger"
	"github.com/celerix-dev/celerix-gacha/internal/pipeline"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
	"github.com/celerix-dev/celerix-gacha/internal/scheduler"
	"github.com/celerix-dev/celerix-gacha/internal/vault"
)

type App struct {
	Config  config.Config
	Layout  accounts.Layout
	Vault   *vault.Vault
	Ledgers *ledger.Store
	Journal *journal.Journal
	Runner  *pipeline.Runner
	Auth    *auth.Authenticator
}

// Build opens the key file and the journal and assembles the runner.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	cipher, err := vault.OpenKeyFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return nil, err
	}

	v := vault.New(cipher, logger)
	a := auth.New(v, cfg.Endpoints, remote.Options{Timeout: cfg.RequestTimeout}, logger)
	f := fetcher.New(logger, fetcher.WithPageSize(cfg.PageSize), fetcher.WithPageDelay(cfg.PageDelay))
	store := ledger.NewStore(cfg.UsersDir, logger)
	runner := pipeline.New(a, f, store, logger,
		pipeline.WithJournal(j),
		pipeline.WithVerifyAccount(cfg.VerifyAccount),
	)

	return &App{
		Config:  cfg,
		Layout:  accounts.Layout{Root: cfg.UsersDir},
		Vault:   v,
		Ledgers: store,
		Journal: j,
		Runner:  runner,
		Auth:    a,
	}, nil
}

// Scheduler returns a scheduler that syncs every account of the layout.
func (a *App) Scheduler(logger *zap.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(a.Runner, a.Layout, scheduler.Config{
		Schedule:      a.Config.Schedule,
		Concurrency:   a.Config.Concurrency,
		Attempts:      a.Config.Attempts,
		RetryInterval: a.Config.RetryInterval,
	}, logger)
}

// Close waits for background runs and closes the journal.
func (a *App) Close() error {
	a.Runner.Wait()
	return a.Journal.Close()
}
