// Package app wires config, logging, the database and the engine for the ml
// commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/logging"
	"missionline/internal/migrate"
	"missionline/internal/redisslot"
	"missionline/internal/repo"
	"missionline/internal/wizard"
)

const redisConnectAttempts = 3

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *zap.Logger

	closers []func() error
}

// Open loads the workspace config (defaults when missing), opens and
// migrates the database and builds the engine. A nil logger is built from
// the log section of the config.
func Open(ctx context.Context, workspace string, logger *zap.Logger) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logger == nil {
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	a := &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Logger:    logger,
		closers:   []func() error{conn.Close},
	}
	if err := migrate.Migrate(conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.Engine, err = engine.New(conn, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases everything Open and WizardStore acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// WizardStore builds the configured wizard slot backend. With persistent
// set, the memory backend is replaced by sqlite so state survives the
// process.
func (a *App) WizardStore(ctx context.Context, persistent bool) (wizard.Store, error) {
	switch a.Config.Wizard.Store {
	case config.StoreRedis:
		opts := redisslot.Options{
			Addr:     a.Config.Wizard.Redis.Addr,
			Password: a.Config.Wizard.Redis.Password,
			DB:       a.Config.Wizard.Redis.DB,
			TTL:      time.Duration(a.Config.Wizard.Redis.TTLSeconds) * time.Second,
		}
		client, err := redisslot.Connect(ctx, opts, redisConnectAttempts, a.Logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return redisslot.New(client, opts.TTL), nil
	case config.StoreSQLite:
		return repo.WizardSlots{DB: a.DB, Now: a.Engine.Now}, nil
	default:
		if persistent {
			return repo.WizardSlots{DB: a.DB, Now: a.Engine.Now}, nil
		}
		return wizard.NewMemoryStore(), nil
	}
}

// Sessions returns a session manager over the configured store.
func (a *App) Sessions(ctx context.Context, persistent bool) (*wizard.Manager, error) {
	store, err := a.WizardStore(ctx, persistent)
	if err != nil {
		return nil, err
	}
	return wizard.NewManager(store, a.Engine.NewWizard, a.Logger.Named("wizard")), nil
}
