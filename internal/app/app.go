// Package app wires storage, the engine and the sync coordinator from a workspace config.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"prosync/internal/config"
	"prosync/internal/db"
	"prosync/internal/engine"
	"prosync/internal/events"
	"prosync/internal/migrate"
	"prosync/internal/remote"
	"prosync/internal/repo"
	"prosync/internal/syncer"
)

// App is an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Store     repo.Store
	Hub       *events.Hub
	Engine    engine.Engine
	Sync      *syncer.Coordinator

	pg *remote.PGWriter
}

// Open opens the workspace database, applies pending migrations and builds the configured
// backend. A nil cfg loads the workspace config.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if cfg == nil {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := cfg.StageTable()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	hub := events.NewHub()
	var store repo.Store
	switch cfg.Backend {
	case config.BackendSQL:
		store = repo.NewSQL(conn, hub)
	default:
		store = repo.NewLocal(conn, hub)
	}

	a := &App{Workspace: workspace, Config: cfg, Store: store, Hub: hub}
	a.Engine = engine.New(store)
	a.Engine.Stages = table
	a.Sync = &syncer.Coordinator{
		Store:  store,
		Sink:   remote.DirSink{Dir: cfg.ExportPath(workspace)},
		Logger: logger,
	}
	if cfg.Sync.RemoteURL != "" {
		a.Sync.Fetcher = remote.HTTPFetcher{URL: cfg.Sync.RemoteURL}
	}
	switch cfg.Sync.Writer.Kind {
	case config.WriterHTTP:
		a.Sync.Writer = remote.HTTPWriter{URL: cfg.Sync.Writer.URL, Token: cfg.Sync.Writer.Token}
	case config.WriterPostgres:
		pg, err := remote.NewPGWriter(ctx, cfg.Sync.Writer.DSN)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("postgres writer: %w", err)
		}
		a.pg = pg
		a.Sync.Writer = pg
	}
	return a, nil
}

// AutoSync runs periodic script pushes until ctx is done when sync.auto_interval is set.
func (a *App) AutoSync(ctx context.Context) {
	d, err := a.Config.AutoInterval()
	if err != nil || d <= 0 {
		return
	}
	go a.Sync.RunAutoSync(ctx, d)
}

// Interval is the configured auto-sync period, zero when disabled.
func (a *App) Interval() time.Duration {
	d, _ := a.Config.AutoInterval()
	return d
}

func (a *App) Close() error {
	a.pg.Close()
	return a.Store.Close()
}
