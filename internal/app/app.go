// Package app wires the lifetracker components together and manages
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/lifetracker/internal/analysis"
	"github.com/edgard/lifetracker/internal/app/tasks"
	"github.com/edgard/lifetracker/internal/botapi"
	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/contacts"
	"github.com/edgard/lifetracker/internal/database"
	"github.com/edgard/lifetracker/internal/logger"
	"github.com/edgard/lifetracker/internal/realtime"
	"github.com/edgard/lifetracker/internal/server"
	"github.com/edgard/lifetracker/internal/telegram"
	"github.com/edgard/lifetracker/internal/telegram/handlers"
)

// App holds the components shared by every command.
type App struct {
	cfg *config.Config
	log *slog.Logger
	db  *sqlx.DB

	Store       database.Store
	Broadcaster *realtime.Broadcaster
	Client      *botapi.Client
	Importer    *contacts.Importer
}

// New opens the database, makes sure the configured contacts relation
// exists and builds the shared components.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}

	broadcaster := realtime.NewBroadcaster(realtime.DefaultBuffer, log)
	store := database.NewStore(db, log, database.WithPublisher(broadcaster))
	if err := store.EnsureContactsTable(ctx, cfg.Contacts.Table); err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to prepare contacts table: %w", err)
	}

	return &App{
		cfg:         cfg,
		log:         log,
		db:          db,
		Store:       store,
		Broadcaster: broadcaster,
		Client:      botapi.NewClient(cfg.Dialogs, cfg.History, nil, log),
		Importer:    contacts.NewImporter(store, log, contacts.WithBatchSize(cfg.Contacts.BatchSize)),
	}, nil
}

// Close releases the database and ends all change subscriptions.
func (a *App) Close() {
	a.Broadcaster.Close()
	database.CloseDB(a.db)
}

// ImportContacts fetches the dialog list and imports it into table.
func (a *App) ImportContacts(ctx context.Context, table string) (*contacts.ImportResult, error) {
	dialogs, err := a.Client.FetchDialogs(ctx)
	if err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "Fetched dialogs", "count", len(dialogs))
	return a.Importer.Import(ctx, dialogs, table)
}

// NewAnalyzer builds the configured analysis backend and an Analyzer on top of it.
func (a *App) NewAnalyzer(ctx context.Context, opts ...contacts.AnalyzerOption) (*contacts.Analyzer, analysis.Service, error) {
	svc, err := analysis.New(ctx, a.cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	base := []contacts.AnalyzerOption{
		contacts.WithTimeout(a.cfg.Analysis.Timeout),
		contacts.WithPolicy(contacts.Policy(a.cfg.Analysis.ConcurrencyPolicy)),
	}
	analyzer := contacts.NewAnalyzer(a.Client, svc, a.Store, a.cfg.Contacts.Table, a.log, append(base, opts...)...)
	return analyzer, svc, nil
}

// Serve runs the HTTP server, the scheduler and, when configured, the
// Telegram bot with its notifier until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	analyzer, svc, err := a.NewAnalyzer(ctx)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:            a.cfg.Server.Addr,
		AllowAllOrigins: a.cfg.Server.AllowAllOrigins,
		RequestTimeout:  a.cfg.Server.RequestTimeout,
	}, server.Deps{
		Store:     a.Store,
		Table:     a.cfg.Contacts.Table,
		Analyzer:  analyzer,
		Importer:  a.Importer,
		Dialogs:   a.Client,
		History:   a.Client,
		Analysis:  svc,
		Websocket: realtime.NewWebsocketHandler(a.Broadcaster, a.cfg.Contacts.Table, a.cfg.Server.AllowAllOrigins, a.log),
	}, a.log)

	sched, err := NewScheduler(a.log, &a.cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   a.log,
		Store:    a.Store,
		Importer: a,
		Config:   a.cfg,
	}))
	if err != nil {
		return err
	}

	var tg *tgbot.Bot
	if a.cfg.Telegram.Enabled() {
		tg, err = a.newTelegramBot(ctx, analyzer)
		if err != nil {
			return err
		}
	} else {
		a.log.Info("Telegram token not set, bot disabled")
	}

	log := a.log.With("component", "orchestrator")
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx)
	})

	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		if err := sched.Stop(); err != nil {
			log.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if tg != nil {
		g.Go(func() error {
			log.Info("Starting Telegram bot listener")
			tg.Start(gCtx)
			if gCtx.Err() == nil {
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})

		notifier := telegram.NewNotifier(tg, a.Broadcaster, a.cfg.Contacts.Table, a.cfg.Telegram.NotifyChatID(), a.log)
		g.Go(func() error {
			return notifier.Run(gCtx)
		})
	}

	log.Info("Running, waiting for shutdown signal or error")
	err = g.Wait()
	log.Info("Waiting for in-flight analyses")
	analyzer.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Stopped due to error", "error", err)
		return err
	}
	log.Info("Stopped gracefully")
	return nil
}

func (a *App) newTelegramBot(ctx context.Context, analyzer *contacts.Analyzer) (*tgbot.Bot, error) {
	tg, err := telegram.NewTelegramBot(a.cfg.Telegram.Token, a.log,
		tgbot.WithMiddlewares(logger.BotMiddleware(a.log)),
	)
	if err != nil {
		return nil, err
	}

	deps := handlers.HandlerDeps{
		Logger:   a.log,
		Config:   a.cfg,
		Store:    a.Store,
		Analyzer: analyzer,
	}
	if err := telegram.RegisterHandlers(tg, a.log, handlers.RegisterAllCommands(deps)); err != nil {
		return nil, err
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	a.log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)
	return tg, nil
}
