// Package server initializes and runs the mediavault server.
// It opens the database, wires the storage registry, the upload session
// manager and the transcode orchestrator, and runs the worker callback
// endpoint and the maintenance scheduler until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/callbacks"
	"github.com/dmitrijs2005/mediavault/internal/server/config"
	"github.com/dmitrijs2005/mediavault/internal/server/events"
	"github.com/dmitrijs2005/mediavault/internal/server/jobqueue"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/scheduler"
	"github.com/dmitrijs2005/mediavault/internal/server/services"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/kinds"
	"github.com/dmitrijs2005/mediavault/internal/server/transcode"
	"github.com/dmitrijs2005/mediavault/internal/server/vault"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	bus          *events.Bus
	registry     *services.Registry
	selector     *services.Selector
	sessions     *services.SessionManager
	images       *services.ImageService
	orchestrator *services.Orchestrator
	refresher    *services.TokenRefresher
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	v, err := vault.New(c.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	codecs, err := transcode.ParseMask(c.EnabledCodecs)
	if err != nil {
		return nil, err
	}
	profiles, err := transcode.LoadProfiles(c.TranscodeProfilesPath)
	if err != nil {
		return nil, err
	}

	opener := kinds.NewOpener(v, storage.Deps{
		HTTP:     &http.Client{Timeout: c.HTTPClientTimeout},
		Log:      logger,
		Retry:    storage.RetryPolicy{Attempts: c.RetryAttempts, Delay: c.RetryDelay},
		LeadTime: c.TokenRefreshLeadTime,
	})

	bus := events.NewBus()
	bus.Subscribe(events.LogSubscriber(logger))

	cache := services.NewRoleCache(c.RoleCacheTTL)
	registry := services.NewRegistry(db, rm, v, opener, cache, bus, c.MaxBackends, logger)
	opener.SetSaver(registry)

	selector := services.NewSelector(db, rm, opener, cache)
	orchestrator := services.NewOrchestrator(db, rm, jobqueue.NewPostgresQueue(), opener, bus,
		transcode.Settings{Codecs: codecs, Profiles: profiles}, []byte(c.SecretKey), c.JobTokenValidityDuration, logger)

	return &App{
		config:       c,
		logger:       logger,
		db:           db,
		bus:          bus,
		registry:     registry,
		selector:     selector,
		orchestrator: orchestrator,
		sessions:     services.NewSessionManager(db, rm, selector, opener, orchestrator, c.SessionTTL, logger),
		images:       services.NewImageService(db, rm, selector, logger),
		refresher:    services.NewTokenRefresher(db, rm, opener, c.TokenRefreshLeadTime, logger),
	}, nil
}

func (app *App) Registry() *services.Registry { return app.registry }
func (app *App) Sessions() *services.SessionManager { return app.sessions }
func (app *App) Images() *services.ImageService { return app.images }
func (app *App) Orchestrator() *services.Orchestrator { return app.orchestrator }
func (app *App) Events() *events.Bus { return app.bus }
func (app *App) Close() error { return app.db.Close() }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startCallbackServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := callbacks.NewServer(app.config.EndpointAddrHTTP, app.logger, app.orchestrator, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startScheduler(ctx context.Context, cancelFunc context.CancelFunc) {
	s := scheduler.New(app.logger,
		scheduler.Task{Name: "token-refresh", Spec: app.config.TokenRefreshSchedule, Run: app.refresher.RefreshExpiring},
		scheduler.Task{Name: "session-sweep", Spec: app.config.SessionSweepSchedule, Run: app.sessions.Sweep},
	)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startCallbackServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startScheduler(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
