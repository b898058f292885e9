// Package server wires the Circle server together: PostgreSQL storage with
// migrations, the account, messaging and vault services, the websocket
// relay and the HTTP API. It runs until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/server/config"
	"github.com/dmitrijs2005/circle/internal/server/httpapi"
	"github.com/dmitrijs2005/circle/internal/server/realtime"
	"github.com/dmitrijs2005/circle/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/circle/internal/server/services"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config           *config.Config
	logger           logging.Logger
	db               *sql.DB
	userService      *services.UserService
	messagingService *services.MessagingService
	vaultService     *services.VaultService
	cleanupService   *services.CleanupService
	hub              *realtime.Hub
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	us := services.NewUserService(db, rm, c)
	ms := services.NewMessagingService(db, rm)
	vs := services.NewVaultService(db, rm, c, logger)
	cs := services.NewCleanupService(db, rm, c, logger)
	hub := realtime.NewHub(us, ms, logger, realtime.DefaultConfig())

	return &App{
		config:           c,
		logger:           logger,
		db:               db,
		userService:      us,
		messagingService: ms,
		vaultService:     vs,
		cleanupService:   cs,
		hub:              hub,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.HTTPAddr, app.logger, app.userService, app.messagingService, app.vaultService, httpapi.Options{
		Realtime:      app.hub,
		Health:        app.db,
		MaxUploadSize: app.config.MaxFileSize,
	})

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

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.cleanupService.Run(ctx, app.config.CleanupInterval)
		}()
	}

	<-ctx.Done()
	app.hub.Close()
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.Background(), "db close", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
