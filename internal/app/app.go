package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/handlers"
	"github.com/hereiam510/MyAPI/internal/interfaces"
	"github.com/hereiam510/MyAPI/internal/services/automator"
	"github.com/hereiam510/MyAPI/internal/services/events"
	"github.com/hereiam510/MyAPI/internal/services/notifier"
	"github.com/hereiam510/MyAPI/internal/services/proxy"
	"github.com/hereiam510/MyAPI/internal/services/refresher"
	"github.com/hereiam510/MyAPI/internal/services/tokens"
	badgerstorage "github.com/hereiam510/MyAPI/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB        *badgerstorage.BadgerDB
	KVStorage interfaces.KeyValueStorage

	// Core services
	EventService   interfaces.EventService
	TokenService   interfaces.TokenService
	Notifier       interfaces.Notifier
	Automator      interfaces.TokenAcquirer
	RefreshService interfaces.RefreshService
	ProxyService   *proxy.Service

	// HTTP handlers
	APIHandler   *handlers.APIHandler
	ChatHandler  *handlers.ChatHandler
	AdminHandler *handlers.AdminHandler
	WSHandler    *handlers.WebSocketHandler

	refreshCancel context.CancelFunc
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage layer
	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.DB = db
	app.KVStorage = badgerstorage.NewKVStorage(db, logger)
	logger.Debug().
		Str("storage", "badger").
		Str("path", cfg.Storage.Path).
		Msg("Storage layer initialized")

	// Event bus first so every service can publish during startup
	app.EventService = events.NewService(logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, logger)

	// Token state (loads any persisted token so the proxy can serve now)
	app.TokenService = tokens.NewService(app.KVStorage, app.EventService, logger)

	// MFA notifier and pause alerts
	app.Notifier = notifier.NewService(&cfg.Mail, cfg.Browser.MFAWindow.Std(), app.EventService, logger)
	if !app.Notifier.IsConfigured() {
		logger.Warn().Msg("SMTP not configured, MFA challenges cannot reach the operator")
	}

	// Browser automation and the refresh loop around it
	app.Automator = automator.NewService(cfg, app.Notifier, logger)
	app.RefreshService = refresher.NewService(
		&cfg.Refresh,
		app.TokenService,
		app.Automator,
		app.Notifier,
		app.EventService,
		logger,
	)

	// Proxy and remaining handlers
	app.ProxyService = proxy.NewService(&cfg.Upstream, app.TokenService, logger)
	app.APIHandler = handlers.NewAPIHandler()
	app.ChatHandler = handlers.NewChatHandler(app.ProxyService, logger)
	app.AdminHandler = handlers.NewAdminHandler(&cfg.Admin, app.TokenService, app.RefreshService, logger)

	logger.Info().
		Bool("has_persisted_token", app.TokenService.HasToken()).
		Str("upstream", cfg.Upstream.BaseURL).
		Msg("Application initialization complete")

	return app, nil
}

// StartRefresher launches the background refresh loop.
func (a *App) StartRefresher() {
	ctx, cancel := context.WithCancel(context.Background())
	a.refreshCancel = cancel
	go a.RefreshService.Run(ctx)
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	if a.refreshCancel != nil {
		a.refreshCancel()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}
