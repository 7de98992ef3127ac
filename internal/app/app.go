// Package app provides the main application structure for sweepbot.
// It coordinates all components: the Telegram connector, the cleanup
// scheduler, the backup worker, the config watcher and the metrics endpoint.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/channels/telegram"
	"github.com/aatumaykin/sweepbot/internal/cleanup"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/history"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/metrics"
	"github.com/aatumaykin/sweepbot/internal/onedrive"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "sweepbot"

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	store  *config.Store
	logger *logger.Logger

	// Injected dependencies, nil means "build the real one"
	bot        telegram.BotInterface
	httpClient *http.Client
	prompt     func(onedrive.DeviceCode)

	// Shared state
	metrics  *metrics.Metrics
	index    *history.Index
	queue    *backup.Queue
	registry *cancellation.Registry

	// Channels
	telegram *telegram.Connector

	// Cleanup pipeline
	task        *cleanup.Task
	schedulerMu sync.Mutex
	scheduler   *cleanup.Scheduler

	// Backup uploads, nil without OneDrive
	worker *backup.Worker

	// Context management
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup

	// Thread-safety
	mu      sync.Mutex
	started bool
}

// Option customises an App.
type Option func(*App)

// WithBot uses bot instead of connecting with the configured token.
func WithBot(bot telegram.BotInterface) Option {
	return func(a *App) { a.bot = bot }
}

// WithHTTPClient sets the client used for downloads, Graph and OAuth calls.
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) { a.httpClient = client }
}

// WithDevicePrompt sets how the OneDrive device code is shown to the operator.
func WithDevicePrompt(prompt func(onedrive.DeviceCode)) Option {
	return func(a *App) { a.prompt = prompt }
}

// New creates a new App instance. Components are created in Initialize.
func New(store *config.Store, log *logger.Logger, opts ...Option) *App {
	a := &App{
		store:  store,
		logger: log,
		prompt: func(dc onedrive.DeviceCode) {
			log.Warn("open the verification page and enter the code to authorize OneDrive",
				logger.Field{Key: "verification_uri", Value: dc.VerificationURI},
				logger.Field{Key: "user_code", Value: dc.UserCode},
				logger.Field{Key: "expires_at", Value: dc.ExpiresAt})
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until the context is cancelled.
// It performs the following steps:
//  1. Initializes all components via Initialize()
//  2. Waits for the context to be cancelled
//  3. Performs graceful shutdown via Shutdown()
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	a.logger.Info("Application is running",
		logger.Field{Key: "channels", Value: len(a.store.EnabledChannels())},
		logger.Field{Key: "backup_uploads", Value: a.worker != nil})

	<-ctx.Done()

	return a.Shutdown()
}

// Registry returns the cancellation registry of running cleanup tasks.
func (a *App) Registry() *cancellation.Registry {
	return a.registry
}
