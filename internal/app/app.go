// Package app builds the credsync object graph and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/handlers"
	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/services/authmethods"
	"github.com/ternarybob/credsync/internal/services/capture"
	"github.com/ternarybob/credsync/internal/services/classifier"
	"github.com/ternarybob/credsync/internal/services/credentials"
	"github.com/ternarybob/credsync/internal/services/events"
	"github.com/ternarybob/credsync/internal/services/links"
	"github.com/ternarybob/credsync/internal/services/reconcile"
	"github.com/ternarybob/credsync/internal/services/scheduler"
	"github.com/ternarybob/credsync/internal/storage"
)

// Scheduled job names
const (
	JobSweep       = "sweep"
	JobCapturePoll = "capture_poll"
	JobEvict       = "evict_cookies"
	JobAutoSync    = "auto_sync"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	Classifier       *classifier.Classifier
	CredentialStore  *credentials.Store
	LinkStore        *links.Store
	BackendClient    *authmethods.Client
	Profiles         *authmethods.SessionProfile
	Engine           *reconcile.Engine
	SchedulerService *scheduler.Service

	// Capture surface, nil unless capture is enabled
	ChromeHost   *capture.ChromeHost
	CaptureAgent *capture.Agent

	MessageHandler *handlers.MessageHandler
	WSHandler      *handlers.WebSocketHandler
	StatusHandler  *handlers.StatusHandler
}

// New initializes storage, services and handlers. Nothing runs in the
// background until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Debug().Str("profile_fallback", cfg.Profile.ID).Msg("Application initialized")
	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config
	kv := a.StorageManager.KeyValueStorage()
	descriptors := cfg.PlatformDescriptors()

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	a.Classifier = classifier.New(descriptors)
	a.CredentialStore = credentials.NewStore(kv, descriptors, a.Logger)
	a.LinkStore = links.NewStore(kv, a.Logger)

	client, err := authmethods.NewClient(cfg.Backend.BaseURL,
		authmethods.WithTimeout(common.Duration(cfg.Backend.Timeout, 30*time.Second)),
		authmethods.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
		authmethods.WithSessionStore(kv),
		authmethods.WithLogger(a.Logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	if err := client.LoadSession(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to restore backend session")
	}
	a.BackendClient = client

	a.Profiles = authmethods.NewSessionProfile(client, cfg.Profile.ID, common.Duration(cfg.Sync.CacheTTL, 30*time.Second), a.Logger)

	a.Engine = reconcile.NewEngine(client, a.LinkStore, a.CredentialStore, a.Profiles, a.EventService, reconcile.Config{
		DebounceWindow: common.Duration(cfg.Sync.DebounceWindow, time.Second),
		CacheTTL:       common.Duration(cfg.Sync.CacheTTL, 30*time.Second),
		CacheSize:      cfg.Sync.CacheSize,
		AdoptActive:    cfg.Sync.AdoptActive,
	}, a.Logger)

	if cfg.Capture.Enabled {
		a.ChromeHost = capture.NewChromeHost(capture.ChromeHostConfig{
			DevToolsURL: cfg.Capture.DevToolsURL,
			Headless:    cfg.Capture.Headless,
			UserDataDir: cfg.Capture.UserDataDir,
		}, a.Logger)
		a.CaptureAgent = capture.NewAgent(a.ChromeHost, a.Classifier, a.CredentialStore, descriptors, a.EventService, cfg.Capture.CSRFHeader, a.Logger)
	}

	a.SchedulerService = scheduler.NewService(kv, a.Logger)
	return a.registerJobs()
}

type jobSpec struct {
	name, schedule, description string
	handler                     interfaces.JobHandler
}

// registerJobs registers every background job. Jobs without a configured
// schedule stay runnable on demand.
func (a *App) registerJobs() error {
	cfg := a.Config

	jobs := []jobSpec{
		{JobSweep, cfg.Sync.SweepSchedule, "prune links to deleted auth methods", a.runSweep},
		{JobAutoSync, cfg.Sync.AutoSyncSchedule, "push changed credentials of linked platforms", a.runAutoSync},
		{JobEvict, cfg.Capture.EvictSchedule, "evict stale cookie sets", a.runEvict},
	}
	if a.CaptureAgent != nil {
		jobs = append(jobs, jobSpec{JobCapturePoll, cfg.Capture.PollSchedule, "capture credentials from the active tab", a.runCapturePoll})
	}

	for _, job := range jobs {
		if err := a.SchedulerService.RegisterJob(job.name, job.schedule, job.description, job.handler); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.name, err)
		}
	}
	return nil
}

func (a *App) runSweep(ctx context.Context) error {
	report, err := a.Engine.Sweep(ctx)
	if err != nil {
		return err
	}
	if len(report.Removed) > 0 || len(report.Adopted) > 0 {
		a.Logger.Info().
			Str("profile", report.Profile).
			Int("removed", len(report.Removed)).
			Int("adopted", len(report.Adopted)).
			Msg("Sweep reconciled link state")
	}
	return nil
}

func (a *App) runAutoSync(ctx context.Context) error {
	var failed int
	for _, result := range a.Engine.AutoSync(ctx) {
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d auto-sync pushes failed", failed)
	}
	return nil
}

func (a *App) runEvict(ctx context.Context) error {
	maxAge := common.Duration(a.Config.Capture.CookieMaxAge, 0)
	if maxAge <= 0 {
		return nil
	}
	_, err := a.CredentialStore.PruneStale(ctx, maxAge)
	return err
}

func (a *App) runCapturePoll(ctx context.Context) error {
	_, err := a.CaptureAgent.FetchNow(ctx)
	return err
}

func (a *App) initHandlers() {
	var captureService interfaces.CaptureService
	if a.CaptureAgent != nil {
		captureService = a.CaptureAgent
	}

	a.MessageHandler = handlers.NewMessageHandler(a.CredentialStore, captureService, a.Engine, a.BackendClient, a.Profiles, a.SchedulerService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.MessageHandler, a.EventService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Engine, a.SchedulerService, a.WSHandler, a.CaptureAgent != nil, a.Config.Backend.BaseURL, a.Logger)
}

// Start connects the capture surface (when enabled), starts the scheduler and
// runs one reconciliation sweep in the background. A browser that cannot be
// reached degrades capture, it does not stop the app.
func (a *App) Start(ctx context.Context) error {
	if a.ChromeHost != nil {
		if err := a.ChromeHost.Start(ctx, a.CaptureAgent); err != nil {
			a.Logger.Warn().Err(err).Msg("Browser capture unavailable")
		}
	}

	if err := a.SchedulerService.Start(); err != nil {
		return err
	}

	common.SafeGo(a.Logger, "startup-sweep", func() {
		if err := a.SchedulerService.RunNow(ctx, JobSweep); err != nil {
			a.Logger.Warn().Err(err).Msg("Startup sweep failed")
		}
	})
	return nil
}

// Close stops background work and releases storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.ChromeHost != nil {
		a.ChromeHost.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
