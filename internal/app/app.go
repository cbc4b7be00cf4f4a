// Package app wires configuration, storage, services and the queue into
// a running application.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/common"
	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/orchestrator"
	"github.com/ternarybob/expunge/internal/queue"
	"github.com/ternarybob/expunge/internal/services/automation"
	"github.com/ternarybob/expunge/internal/services/captcha"
	"github.com/ternarybob/expunge/internal/services/email"
	"github.com/ternarybob/expunge/internal/services/scheduler"
	"github.com/ternarybob/expunge/internal/services/telemetry"
	"github.com/ternarybob/expunge/internal/storage/badger"
)

// App owns the application's long-lived components.
type App struct {
	config *common.Config
	logger arbor.ILogger

	store      *badger.Manager
	telemetry  *telemetry.Service
	automation *automation.Service
	queue      *queue.Manager
	scheduler  *scheduler.Service

	Mismatches *orchestrator.MismatchCalculator
}

// New builds the application: opens storage, loads brokers and the
// profile, and wires the orchestration stack. The scheduler is not
// started; call Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	store, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()
	if err := badger.LoadBrokersFromFiles(ctx, store, config.Brokers.Dir, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load brokers: %w", err)
	}
	if err := badger.LoadProfileFromFile(ctx, store, config.Profile.Path, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if err := badger.EnsureScanJobs(ctx, store, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to provision scan jobs: %w", err)
	}

	telemetryService := telemetry.NewService(logger, 256)
	telemetryService.Subscribe(func(event interfaces.TelemetryEvent) {
		logger.Info().
			Str("event", event.Name).
			Str("broker", event.BrokerID).
			Str("profile_query", event.ProfileQueryID).
			Msg("Telemetry")
	})

	captchaService := captcha.NewService(captcha.Config{
		Endpoint:     config.Captcha.Endpoint,
		APIKey:       config.Captcha.APIKey,
		PollInterval: config.Captcha.PollIntervalDuration(),
		Retries:      config.Captcha.Retries,
	}, logger)

	emailService := email.NewService(email.Config{
		Host:         config.Email.Host,
		Port:         config.Email.Port,
		Username:     config.Email.Username,
		Password:     config.Email.Password,
		UseTLS:       config.Email.UseTLS,
		Address:      config.Email.Address,
		PollInterval: config.Email.PollIntervalDuration(),
		Retries:      config.Email.Retries,
	}, logger)

	automationService := automation.NewService(automation.Config{
		Headless:          config.Automation.IsHeadless(),
		UserAgent:         automation.DefaultConfig().UserAgent,
		StepTimeout:       config.Automation.StepTimeoutDuration(),
		RequestsPerMinute: config.Automation.RequestsPerMinute,
	}, captchaService, emailService, logger)

	orch := orchestrator.New(store, automationService, automationService, telemetryService, logger)
	queueManager := queue.NewManager(store, orch, logger, config.Queue.Concurrency)
	mismatches := orchestrator.NewMismatchCalculator(store, telemetryService, logger)
	schedulerService := scheduler.NewService(queueManager, mismatches, logger, config.Queue.Schedule)

	return &App{
		config:     config,
		logger:     logger,
		store:      store,
		telemetry:  telemetryService,
		automation: automationService,
		queue:      queueManager,
		scheduler:  schedulerService,
		Mismatches: mismatches,
	}, nil
}

// Start begins the scheduled passes.
func (a *App) Start() error {
	return a.scheduler.Start()
}

// RunManual triggers a user-requested pass over every tuple.
func (a *App) RunManual(ctx context.Context, completion interfaces.QueueCompletion) {
	a.queue.StartManual(ctx, completion)
}

// Close shuts the application down in dependency order: no new passes,
// drain in-flight steps, then release the browser, telemetry and store.
func (a *App) Close() {
	if err := a.scheduler.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("Scheduler stop failed")
	}
	a.queue.Stop()
	a.automation.Close()
	a.telemetry.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Storage close failed")
	}
	a.logger.Info().Msg("Application stopped")
}
