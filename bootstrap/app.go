package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aegis/aigateway"
	"aegis/api"
	"aegis/config"
	"aegis/core"
	"aegis/notify"
	"aegis/service"
	"aegis/storage"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// App represents the Aegis application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Triage engines
	Prompts        *core.PromptPack
	AIClient       *aigateway.Client
	Recorder       *service.TriageRecorder
	Analysis       *service.AnalysisServiceImpl
	Classification *service.ClassificationServiceImpl
	Playbooks      *service.PlaybookGenServiceImpl
	Notifier       *notify.Notifier

	// Transport
	Hub       *api.TimelineHub
	APIServer *api.API

	// Observability
	Tracing *sdktrace.TracerProvider

	// Lifecycle
	serviceWg  *sync.WaitGroup
	shutdownCh chan struct{}
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serviceWg:  &sync.WaitGroup{},
		shutdownCh: make(chan struct{}),
	}

	// Initialize logger
	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Aegis triage engine starting...")

	// Pre-flight checks
	sugar.Info("Running pre-flight checks...")
	_, err = EnsureDataDirectories(sugar)
	if err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	// Load configuration
	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// Tracing must be installed before the AI gateway grabs its tracer.
	app.Tracing = InitTracing(sugar)

	// Use config-based directories
	dirs := DataDirectoriesFromConfig(cfg)

	// Initialize storage
	components, err := InitStorage(ctx, cfg, dirs, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = components

	// First-run setup (admin user creation)
	firstRun, err := app.runFirstRunSetup(ctx)
	if err != nil {
		sugar.Warnw("First-run setup encountered errors", "error", err)
	}
	if firstRun != nil && firstRun.AdminCreated {
		sugar.Infow("Admin user created", "username", firstRun.AdminUsername)
	}

	// Prompt templates
	prompts, err := core.LoadPromptPack(cfg.AI.PromptPackPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt pack: %w", err)
	}
	app.Prompts = prompts

	// AI gateway
	aiClient, err := aigateway.NewClient(cfg.AI, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI gateway: %w", err)
	}
	app.AIClient = aiClient
	sugar.Infow("AI gateway ready",
		"provider", aiClient.PrimaryName(),
		"fallback", aiClient.FallbackName(),
		"model", aiClient.DefaultModel())

	// Timeline hub and audit recorder
	app.Hub = api.NewTimelineHub(sugar)
	app.Recorder = service.NewTriageRecorder(components.Timeline, components.Activity, app.Hub, sugar)

	// Notifier
	app.Notifier = notify.NewNotifier(cfg, sugar)

	// Triage engines
	app.Analysis = service.NewAnalysisService(components.SQLite, components.Assets, aiClient, app.Recorder, prompts, cfg.AI, sugar)
	app.Classification = service.NewClassificationService(components.SQLite, components.Redis, cfg.Redis.ClassificationTTL, aiClient, app.Recorder, prompts, cfg.AI, sugar)
	app.Playbooks = service.NewPlaybookGenService(components.SQLite, components.SQLite, components.Assets, aiClient, app.Recorder, app.Notifier, prompts, cfg.AI, sugar)

	// API server
	app.APIServer = api.NewAPI(cfg, api.Dependencies{
		Analysis:       app.Analysis,
		Classification: app.Classification,
		Playbooks:      app.Playbooks,
		Alerts:         components.SQLite,
		Assets:         components.SQLite,
		PlaybookReader: components.SQLite,
		Recorder:       app.Recorder,
		Users:          components.Users,
		Hub:            app.Hub,
		HealthChecks:   app.buildHealthChecks(),
	}, sugar)

	return app, nil
}

// buildHealthChecks returns one probe per configured backend.
func (a *App) buildHealthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{
		{
			Name: "sqlite",
			Check: func(ctx context.Context) error {
				return a.Storage.SQLite.HealthCheck()
			},
		},
	}

	if a.Storage.Redis != nil {
		checks = append(checks, api.HealthCheck{
			Name:  "redis",
			Check: a.Storage.Redis.Ping,
		})
	}
	if a.Storage.MongoDB != nil {
		checks = append(checks, api.HealthCheck{
			Name:  "mongodb",
			Check: a.Storage.MongoDB.HealthCheck,
		})
	}
	if a.Storage.ClickHouse != nil {
		checks = append(checks, api.HealthCheck{
			Name:  "clickhouse",
			Check: a.Storage.ClickHouse.HealthCheck,
		})
	}

	return checks
}

// Start launches the HTTP API server.
func (a *App) Start(ctx context.Context) error {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Sugar.Infof("API server started on :%d", a.Config.API.Port)

		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS()
		} else {
			err = a.APIServer.Start()
		}

		if err != nil {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until an interrupt or termination signal arrives.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
}

// Shutdown gracefully stops all components in dependency order.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")
	close(a.shutdownCh)

	// Stop accepting requests first; this also disconnects WebSocket clients.
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server cleanly", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 2: Flushing activity sink...")
	if a.Storage != nil && a.Storage.ActivitySink != nil {
		if err := a.Storage.ActivitySink.Stop(); err != nil {
			a.Sugar.Errorw("Failed to stop activity sink cleanly", "error", err)
		}
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Stopping tracer provider...")
	traceCtx, traceCancel := context.WithTimeout(context.Background(), 5*time.Second)
	ShutdownTracing(traceCtx, a.Tracing, a.Sugar)
	traceCancel()

	a.Sugar.Info("Phase 5: Closing storage connections...")
	if a.Storage != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if a.Storage.ClickHouse != nil {
			if err := a.Storage.ClickHouse.Close(); err != nil {
				a.Sugar.Errorw("Failed to close ClickHouse connection", "error", err)
			}
		}
		if a.Storage.MongoDB != nil {
			if err := a.Storage.MongoDB.Close(closeCtx); err != nil {
				a.Sugar.Errorw("Failed to close MongoDB connection", "error", err)
			}
		}
		if a.Storage.Redis != nil {
			a.Storage.Redis.Close()
		}
		if a.Storage.SQLite != nil {
			a.Storage.SQLite.Close()
		}
		cancel()
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}

// FirstRunResult contains information about first-run initialization.
type FirstRunResult struct {
	IsFirstRun    bool
	AdminCreated  bool
	AdminUsername string
	AdminPassword string
}

// runFirstRunSetup creates the initial admin account when the user table is
// empty. A configured credential pair wins; otherwise a random password is
// generated and printed once to stderr.
func (a *App) runFirstRunSetup(ctx context.Context) (*FirstRunResult, error) {
	result := &FirstRunResult{}

	if !a.Config.Auth.Enabled {
		return result, nil
	}

	countCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	userCount, err := a.Storage.Users.CountUsers(countCtx)
	if err != nil {
		return result, fmt.Errorf("failed to count users: %w", err)
	}
	if userCount > 0 {
		return result, nil
	}
	result.IsFirstRun = true

	a.Sugar.Info("========================================")
	a.Sugar.Info("FIRST RUN DETECTED - Running initial setup")
	a.Sugar.Info("========================================")

	adminUsername := a.Config.Auth.Username
	if adminUsername == "" {
		adminUsername = "admin"
	}

	hashedPassword := a.Config.Auth.HashedPassword
	var adminPassword string
	if hashedPassword == "" {
		adminPassword, err = GenerateSecurePassword(24)
		if err != nil {
			return result, fmt.Errorf("failed to generate admin password: %w", err)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), a.Config.Auth.BcryptCost)
		if err != nil {
			return result, fmt.Errorf("failed to hash admin password: %w", err)
		}
		hashedPassword = string(hashed)
	}

	now := time.Now().UTC()
	adminUser := &storage.User{
		Username:       adminUsername,
		PasswordHash:   hashedPassword,
		OrganizationID: a.Config.Auth.OrganizationID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := a.Storage.Users.CreateUser(countCtx, adminUser); err != nil {
		return result, fmt.Errorf("failed to create admin user: %w", err)
	}

	result.AdminCreated = true
	result.AdminUsername = adminUsername
	result.AdminPassword = adminPassword

	if adminPassword != "" {
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "     DEFAULT ADMIN CREDENTIALS\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "  Username: %s\n", adminUsername)
		fmt.Fprintf(os.Stderr, "  Password: %s\n", adminPassword)
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "  IMPORTANT: This password will NOT be\n")
		fmt.Fprintf(os.Stderr, "  shown again! Store it securely now.\n")
		fmt.Fprintf(os.Stderr, "========================================\n\n")
	}

	a.Sugar.Info("First-run setup completed")
	return result, nil
}
