// Package api exposes the Aegis triage engine over HTTP: alert analysis,
// classification and playbook generation endpoints, the timeline WebSocket
// stream, JWT auth, tiered rate limiting, metrics and swagger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"aegis/config"
	"aegis/core"
	"aegis/service"
	"aegis/storage"
)

// AnalysisService runs AI analysis for an alert.
type AnalysisService interface {
	PerformAnalysis(ctx context.Context, alertID, organizationID, user string) (*service.AnalysisResult, error)
}

// ClassificationService runs focused event-type classification.
type ClassificationService interface {
	PerformClassification(ctx context.Context, alertID, organizationID, user string, refreshAnalysis bool) (*service.ClassificationResult, error)
}

// PlaybookService generates and manages AI playbooks for an alert.
type PlaybookService interface {
	GeneratePlaybooks(ctx context.Context, alertID, organizationID, user string, forceRegenerate bool) (*service.GenerationOutcome, error)
	GenerateImmediatePlaybook(ctx context.Context, alertID, organizationID, user string) (*service.SinglePlaybookOutcome, error)
	GenerateInvestigationPlaybook(ctx context.Context, alertID, organizationID, user string) (*service.SinglePlaybookOutcome, error)
	DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID, user string) (int64, error)
	GetGenerationStatus(ctx context.Context, alertID, organizationID string) (*service.GenerationStatus, error)
	BuildGenerationPreview(ctx context.Context, alertID, organizationID string) (*service.GenerationPreview, error)
}

// AlertStore is the alert persistence surface the handlers need.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id, organizationID string) (*core.Alert, error)
	ListAlerts(ctx context.Context, organizationID string, limit, offset int) ([]core.Alert, error)
}

// AssetStore is the asset persistence surface the handlers need.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *core.Asset) error
	GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error)
	ListAssets(ctx context.Context, organizationID string, limit, offset int) ([]core.Asset, error)
}

// PlaybookReader fetches persisted playbooks.
type PlaybookReader interface {
	GetPlaybook(ctx context.Context, id, organizationID string) (*core.Playbook, error)
	ListPlaybooksForAlert(ctx context.Context, alertID, organizationID string) ([]core.Playbook, error)
}

// UserStore is the account surface the login handler needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	RecordFailedLogin(ctx context.Context, username string, maxAttempts int, lockout time.Duration) (bool, error)
	ResetFailedLogins(ctx context.Context, username string) error
}

// HealthCheck is one named dependency probe run by the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies bundles everything the API serves.
type Dependencies struct {
	Analysis       AnalysisService
	Classification ClassificationService
	Playbooks      PlaybookService
	Alerts         AlertStore
	Assets         AssetStore
	PlaybookReader PlaybookReader
	Recorder       *service.TriageRecorder
	Users          UserStore
	Hub            *TimelineHub
	HealthChecks   []HealthCheck
}

// API is the HTTP server for the Aegis triage service.
//
//	@title						Aegis API
//	@version					1.0
//	@description				AI-assisted SOC alert triage: analysis, classification and response playbook generation.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
type API struct {
	config *config.Config
	deps   Dependencies
	users  UserStore
	logger *zap.SugaredLogger

	router *mux.Router
	server *http.Server

	globalLimiter  *rate.Limiter
	apiLimiters    map[string]*rateLimiterEntry
	loginLimiters  map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	exemptIPs      map[string]struct{}

	revokedTokens sync.Map // jti -> expiry time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAPI builds the API server and its routes. Auth-enabled configurations
// require a user store.
func NewAPI(cfg *config.Config, deps Dependencies, logger *zap.SugaredLogger) *API {
	if cfg == nil {
		panic("config is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if deps.Analysis == nil || deps.Classification == nil || deps.Playbooks == nil {
		panic("triage services are required")
	}
	if deps.Alerts == nil || deps.Recorder == nil {
		panic("alert store and recorder are required")
	}
	if cfg.Auth.Enabled && deps.Users == nil {
		panic("user store is required when auth is enabled")
	}

	exempt := make(map[string]struct{}, len(cfg.API.RateLimit.ExemptIPs))
	for _, ip := range cfg.API.RateLimit.ExemptIPs {
		exempt[ip] = struct{}{}
	}

	a := &API{
		config:        cfg,
		deps:          deps,
		users:         deps.Users,
		logger:        logger,
		globalLimiter: tierLimiter(cfg.API.RateLimit.Global),
		apiLimiters:   make(map[string]*rateLimiterEntry),
		loginLimiters: make(map[string]*rateLimiterEntry),
		exemptIPs:     exempt,
		stopCh:        make(chan struct{}),
	}
	a.router = a.setupRoutes()
	go a.maintenanceLoop()
	return a
}

// Router returns the configured handler, mainly for tests.
func (a *API) Router() http.Handler {
	return a.router
}

func (a *API) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.corsMiddleware)

	// Unauthenticated surface. Login gets its own stricter per-IP tier.
	r.Handle("/api/auth/login",
		a.loginRateLimitMiddleware(http.HandlerFunc(a.handleLogin))).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/health", a.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// CORS preflight for every API route; the CORS middleware writes the
	// response before this handler runs.
	r.PathPrefix("/api").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Everything under /api is authenticated and rate limited. Auth runs
	// first so the API tier can key on the username.
	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(a.jwtAuthMiddleware, a.rateLimitMiddleware)

	// Triage engine.
	apiRouter.HandleFunc("/alerts/{id}/ai-analysis", a.handleAIAnalysis).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/ai-classification", a.handleAIClassification).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/generate-playbooks", a.handleGeneratePlaybooks).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/generate-immediate-playbook", a.handleGenerateImmediatePlaybook).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/generate-investigation-playbook", a.handleGenerateInvestigationPlaybook).Methods("POST")
	apiRouter.HandleFunc("/alerts/{id}/playbooks", a.handleListAlertPlaybooks).Methods("GET")
	apiRouter.HandleFunc("/alerts/{id}/playbooks", a.handleDeleteAlertPlaybooks).Methods("DELETE")
	apiRouter.HandleFunc("/alerts/{id}/playbooks/status", a.handleGenerationStatus).Methods("GET")
	apiRouter.HandleFunc("/alerts/{id}/playbooks/preview", a.handleGenerationPreview).Methods("GET")

	// Timeline and activity audit.
	apiRouter.HandleFunc("/alerts/{id}/timeline", a.handleGetTimeline).Methods("GET")
	apiRouter.HandleFunc("/alerts/{id}/timeline/{eventId}", a.handleDeleteTimelineEvent).Methods("DELETE")
	apiRouter.HandleFunc("/activity-log", a.handleActivityLog).Methods("GET")
	apiRouter.HandleFunc("/ws/alerts/{id}/timeline", a.handleTimelineWS).Methods("GET")

	// Ingestion stand-in and enrichment context.
	apiRouter.HandleFunc("/alerts", a.handleCreateAlert).Methods("POST")
	apiRouter.HandleFunc("/alerts", a.handleListAlerts).Methods("GET")
	apiRouter.HandleFunc("/alerts/{id}", a.handleGetAlert).Methods("GET")
	apiRouter.HandleFunc("/assets", a.handleCreateAsset).Methods("POST")
	apiRouter.HandleFunc("/assets", a.handleListAssets).Methods("GET")
	apiRouter.HandleFunc("/assets/{id}", a.handleGetAsset).Methods("GET")
	apiRouter.HandleFunc("/playbooks/{id}", a.handleGetPlaybook).Methods("GET")

	return r
}

// Start serves plain HTTP on the configured port, blocking until the server
// exits.
func (a *API) Start() error {
	a.server = a.buildServer()
	a.logger.Infow("API server starting", "port", a.config.API.Port, "tls", false)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// StartTLS serves HTTPS with the configured certificate.
func (a *API) StartTLS() error {
	a.server = a.buildServer()
	a.logger.Infow("API server starting", "port", a.config.API.Port, "tls", true)
	err := a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

func (a *API) buildServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.API.Port),
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Stop shuts the server down, draining in-flight requests up to the context
// deadline.
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.deps.Hub != nil {
		a.deps.Hub.Stop()
	}
	if a.server == nil {
		return nil
	}
	a.logger.Info("API server stopping")
	return a.server.Shutdown(ctx)
}
