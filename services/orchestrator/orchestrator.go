// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the MLflow assistant service.
//
// The Service wires the invitation quota store, the session memory, the
// classifier providers, the MLflow tracking client and the dispatch engine
// behind a gin router, and runs it until its context is canceled.
//
// # Extension Points
//
// New accepts extensions.ServiceOptions. The AuthProvider guards the admin
// invitation routes and the AuditLogger records issuance and deactivation.
//
// # Usage
//
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/mlflow-assistant/pkg/extensions"
	"github.com/AleutianAI/mlflow-assistant/pkg/telemetry"
	"github.com/AleutianAI/mlflow-assistant/services/llm"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/dispatch"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/handlers"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/middleware"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/observability"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/routes"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/ttl"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/turn"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/usage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "mlflow-assistant"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the assistant service lifecycle.
//
// # Thread Safety
//
// Run blocks and is called at most once per instance. Router may be called
// concurrently.
type Service interface {
	// Run serves HTTP until ctx is canceled or the listener fails, then
	// drains in-flight requests for up to Config.ShutdownTimeout and
	// releases every resource the service owns.
	Run(ctx context.Context) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration. Zero values take the defaults
// applied by New.
type Config struct {
	// Port is the HTTP port. Default: 5003.
	Port int

	// GinMode is "debug", "release" or "test". Empty leaves gin's mode.
	GinMode string

	// ShutdownTimeout bounds the drain on Run exit. Default: 10s.
	ShutdownTimeout time.Duration

	// TrackingURI is the MLflow tracking server. Default: http://127.0.0.1:5000.
	TrackingURI string

	// TrackingTimeout is the per-call budget for tracking calls. Default: 30s.
	TrackingTimeout time.Duration

	// TrackingRateLimit caps outbound tracking calls per second. Zero
	// disables limiting.
	TrackingRateLimit float64

	// ClassifierTimeout bounds one classifier call. Default: 30s.
	ClassifierTimeout time.Duration

	// DefaultProvider and DefaultModel pick the classifier when neither the
	// session nor the request names one. Default: openai, gpt-4o.
	DefaultProvider string
	DefaultModel    string

	// Providers carries the classifier credentials.
	Providers llm.RegistryConfig

	// InvitationDBPath is the badger directory. Empty keeps tokens in memory.
	InvitationDBPath string

	// MaxRequests and InvitationTTL are the issuance defaults.
	// Default: 10 requests, 1 hour.
	MaxRequests   int
	InvitationTTL time.Duration

	// BootstrapInvitation issues one token when the store is empty.
	BootstrapInvitation bool

	// AdminAPIKey enables the admin invitation routes.
	AdminAPIKey string

	// SessionIdleTimeout evicts sessions not written for this long. Zero
	// keeps sessions for the process lifetime.
	SessionIdleTimeout time.Duration

	// SweepInterval is the session sweep period. Default: 5 minutes.
	SweepInterval time.Duration

	// Location renders timestamps in dispatch messages. Default: time.Local.
	Location *time.Location

	// Influx enables the usage sink when URL is set.
	Influx usage.InfluxConfig

	// Telemetry configures tracing and the OTel meter bridge.
	Telemetry telemetry.Config

	// QuotaStore replaces the badger store. The service does not close a
	// store it did not open.
	QuotaStore quota.Store

	// HTTPClient overrides the tracking transport.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 5003
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.TrackingURI == "" {
		cfg.TrackingURI = "http://127.0.0.1:5000"
	}
	if cfg.TrackingTimeout == 0 {
		cfg.TrackingTimeout = 30 * time.Second
	}
	if cfg.ClassifierTimeout == 0 {
		cfg.ClassifierTimeout = 30 * time.Second
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = llm.ProviderOpenAI
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = llm.DefaultModel(cfg.DefaultProvider)
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = quota.DefaultMaxRequests
	}
	if cfg.InvitationTTL == 0 {
		cfg.InvitationTTL = quota.DefaultTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = serviceName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	registry  *prometheus.Registry
	metrics   *observability.Metrics
	quota     quota.Store
	ownsQuota bool
	sessions  *session.Store
	providers *llm.Registry
	tracker   *tracking.Client
	usage     usage.Sink
	pipeline  *turn.Pipeline
	scheduler ttl.Scheduler
	router    *gin.Engine

	telemetryShutdown telemetry.ShutdownFunc
}

// New builds the service.
//
// # Description
//
// Initialization order: telemetry, metrics, quota store, providers,
// tracking client, dispatch, turn pipeline, router. On failure everything
// already opened is released.
//
// # Inputs
//
//   - cfg: configuration; zero values take defaults.
//   - opts: extension options; nil uses extensions.DefaultOptions with a
//     key provider built from cfg.AdminAPIKey.
//
// # Outputs
//
//   - Service: ready to Run.
//   - error: non-nil when a component cannot be created.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger

	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions().
			WithAuth(extensions.NewKeyAuthProvider(s.config.AdminAPIKey)).
			WithAudit(extensions.NewSlogAuditLogger(s.logger))
	}

	if err := s.init(); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *service) init() error {
	ctx := context.Background()
	cfg := s.config

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	tcfg := cfg.Telemetry
	if tcfg.Registerer == nil {
		tcfg.Registerer = s.registry
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	if err := s.initQuota(ctx); err != nil {
		return err
	}

	s.sessions = session.NewStore()
	s.providers = llm.NewRegistry(cfg.Providers)

	s.tracker, err = tracking.New(tracking.Config{
		BaseURL:    cfg.TrackingURI,
		Timeout:    cfg.TrackingTimeout,
		RateLimit:  cfg.TrackingRateLimit,
		HTTPClient: cfg.HTTPClient,
		Logger:     s.logger,
		Observer:   s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracking client: %w", err)
	}

	s.usage = usage.NopSink{}
	if cfg.Influx.URL != "" {
		s.usage = usage.NewInfluxSink(cfg.Influx, s.logger)
		s.logger.Info("Usage events go to InfluxDB", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	res := resolver.New(s.tracker, s.sessions, resolver.WithLogger(s.logger))
	engine := dispatch.New(s.tracker, res, s.sessions,
		dispatch.WithLocation(cfg.Location),
		dispatch.WithLogger(s.logger),
	)
	s.pipeline = turn.New(s.quota, s.sessions, s.providers, engine,
		turn.WithDefaults(cfg.DefaultProvider, cfg.DefaultModel),
		turn.WithClassifierTimeout(cfg.ClassifierTimeout),
		turn.WithMetrics(s.metrics),
		turn.WithUsage(s.usage),
		turn.WithLogger(s.logger),
	)

	s.scheduler = ttl.NewScheduler(
		ttl.SchedulerConfig{Interval: cfg.SweepInterval, Logger: s.logger},
		ttl.NewSessionSweeper(s.sessions, cfg.SessionIdleTimeout, s.metrics),
	)

	s.initRouter()
	return nil
}

func (s *service) initQuota(ctx context.Context) error {
	cfg := s.config
	switch {
	case cfg.QuotaStore != nil:
		s.quota = cfg.QuotaStore
	case cfg.InvitationDBPath != "":
		store, err := quota.OpenBadgerStore(quota.DefaultDBConfig(cfg.InvitationDBPath), quota.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("failed to open invitation store: %w", err)
		}
		s.quota, s.ownsQuota = store, true
	default:
		s.logger.Warn("No invitation database configured, tokens are kept in memory")
		s.quota, s.ownsQuota = quota.NewMemoryStore(quota.WithLogger(s.logger)), true
	}

	if !cfg.BootstrapInvitation {
		return nil
	}
	tok, issued, err := quota.EnsureDefault(ctx, s.quota, cfg.MaxRequests, cfg.InvitationTTL)
	if err != nil {
		return fmt.Errorf("failed to bootstrap invitation code: %w", err)
	}
	if issued {
		s.logger.Info("Issued bootstrap invitation code",
			"code", tok.Code,
			"max_requests", tok.MaxRequests,
			"expires_at", tok.ExpiresAt.Format(time.RFC3339),
		)
	}
	return nil
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), middleware.RequestID())

	routes.SetupRoutes(s.router, routes.Deps{
		Runner:      s.pipeline,
		Catalog:     s.providers,
		Quota:       s.quota,
		Connections: s.metrics,
		Gatherer:    s.registry,
		Invitations: handlers.InvitationDefaults{
			MaxRequests: s.config.MaxRequests,
			TTL:         s.config.InvitationTTL,
		},
		Options: s.opts,
	})
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup(context.Background())

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting assistant server", "port", s.config.Port, "tracking_uri", s.config.TrackingURI)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down assistant server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup releases everything the service owns. Safe on a partially
// initialized service.
func (s *service) cleanup(ctx context.Context) {
	if s.scheduler != nil {
		_ = s.scheduler.Stop()
	}
	if s.usage != nil {
		s.usage.Close()
	}
	if s.quota != nil && s.ownsQuota {
		if err := s.quota.Close(); err != nil {
			s.logger.Warn("invitation store close error", "error", err)
		}
	}
	if err := s.opts.AuditLogger.Flush(ctx); err != nil {
		s.logger.Warn("audit flush error", "error", err)
	}
	if s.telemetryShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown telemetry", "error", err)
		}
	}
	llm.PurgeSecrets()
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
