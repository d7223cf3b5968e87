package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/immigration-casework/internal/api/router"
	"github.com/wolfman30/immigration-casework/internal/app/bootstrap"
	"github.com/wolfman30/immigration-casework/internal/audit"
	"github.com/wolfman30/immigration-casework/internal/cases"
	appconfig "github.com/wolfman30/immigration-casework/internal/config"
	"github.com/wolfman30/immigration-casework/internal/events"
	httpmiddleware "github.com/wolfman30/immigration-casework/internal/http/middleware"
	"github.com/wolfman30/immigration-casework/internal/notify"
	"github.com/wolfman30/immigration-casework/internal/observability/metrics"
	"github.com/wolfman30/immigration-casework/internal/realtime"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

func main() {
	// Local development reads .env; deployed environments set real variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting casework scheduling API",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := bootstrap.SQLFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	metricsHandler, schedMetrics := setupMetrics()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	calendarProvider, err := bootstrap.BuildCalendarProvider(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build calendar provider", "error", err)
		os.Exit(1)
	}

	caseStore := cases.NewStore(pool)
	staffDirectory := cases.NewStaffDirectory(pool)
	schedulingStore := scheduling.NewPostgresStore(pool)

	auditService := audit.NewService(sqlDB)
	auditSink := audit.NewAsyncSink(auditService, logger, cfg.AuditQueueSize)

	opts := []scheduling.Option{
		scheduling.WithBuffer(time.Duration(cfg.SchedulingBufferMinutes) * time.Minute),
		scheduling.WithDefaultDuration(cfg.DefaultDurationMinutes),
		scheduling.WithProposalTTL(cfg.ProposalTTL),
		scheduling.WithProposalLimit(cfg.ProposalLimitPerSide),
		scheduling.WithCalendarTimeout(cfg.CalendarTimeout),
		scheduling.WithLogger(logger),
		scheduling.WithAuditSink(auditSink),
		scheduling.WithAuditLog(auditService),
		scheduling.WithMetrics(schedMetrics),
	}
	service := scheduling.NewService(schedulingStore, caseStore, staffDirectory, opts...)
	negotiator := scheduling.NewNegotiator(schedulingStore, caseStore, opts...)
	availability := scheduling.NewAvailabilityAggregator(schedulingStore, staffDirectory, calendarProvider, opts...)

	// Background workers stop only after the HTTP server has drained.
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	hub := realtime.NewHub(logger)
	deliverer := setupDelivery(ctx, cfg, pool, caseStore, staffDirectory, hub, schedMetrics, logger)

	var background []func()
	runInBackground := func(fn func(context.Context)) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(bgCtx)
		}()
		background = append(background, func() { <-done })
	}
	runInBackground(auditSink.Start)
	runInBackground(hub.Run)
	if deliverer != nil {
		runInBackground(deliverer.Start)
	}
	if cfg.ProposalSweepEnabled {
		sweeper := scheduling.NewSweeper(negotiator, logger).WithInterval(cfg.ProposalSweepInterval)
		runInBackground(sweeper.Start)
	}

	healthChecks := map[string]router.Pinger{"postgres": router.PingFunc(pool.Ping)}
	if redisClient != nil {
		healthChecks["redis"] = router.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	origins := httpmiddleware.NewOriginPolicy(cfg.CORSAllowedOrigins)
	handler := router.New(&router.Config{
		Logger:         logger,
		Scheduling:     scheduling.NewHandler(service, negotiator, availability, logger),
		Realtime:       realtime.NewHandler(hub, origins, logger),
		MetricsHandler: metricsHandler,
		Origins:        origins,
		Auth: httpmiddleware.AuthConfig{
			Secret: cfg.JWTSecret,
			Issuer: cfg.JWTIssuer,
			Cognito: httpmiddleware.CognitoConfig{
				Region:     cfg.CognitoRegion,
				UserPoolID: cfg.CognitoUserPoolID,
				ClientID:   cfg.CognitoClientID,
			},
		},
		RateLimiter:    httpmiddleware.NewRateLimiter(bgCtx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		HealthChecks:   healthChecks,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancelBackground()
	for _, wait := range background {
		wait()
	}
	logger.Info("server stopped")
}

// setupMetrics creates a private registry carrying the scheduling metrics and
// the runtime collectors.
func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSchedulingMetrics(reg)
}

// connectPostgresPool returns nil when the URL is empty or the database is unreachable.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		logger.Error("DATABASE_URL is required")
		return nil
	}
	pool, err := bootstrap.ConnectPostgres(ctx, databaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return nil
	}
	return pool
}

// setupDelivery builds the outbox deliverer fanning events out to SQS (when
// configured), email notifications and the realtime hub.
func setupDelivery(
	ctx context.Context,
	cfg *appconfig.Config,
	pool *pgxpool.Pool,
	caseStore *cases.Store,
	staffDirectory *cases.StaffDirectory,
	hub *realtime.Hub,
	schedMetrics *metrics.SchedulingMetrics,
	logger *logging.Logger,
) *events.Deliverer {
	if !cfg.OutboxDeliveryEnabled {
		logger.Info("outbox delivery disabled")
		return nil
	}

	var handlers events.Fanout
	var email notify.EmailSender
	if bootstrap.NeedsAWS(cfg) {
		awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.EventsQueueURL != "" {
			handlers = append(handlers, events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL))
			logger.Info("publishing scheduling events to sqs", "queue_url", cfg.EventsQueueURL)
		}
		email = bootstrap.BuildEmailSender(cfg, &awsCfg, logger)
	} else {
		email = bootstrap.BuildEmailSender(cfg, nil, logger)
	}

	notifier := notify.NewService(email, caseStore, staffDirectory, events.NewProcessedStore(pool), logger)
	handlers = append(handlers, notifier, hub)

	return events.NewDeliverer(events.NewOutboxStore(pool), handlers, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(schedMetrics)
}
