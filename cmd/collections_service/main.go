package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/recoverly/golang_services/internal/collections_service/adapters/emailprovider"
	grpcadapter "github.com/recoverly/golang_services/internal/collections_service/adapters/grpc"
	httpadapter "github.com/recoverly/golang_services/internal/collections_service/adapters/http"
	"github.com/recoverly/golang_services/internal/collections_service/adapters/llm"
	"github.com/recoverly/golang_services/internal/collections_service/app"
	"github.com/recoverly/golang_services/internal/collections_service/repository/postgres"
	"github.com/recoverly/golang_services/internal/platform/cache"
	"github.com/recoverly/golang_services/internal/platform/config"
	"github.com/recoverly/golang_services/internal/platform/database"
	"github.com/recoverly/golang_services/internal/platform/httpmiddleware"
	"github.com/recoverly/golang_services/internal/platform/logger"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
	"github.com/recoverly/golang_services/internal/platform/paylink"
)

const (
	serviceName     = "collections-service"
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Collections service starting...",
		"http_port", cfg.CollectionsHTTPPort,
		"grpc_port", cfg.CollectionsGRPCPort,
		"metrics_port", cfg.CollectionsMetricsPort,
		"log_level", cfg.LogLevel,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	var publisher messagebroker.Publisher = messagebroker.NoopPublisher{}
	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			appLogger.Warn("NATS unavailable, domain events will not be published", "error", err)
		} else {
			defer natsClient.Close()
			publisher = natsClient
		}
	}

	var locker cache.Locker = cache.NoopLocker{}
	if cfg.RedisURL != "" {
		redisLocker, err := cache.NewRedisLocker(cfg.RedisURL, "collections:")
		if err != nil {
			appLogger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	debtorRepo := postgres.NewPgDebtorRepository(dbPool, appLogger)
	debtRepo := postgres.NewPgDebtRepository(dbPool, appLogger)
	threadRepo := postgres.NewPgThreadRepository(dbPool, appLogger)
	emailRepo := postgres.NewPgEmailRepository(dbPool, appLogger)
	usageRepo := postgres.NewPgAIUsageRepository(dbPool, appLogger)

	emailCfg := cfg.EmailConfig()
	sender, err := emailprovider.NewFromConfig(emailCfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize email provider", "error", err)
		os.Exit(1)
	}

	llmCfg := cfg.LLMConfig()
	prompts, err := llm.LoadPrompts(llmCfg.PromptsFile)
	if err != nil {
		appLogger.Error("Failed to load prompts", "error", err, "file", llmCfg.PromptsFile)
		os.Exit(1)
	}
	generator := llm.NewOpenAIResponseGenerator(llmCfg, prompts, nil, appLogger)

	linkCfg := cfg.PayLinkConfig()
	if linkCfg.Secret == "" {
		appLogger.Warn("Payment link secret not configured, outbound emails will carry no payment link")
		linkCfg.BaseURL = ""
	}
	links := paylink.NewSigner(linkCfg.Secret, linkCfg.BaseURL, linkCfg.TTL)

	dispatcher := app.NewDispatcher(sender, emailRepo, debtorRepo, links, app.DispatcherConfig{
		FromAddress:        emailCfg.FromAddress,
		DefaultFromAddress: emailCfg.DefaultFromAddress,
		MailDomain:         emailCfg.MailDomain,
		Timeout:            emailCfg.Timeout,
	}, appLogger)
	resolver := app.NewThreadResolver(emailRepo, threadRepo, debtRepo, locker, cfg.ThreadLockTTL(), appLogger)
	replyProcessor := app.NewReplyProcessor(resolver, emailRepo, debtRepo, generator, dispatcher, usageRepo, publisher, llmCfg.Timeout, appLogger)
	deliveryTracker := app.NewDeliveryTracker(emailRepo, publisher, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- gRPC server ---
	grpcMetrics := grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram())
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		appLogger.Warn("Failed to register gRPC Prometheus metrics", "error", err)
	}
	grpcServer := gRPC.NewServer(
		gRPC.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		gRPC.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	grpcadapter.RegisterConversationQueryServer(grpcServer,
		grpcadapter.NewConversationQueryGRPCServer(threadRepo, emailRepo, emailCfg.MailDomain, appLogger))
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	grpcListenAddress := fmt.Sprintf(":%d", cfg.CollectionsGRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		appLogger.Info("gRPC server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	// --- Webhook HTTP server ---
	webhookHandler := httpadapter.NewWebhookHandler(replyProcessor, deliveryTracker, cfg.InboundWebhookSecret,
		validator.New(validator.WithRequiredStructEnabled()), appLogger)
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(httpmiddleware.RequestLogger(appLogger))
	router.Use(httpmiddleware.Metrics)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbPool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	webhookHandler.RegisterRoutes(router)

	// Generation and delivery both run inside the webhook request.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.CollectionsHTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: llmCfg.Timeout + emailCfg.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("HTTP server for webhooks starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.CollectionsMetricsPort),
		Handler: metricsMux,
	}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Graceful shutdown ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("webhook http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		return shutdownErrors
	})

	appLogger.Info("Collections service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
	}
	appLogger.Info("Collections service shut down successfully.")
}
