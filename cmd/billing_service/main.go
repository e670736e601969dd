package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/recoverly/golang_services/internal/billing_service/adapters/http"
	"github.com/recoverly/golang_services/internal/billing_service/adapters/paymentgateway"
	"github.com/recoverly/golang_services/internal/billing_service/app"
	billingpg "github.com/recoverly/golang_services/internal/billing_service/repository/postgres"
	collectionspg "github.com/recoverly/golang_services/internal/collections_service/repository/postgres"
	"github.com/recoverly/golang_services/internal/platform/config"
	"github.com/recoverly/golang_services/internal/platform/database"
	"github.com/recoverly/golang_services/internal/platform/httpmiddleware"
	"github.com/recoverly/golang_services/internal/platform/logger"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
	"github.com/recoverly/golang_services/internal/platform/paylink"
)

const (
	serviceName        = "billing-service"
	defaultMetricsPort = 9093
	shutdownTimeout    = 15 * time.Second
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

	metricsPort := cfg.BillingMetricsPort
	if metricsPort == 0 {
		metricsPort = defaultMetricsPort
		appLogger.Info("Billing service metrics port not configured, using default", "port", metricsPort)
	}
	appLogger.Info("Billing service starting...",
		"http_port", cfg.BillingHTTPPort,
		"metrics_port", metricsPort,
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
			appLogger.Warn("NATS unavailable, payment events will not be published", "error", err)
		} else {
			defer natsClient.Close()
			publisher = natsClient
		}
	}

	linkCfg := cfg.PayLinkConfig()
	if linkCfg.Secret == "" {
		appLogger.Error("Payment link secret not configured")
		os.Exit(1)
	}

	checkoutCfg := cfg.CheckoutConfig()
	gateway, err := paymentgateway.NewFromConfig(checkoutCfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize payment gateway", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Payment gateway initialized", "gateway", gateway.Name())

	billingApp := app.NewBillingService(
		dbPool,
		collectionspg.NewPgDebtRepository(dbPool, appLogger),
		collectionspg.NewPgDebtorRepository(dbPool, appLogger),
		billingpg.NewPgPaymentRepository(appLogger),
		gateway,
		paylink.NewSigner(linkCfg.Secret, linkCfg.BaseURL, linkCfg.TTL),
		publisher,
		checkoutCfg,
		appLogger,
	)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- Start HTTP Server for payment links and webhooks ---
	httpRouter := chi.NewRouter()
	httpRouter.Use(chiMiddleware.RequestID)
	httpRouter.Use(chiMiddleware.RealIP)
	httpRouter.Use(chiMiddleware.Recoverer)
	httpRouter.Use(httpmiddleware.RequestLogger(appLogger))
	httpRouter.Use(httpmiddleware.Metrics)
	httpadapter.NewWebhookHandler(billingApp, appLogger).RegisterRoutes(httpRouter)
	httpadapter.NewCheckoutHandler(billingApp, appLogger).RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.BillingHTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server for webhooks starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	// --- Start Metrics HTTP Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	// --- Graceful Shutdown Handling ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancelShutdownTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdownTimeout()

		var shutdownErrors error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Webhook HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("webhook http shutdown: %w", err))
		}
		return shutdownErrors
	})

	appLogger.Info("Billing service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
	}

	appLogger.Info("Billing service shut down successfully.")
}
