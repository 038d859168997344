package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/audit"
	"github.com/kjstillabower/weather-cache-proxy/internal/cache"
	"github.com/kjstillabower/weather-cache-proxy/internal/client"
	"github.com/kjstillabower/weather-cache-proxy/internal/config"
	httphandler "github.com/kjstillabower/weather-cache-proxy/internal/http"
	"github.com/kjstillabower/weather-cache-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
	"github.com/kjstillabower/weather-cache-proxy/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("aws config", zap.Error(err))
	}

	objectStore := cache.NewS3ObjectStore(cache.NewS3Client(awsCfg, cfg.S3Endpoint), cache.S3ObjectStoreConfig{
		Bucket:   cfg.S3BucketName,
		Endpoint: cfg.S3Endpoint,
	})
	logger.Info("object store: s3", zap.String("bucket", cfg.S3BucketName))

	var (
		auditStore audit.Store
		auditPing  func(context.Context) error
		sqliteDB   *audit.SQLiteStore
	)
	switch cfg.AuditBackend {
	case config.AuditBackendSQLite:
		sqliteDB, err = audit.NewSQLiteStore(cfg.AuditSQLitePath)
		if err != nil {
			logger.Fatal("sqlite audit store", zap.Error(err))
		}
		auditStore, auditPing = sqliteDB, sqliteDB.Ping
		logger.Info("audit backend: sqlite", zap.String("path", cfg.AuditSQLitePath))
	default:
		dynamo := audit.NewDynamoStore(audit.NewDynamoClient(awsCfg, cfg.DynamoDBEndpoint), cfg.DynamoDBTableName)
		auditStore, auditPing = dynamo, dynamo.Ping
		logger.Info("audit backend: dynamodb", zap.String("table", cfg.DynamoDBTableName))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	weatherService := service.NewWeatherService(
		weatherClient,
		cache.NewReader(objectStore, cfg.CacheExpiry),
		cache.NewWriter(objectStore),
		audit.NewWriter(auditStore),
	)

	handler := httphandler.NewHandler(weatherService, logger,
		httphandler.HealthCheck{Name: "object_store", Ping: objectStore.Ping},
		httphandler.HealthCheck{Name: "audit_store", Ping: auditPing},
	)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if len(cfg.WarmCities) > 0 {
		warmer := cache.NewCacheWarmer(weatherService, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(warmCtx, cfg.WarmCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else if err := warmer.Warm(warmCtx, cfg.WarmCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/weather", handler.GetWeather).Methods("GET")

	// No WriteTimeout: an upstream call has no default bound and the response must
	// still be written once the cache and audit writes finish.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if sqliteDB != nil {
		if err := sqliteDB.Close(); err != nil {
			logger.Error("sqlite close", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
