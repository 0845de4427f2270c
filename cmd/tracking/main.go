// Command tracking serves the pixel and link endpoints plus the reporting
// API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ignite/engagement-tracker/internal/api"
	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/metrics"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
	"github.com/ignite/engagement-tracker/internal/storage"
	"github.com/ignite/engagement-tracker/internal/tracking"
)

func main() {
	if err := run(); err != nil {
		logger.Error("tracking service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service := svc.NewService(backend.Store, cfg.Tracking.BaseURL,
		svc.WithResolveTimeout(cfg.Tracking.ResolveTimeout()),
		svc.WithObserver(m),
	)

	deps := api.Deps{
		Service:        service,
		Metrics:        m,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}

	var bucketCheck api.BucketHeader
	if cfg.Events.Enabled || cfg.Export.S3Bucket != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		if cfg.Events.Enabled {
			pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.SQSQueueURL)
			defer pub.Close()
			deps.Publisher = pub
			logger.Info("resolution events enabled", "queue", cfg.Events.SQSQueueURL)
		}
		if cfg.Export.S3Bucket != "" {
			bucketCheck = s3.NewFromConfig(awsCfg)
		}
	}
	deps.Health = api.NewHealthChecker(service, backend.Redis, bucketCheck, cfg.Export.S3Bucket)

	server := api.NewServer(cfg.Server, deps)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tracking service listening", "addr", cfg.Server.Addr(), "base_url", service.BaseURL(), "storage", backend.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down tracking service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
