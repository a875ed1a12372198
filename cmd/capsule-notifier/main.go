// cmd/capsule-notifier/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capsule-notifier/internal/api"
	"capsule-notifier/internal/app"
	"capsule-notifier/internal/common/camunda"
	"capsule-notifier/internal/common/config"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/observability"
	"capsule-notifier/internal/scheduler"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	log.Info("Starting capsule notifier...", nil)

	obs, err := observability.New(cfg.Observability.ServiceName)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log, app.Options{Observability: obs, ConnectRetries: 10})
	if err != nil {
		zapLog.Fatal("startup failed", zap.Error(err))
	}
	defer application.Close()

	if err := application.Postgres.RegisterMetrics(prometheus.DefaultRegisterer, "capsules"); err != nil {
		log.Warn("postgres pool metrics not registered", map[string]interface{}{"error": err})
	}

	checks := []api.ReadinessCheck{{Name: "postgres", Check: application.Postgres.Ping}}
	if application.Redis != nil {
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: application.Redis.Ping})
	}

	// --- Zeebe worker (optional) ---
	var zeebeClient *camunda.Client
	var zeebeWorker *camunda.CamundaWorker
	if cfg.Camunda.Enabled {
		zeebeClient, err = camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: cfg.Camunda.UsePlaintext,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil {
			zapLog.Fatal("zeebe client failed", zap.Error(err))
		}
		zeebeWorker = camunda.NewWorker(zeebeClient.GetClient(), camunda.WorkerConfig{
			TaskType:      checkcapsules.TaskType,
			MaxJobsActive: cfg.Camunda.MaxJobsActive,
			Timeout:       config.GetDuration(cfg.Camunda.Timeout),
		}, application.Handler, log)
		checks = append(checks, api.ReadinessCheck{Name: "zeebe", Check: zeebeClient.HealthCheck})
	}

	// --- HTTP invocation API ---
	server := api.NewServer(cfg.Server.Port, application.Handler, log, checks...)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// --- In-process scheduler (optional) ---
	schedulerDone := make(chan struct{})
	if cfg.Scheduler.Interval > 0 {
		ticker := scheduler.New(application.Handler,
			config.GetDuration(cfg.Scheduler.Interval),
			config.GetDuration(cfg.Scheduler.Timeout),
			log)
		go func() {
			ticker.Run(ctx)
			close(schedulerDone)
		}()
	} else {
		close(schedulerDone)
	}

	// --- Graceful Shutdown ---
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping...", nil)
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", map[string]interface{}{"error": err})
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", map[string]interface{}{"error": err})
	}
	if zeebeWorker != nil {
		zeebeWorker.Stop()
	}
	if zeebeClient != nil {
		if err := zeebeClient.Close(); err != nil {
			log.Error("Error closing Zeebe client", map[string]interface{}{"error": err})
		}
	}

	select {
	case <-schedulerDone:
	case <-time.After(config.GetDuration(cfg.Server.ShutdownTimeout)):
		log.Warn("scheduler did not stop in time", nil)
	}

	log.Info("Capsule notifier stopped", nil)
}
