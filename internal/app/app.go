// Package app wires configuration into a ready check-capsules handler.
package app

import (
	"context"
	"fmt"
	"time"

	"capsule-notifier/internal/common/apns"
	"capsule-notifier/internal/common/aws"
	"capsule-notifier/internal/common/config"
	"capsule-notifier/internal/common/database"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/observability"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"
)

// App holds the long-lived clients behind a Handler.
type App struct {
	Config   *config.Config
	Postgres *database.PostgresClient
	Redis    *database.RedisClient
	Tokens   *apns.TokenManager
	Handler  *checkcapsules.Handler

	logger logger.Logger
}

type Options struct {
	// Observability is optional; nil records nothing.
	Observability *observability.Observability
	// ConnectRetries bounds the startup connection attempts per dependency.
	ConnectRetries int
}

func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if opts.ConnectRetries < 1 {
		opts.ConnectRetries = 1
	}
	a := &App{Config: cfg, logger: log}

	err := retryWithBackoff(func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		a.Postgres = pg
		return nil
	}, opts.ConnectRetries, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected successfully", nil)

	if cfg.Database.Redis.Enabled() {
		err := retryWithBackoff(func() error {
			rdb, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rdb.Ping(ctx); err != nil {
				_ = rdb.Close()
				return err
			}
			a.Redis = rdb
			return nil
		}, opts.ConnectRetries, 2*time.Second, log, "Redis connection")
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Redis connected successfully", nil)
	}

	tokenOpts := []apns.TokenOption{apns.WithLogger(log)}
	if a.Redis != nil {
		tokenOpts = append(tokenOpts, apns.WithSharedCache(apns.NewRedisTokenCache(a.Redis, cfg.APNs.KeyID)))
	}
	a.Tokens = apns.NewTokenManager(
		apns.NewES256Signer(apns.Credentials{
			KeyID:      cfg.APNs.KeyID,
			TeamID:     cfg.APNs.TeamID,
			PrivateKey: cfg.APNs.PrivateKey,
		}),
		config.GetDuration(cfg.APNs.TokenRefresh),
		tokenOpts...,
	)

	pusher := apns.NewClient(apns.ClientConfig{
		BundleID:   cfg.APNs.BundleID,
		Production: cfg.APNs.Production,
		Endpoint:   cfg.APNs.Endpoint,
		Timeout:    config.GetDuration(cfg.APNs.Timeout),
	}, a.Tokens)

	var claimer checkcapsules.Claimer
	if cfg.Dispatch.ClaimEnabled {
		claimer = checkcapsules.NewRedisClaimer(a.Redis, config.GetDuration(cfg.Dispatch.ClaimTTL))
	}

	alerter, err := newAlerter(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := checkcapsules.Dependencies{
		Store:         checkcapsules.NewPostgresStore(a.Postgres.DB),
		Tokens:        a.Tokens,
		Pusher:        pusher,
		Claimer:       claimer,
		Observability: opts.Observability,
	}
	if alerter != nil {
		deps.Alerter = alerter
	}
	a.Handler = checkcapsules.NewHandler(checkcapsules.ConfigFrom(cfg), deps, log)

	log.Info("check-capsules handler ready", map[string]interface{}{
		"apnsHost":    pusher.Host(),
		"concurrency": cfg.Dispatch.Concurrency,
		"claims":      claimer != nil,
		"sharedToken": a.Redis != nil,
	})
	return a, nil
}

func newAlerter(ctx context.Context, cfg *config.Config) (aws.Alerter, error) {
	var alerters aws.MultiAlerter

	if cfg.Alerts.SNS.Enabled {
		sns, err := aws.NewSNSAlerter(ctx, cfg.Alerts.SNS.Region, cfg.Alerts.SNS.TopicARN)
		if err != nil {
			return nil, fmt.Errorf("init SNS alerts: %w", err)
		}
		alerters = append(alerters, sns)
	}
	if cfg.Alerts.SES.Enabled {
		ses, err := aws.NewSESAlerter(ctx, cfg.Alerts.SES.Region, cfg.Alerts.SES.From, cfg.Alerts.SES.To)
		if err != nil {
			return nil, fmt.Errorf("init SES alerts: %w", err)
		}
		alerters = append(alerters, ses)
	}

	switch len(alerters) {
	case 0:
		return nil, nil
	case 1:
		return alerters[0], nil
	default:
		return alerters, nil
	}
}

// Close releases the database connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("error closing Redis", map[string]interface{}{"error": err})
		}
	}
	if a.Postgres != nil {
		if err := a.Postgres.Close(); err != nil {
			a.logger.Warn("error closing PostgreSQL", map[string]interface{}{"error": err})
		}
	}
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
