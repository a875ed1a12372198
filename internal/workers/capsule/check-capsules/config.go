// internal/workers/capsule/check-capsules/config.go
package checkcapsules

import (
	"time"

	"capsule-notifier/internal/common/config"
)

type Config struct {
	Concurrency  int
	ItemTimeout  time.Duration
	BatchLimit   int
	QueryTimeout time.Duration
	ClaimTTL     time.Duration
	// Timeout bounds a whole run started from a workflow job.
	Timeout time.Duration

	TitleTemplate     string
	DefaultSenderName string
	DefaultBody       string
	Sound             string
	Badge             int
}

func LoadConfig() *Config {
	return &Config{
		Concurrency:       1,
		ItemTimeout:       15 * time.Second,
		QueryTimeout:      10 * time.Second,
		ClaimTTL:          10 * time.Minute,
		Timeout:           2 * time.Minute,
		TitleTemplate:     "💌 {{sender}}'ten Gizli Mesaj!",
		DefaultSenderName: "Partneriniz",
		DefaultBody:       "Zaman kapsülün açıldı!",
		Sound:             "default",
		Badge:             1,
	}
}

// ConfigFrom maps the application configuration onto the worker settings.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Concurrency:       cfg.Dispatch.Concurrency,
		ItemTimeout:       config.GetDuration(cfg.Dispatch.ItemTimeout),
		BatchLimit:        cfg.Dispatch.BatchLimit,
		QueryTimeout:      config.GetDuration(cfg.Database.QueryTimeout),
		ClaimTTL:          config.GetDuration(cfg.Dispatch.ClaimTTL),
		Timeout:           config.GetDuration(cfg.Camunda.Timeout),
		TitleTemplate:     cfg.Notification.TitleTemplate,
		DefaultSenderName: cfg.Notification.DefaultSenderName,
		DefaultBody:       cfg.Notification.DefaultBody,
		Sound:             cfg.Notification.Sound,
		Badge:             cfg.Notification.Badge,
	}
}
