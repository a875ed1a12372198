// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, then configs/config.<APP_ENVIRONMENT>.yaml,
// then applies environment overrides, defaults and validation.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		// Unset variables expand to "" so optional sections stay disabled.
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideFromEnv applies the plain deployment variable names (DATABASE_URL, APNS_*).
func overrideFromEnv(cfg *Config) {
	setString := func(dst *string, names ...string) {
		for _, name := range names {
			if val := os.Getenv(name); val != "" {
				*dst = val
				return
			}
		}
	}

	setString(&cfg.APNs.KeyID, "APNS_KEY_ID")
	setString(&cfg.APNs.TeamID, "APNS_TEAM_ID")
	setString(&cfg.APNs.PrivateKey, "APNS_PRIVATE_KEY")
	setString(&cfg.APNs.BundleID, "APNS_BUNDLE_ID")
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		cfg.APNs.Production = val == "true"
	}

	setString(&cfg.Database.Postgres.URL, "DATABASE_URL", "SUPABASE_DB_URL")
	setString(&cfg.Database.Postgres.User, "DB_USER")
	setString(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Database.Redis.Address, "REDIS_ADDRESS")
	setString(&cfg.Camunda.BrokerAddress, "ZEEBE_ADDRESS")
	setString(&cfg.Alerts.SNS.TopicARN, "ALERT_SNS_TOPIC_ARN")
	setString(&cfg.Alerts.SES.From, "ALERT_SES_FROM")

	if val := os.Getenv("HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "capsule-notifier"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 1
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 120000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "require"
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 10000
	}
	if cfg.Database.Redis.KeyPrefix == "" {
		cfg.Database.Redis.KeyPrefix = "capsule-notifier:"
	}

	if cfg.Scheduler.Timeout == 0 {
		cfg.Scheduler.Timeout = 5 * 60 * 1000
	}

	if cfg.APNs.Timeout == 0 {
		cfg.APNs.Timeout = 10000
	}
	if cfg.APNs.TokenRefresh == 0 {
		cfg.APNs.TokenRefresh = 50 * 60 * 1000
	}

	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 1
	}
	if cfg.Dispatch.ItemTimeout == 0 {
		cfg.Dispatch.ItemTimeout = 15000
	}
	if cfg.Dispatch.ClaimTTL == 0 {
		cfg.Dispatch.ClaimTTL = 10 * 60 * 1000
	}

	if cfg.Notification.TitleTemplate == "" {
		cfg.Notification.TitleTemplate = "💌 {{sender}}'ten Gizli Mesaj!"
	}
	if cfg.Notification.DefaultSenderName == "" {
		cfg.Notification.DefaultSenderName = "Partneriniz"
	}
	if cfg.Notification.DefaultBody == "" {
		cfg.Notification.DefaultBody = "Zaman kapsülün açıldı!"
	}
	if cfg.Notification.Sound == "" {
		cfg.Notification.Sound = "default"
	}
	if cfg.Notification.Badge == 0 {
		cfg.Notification.Badge = 1
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	pg := cfg.Database.Postgres
	if pg.URL == "" {
		if pg.Host == "" {
			return fmt.Errorf("database.postgres.url or database.postgres.host is required")
		}
		if pg.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if pg.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if cfg.APNs.KeyID == "" {
		return fmt.Errorf("apns.key_id is required")
	}
	if cfg.APNs.TeamID == "" {
		return fmt.Errorf("apns.team_id is required")
	}
	if cfg.APNs.PrivateKey == "" {
		return fmt.Errorf("apns.private_key is required")
	}
	if cfg.APNs.BundleID == "" {
		return fmt.Errorf("apns.bundle_id is required")
	}

	if cfg.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1")
	}
	if cfg.Dispatch.ClaimEnabled && !cfg.Database.Redis.Enabled() {
		return fmt.Errorf("dispatch.claim_enabled requires database.redis.address")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda.enabled is set")
	}
	if cfg.Alerts.SNS.Enabled && cfg.Alerts.SNS.TopicARN == "" {
		return fmt.Errorf("alerts.sns.topic_arn is required when alerts.sns.enabled is set")
	}
	if cfg.Alerts.SES.Enabled && (cfg.Alerts.SES.From == "" || len(cfg.Alerts.SES.To) == 0) {
		return fmt.Errorf("alerts.ses.from and alerts.ses.to are required when alerts.ses.enabled is set")
	}

	return nil
}
