// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Camunda       CamundaConfig       `mapstructure:"camunda"`
	Database      DatabaseConfig      `mapstructure:"database"`
	APNs          APNsConfig          `mapstructure:"apns"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// CamundaConfig enables the optional BPMN timer-driven trigger.
type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres     PostgresConfig `mapstructure:"postgres"`
	Redis        RedisConfig    `mapstructure:"redis"`
	QueryTimeout int            `mapstructure:"query_timeout"` // milliseconds
}

type PostgresConfig struct {
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string. A full URL wins over discrete fields.
func (p PostgresConfig) GetDSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig is optional; an empty address disables the shared token cache and capsule claims.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// APNsConfig holds the push gateway credentials and endpoint selection.
type APNsConfig struct {
	KeyID      string `mapstructure:"key_id"`
	TeamID     string `mapstructure:"team_id"`
	PrivateKey string `mapstructure:"private_key"`
	BundleID   string `mapstructure:"bundle_id"`
	Production bool   `mapstructure:"production"`
	// Endpoint overrides the host chosen by Production, e.g. for a local proxy.
	Endpoint     string `mapstructure:"endpoint"`
	Timeout      int    `mapstructure:"timeout"`       // milliseconds
	TokenRefresh int    `mapstructure:"token_refresh"` // milliseconds
}

// DispatchConfig controls how a batch of due capsules is processed.
type DispatchConfig struct {
	Concurrency  int  `mapstructure:"concurrency"`
	ItemTimeout  int  `mapstructure:"item_timeout"` // milliseconds
	BatchLimit   int  `mapstructure:"batch_limit"`
	ClaimEnabled bool `mapstructure:"claim_enabled"`
	ClaimTTL     int  `mapstructure:"claim_ttl"` // milliseconds
}

// NotificationConfig holds the texts used to build the push payload.
type NotificationConfig struct {
	TitleTemplate     string `mapstructure:"title_template"`
	DefaultSenderName string `mapstructure:"default_sender_name"`
	DefaultBody       string `mapstructure:"default_body"`
	Sound             string `mapstructure:"sound"`
	Badge             int    `mapstructure:"badge"`
}

// SchedulerConfig enables the in-process ticker; zero interval disables it.
type SchedulerConfig struct {
	Interval int `mapstructure:"interval"` // milliseconds
	Timeout  int `mapstructure:"timeout"`  // milliseconds, per tick
}

// AlertsConfig selects where operators are told about failed runs.
type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled bool     `mapstructure:"enabled"`
		Region  string   `mapstructure:"region"`
		From    string   `mapstructure:"from"`
		To      []string `mapstructure:"to"`
	} `mapstructure:"ses"`
}

type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
