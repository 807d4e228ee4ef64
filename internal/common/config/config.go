// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	AI       AIConfig       `mapstructure:"ai"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	ListenAddr  string `mapstructure:"listen_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Enabled   bool     `mapstructure:"enabled"`
}

// QuotaConfig holds the free-tier limits and enforcement tunables.
type QuotaConfig struct {
	DailyLimit     int    `mapstructure:"daily_limit"`
	MonthlyLimit   int    `mapstructure:"monthly_limit"`
	GroupLimit     int    `mapstructure:"group_limit"`
	StoreTimeout   int    `mapstructure:"store_timeout"`   // milliseconds, per cache round trip
	NotifyWindow   int    `mapstructure:"notify_window"`   // seconds between limit-reached DMs
	ResetTimezone  string `mapstructure:"reset_timezone"`  // fixed zone for counter boundaries
	CommitAttempts int    `mapstructure:"commit_attempts"` // CAS retries before fail-safe deny
}

// BillingConfig holds settings for the payment-processor webhook and reconciler.
type BillingConfig struct {
	WebhookSecret      string `mapstructure:"webhook_secret"`
	SignatureTolerance int    `mapstructure:"signature_tolerance"` // seconds
	DedupWindow        int    `mapstructure:"dedup_window"`        // seconds
	MaxAttempts        int    `mapstructure:"max_attempts"`
	RetryBackoff       int    `mapstructure:"retry_backoff"` // milliseconds, initial
	QueueKey           string `mapstructure:"queue_key"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// AIConfig selects the summarization provider. The provider itself is an
// external collaborator; only the selection lives here.
type AIConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

// AlertingConfig holds settings for the operator alert sink.
type AlertingConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
