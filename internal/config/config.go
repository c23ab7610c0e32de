// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. NEWSLETTER_DB_DSN.
const EnvPrefix = "NEWSLETTER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Source  SourceConfig  `mapstructure:"source"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	Queue   QueueConfig   `mapstructure:"queue"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Lock    LockConfig    `mapstructure:"lock"`
	Push    PushConfig    `mapstructure:"push"`
	Site    SiteConfig    `mapstructure:"site"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles for the admin routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the upstream publishing platform.
type SourceConfig struct {
	ArchiveURL       string            `mapstructure:"archive_url"`
	BaseURL          string            `mapstructure:"base_url"`
	LinkPrefix       string            `mapstructure:"link_prefix"`
	UserAgent        string            `mapstructure:"user_agent"`
	Headers          map[string]string `mapstructure:"headers"`
	ListingTimeout   time.Duration     `mapstructure:"listing_timeout"`
	DetailTimeout    time.Duration     `mapstructure:"detail_timeout"`
	ChallengeMarkers []string          `mapstructure:"challenge_markers"`
	MinInterval      time.Duration     `mapstructure:"min_interval"`
}

// RetryConfig bounds fetch retries.
type RetryConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	ChallengeRetries int           `mapstructure:"challenge_retries"`
	ChallengeDelay   time.Duration `mapstructure:"challenge_delay"`
}

// IngestConfig governs the ingestion pipeline and its schedule.
type IngestConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	ScheduleEnabled bool          `mapstructure:"schedule_enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
	Snapshot        bool          `mapstructure:"snapshot"`
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	TaskBackoff     time.Duration `mapstructure:"task_backoff"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// StorageConfig selects where raw listing snapshots go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// QueueConfig selects the task queue transport.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
}

// PubSubConfig holds identifiers for the Pub/Sub task queue.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// LockConfig configures the cross-process run lock.
type LockConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Key       string        `mapstructure:"key"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PushConfig configures Web Push delivery.
type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subject         string        `mapstructure:"subject"`
	Icon            string        `mapstructure:"icon"`
	TTL             int           `mapstructure:"ttl"`
	Urgency         string        `mapstructure:"urgency"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SiteConfig describes the public site used by feeds and notification links.
type SiteConfig struct {
	Title       string `mapstructure:"title"`
	URL         string `mapstructure:"url"`
	Description string `mapstructure:"description"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv populates the process environment from path without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("source.archive_url", "https://app.robly.com/public/archives?a=b31b32385b5904b5")
	v.SetDefault("source.base_url", "https://app.robly.com")
	v.SetDefault("source.link_prefix", "/archive?id=")
	v.SetDefault("source.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("source.headers", map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	})
	v.SetDefault("source.listing_timeout", 10*time.Second)
	v.SetDefault("source.detail_timeout", 15*time.Second)
	v.SetDefault("source.challenge_markers", []string{
		"AwsWafIntegration.checkForceRefresh",
		"challenge-platform",
		"cf-browser-verification",
	})
	v.SetDefault("source.min_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.backoff_initial", time.Second)
	v.SetDefault("retry.backoff_max", 4*time.Second)
	v.SetDefault("retry.challenge_retries", 1)
	v.SetDefault("retry.challenge_delay", time.Second)
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.schedule_enabled", true)
	v.SetDefault("ingest.interval", 6*time.Hour)
	v.SetDefault("ingest.run_timeout", 30*time.Minute)
	v.SetDefault("ingest.snapshot", false)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.task_backoff", time.Minute)
	// Keys without a meaningful default are still registered so env overrides reach Unmarshal.
	for _, key := range []string{
		"auth.api_key", "db.dsn", "storage.gcs_bucket", "pubsub.project_id",
		"pubsub.topic_name", "pubsub.subscription_id", "lock.redis_addr",
		"push.vapid_public_key", "push.vapid_private_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "snapshots")
	v.SetDefault("storage.prefix", "listings")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 16)
	v.SetDefault("lock.key", "newsletter-archive:ingest")
	v.SetDefault("lock.ttl", 45*time.Minute)
	v.SetDefault("push.enabled", false)
	v.SetDefault("push.subject", "mailto:admin@example.com")
	v.SetDefault("push.icon", "/icon.png")
	v.SetDefault("push.ttl", 86400)
	v.SetDefault("push.urgency", "normal")
	v.SetDefault("push.max_concurrency", 8)
	v.SetDefault("push.timeout", 10*time.Second)
	v.SetDefault("site.title", "Newsletter Archive")
	v.SetDefault("site.url", "http://localhost:8080")
	v.SetDefault("site.description", "Past issues of the newsletter")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Source.ArchiveURL == "" || c.Source.BaseURL == "" {
		return fmt.Errorf("source.archive_url and source.base_url must be set")
	}
	if c.Source.LinkPrefix == "" {
		return fmt.Errorf("source.link_prefix must be set")
	}
	if c.Source.ListingTimeout <= 0 || c.Source.DetailTimeout <= 0 {
		return fmt.Errorf("source timeouts must be > 0")
	}
	if c.Retry.MaxRetries < 0 || c.Retry.ChallengeRetries < 0 {
		return fmt.Errorf("retry counts must be >= 0")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be > 0")
	}
	if c.Ingest.ScheduleEnabled && c.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be > 0 when scheduling is enabled")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" || c.PubSub.SubscriptionID == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.topic_name and pubsub.subscription_id are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("unsupported queue.backend %q", c.Queue.Backend)
	}
	if c.Push.Enabled && (c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push VAPID keys must be set when push is enabled")
	}
	return nil
}

// SourceHeaders converts the configured header map into an http.Header.
func (c Config) SourceHeaders() http.Header {
	headers := make(http.Header, len(c.Source.Headers))
	for key, value := range c.Source.Headers {
		headers.Set(key, value)
	}
	return headers
}
