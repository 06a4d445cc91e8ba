package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Gateway      GatewayConfig
	Security     SecurityConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Security.Key(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string   `envconfig:"PAYCORE_APP_ENV" required:"true"`
	Port          string   `envconfig:"PAYCORE_APP_PORT" required:"true"`
	LogLevel      string   `envconfig:"PAYCORE_LOG_LEVEL" default:"info"`
	LogWarnStack  bool     `envconfig:"PAYCORE_LOG_WARN_STACK" default:"false"`
	PublicBaseURL string   `envconfig:"PAYCORE_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	CORSOrigins   []string `envconfig:"PAYCORE_CORS_ORIGINS"`

	ReadHeaderTimeout time.Duration `envconfig:"PAYCORE_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout   time.Duration `envconfig:"PAYCORE_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYCORE_DB_DSN"`
	Driver string `envconfig:"PAYCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYCORE_DB_USER"`
	LegacyPassword string `envconfig:"PAYCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PAYCORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYCORE_REDIS_ADDR"`
	Password     string        `envconfig:"PAYCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig only carries what is needed to verify tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"PAYCORE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PAYCORE_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYCORE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PAYCORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookDedupTTL      time.Duration `envconfig:"PAYCORE_WEBHOOK_DEDUP_TTL" default:"72h"`
}

// GatewayConfig bounds every outbound provider call.
type GatewayConfig struct {
	Timeout          time.Duration `envconfig:"PAYCORE_GATEWAY_TIMEOUT" default:"5s"`
	MaxRetries       uint64        `envconfig:"PAYCORE_GATEWAY_MAX_RETRIES" default:"3"`
	BackoffBase      time.Duration `envconfig:"PAYCORE_GATEWAY_BACKOFF_BASE" default:"100ms"`
	BackoffCap       time.Duration `envconfig:"PAYCORE_GATEWAY_BACKOFF_CAP" default:"2s"`
	ResponseCacheTTL time.Duration `envconfig:"PAYCORE_GATEWAY_RESPONSE_CACHE_TTL" default:"24h"`
}

type SecurityConfig struct {
	// CredentialsKey is a base64 encoded 32 byte key used to seal plugin credentials.
	CredentialsKey string `envconfig:"PAYCORE_CREDENTIALS_KEY" required:"true"`
}

// Key decodes the credentials sealing key.
func (s SecurityConfig) Key() ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s.CredentialsKey))
	if err != nil {
		return key, fmt.Errorf("%s must be base64: %w", EnvCredentialsKey, err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("%s must decode to %d bytes, got %d", EnvCredentialsKey, len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"PAYCORE_CRON_INTERVAL" default:"5m"`
	LockTTL        time.Duration `envconfig:"PAYCORE_CRON_LOCK_TTL" default:"10m"`
	JobTimeout     time.Duration `envconfig:"PAYCORE_CRON_JOB_TIMEOUT" default:"4m"`
	ReconcileAfter time.Duration `envconfig:"PAYCORE_CRON_RECONCILE_AFTER" default:"15m"`
	ReconcileLimit int           `envconfig:"PAYCORE_CRON_RECONCILE_LIMIT" default:"100"`

	OutboxRetention      time.Duration `envconfig:"PAYCORE_CRON_OUTBOX_RETENTION" default:"720h"`
	OutboxRetentionBatch int           `envconfig:"PAYCORE_CRON_OUTBOX_RETENTION_BATCH" default:"500"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic         string `envconfig:"PAYCORE_PUBSUB_PAYMENTS_TOPIC" default:"paycore-payment-events"`
	AnalyticsSubscription string `envconfig:"PAYCORE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"paycore-payment-analytics"`

	// Receive flow control for consumers.
	MaxOutstandingMessages int `envconfig:"PAYCORE_PUBSUB_MAX_OUTSTANDING" default:"100"`
	NumGoroutines          int `envconfig:"PAYCORE_PUBSUB_RECEIVE_GOROUTINES" default:"2"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"PAYCORE_BIGQUERY_DATASET" default:"paycore"`
	PaymentEventsTable string `envconfig:"PAYCORE_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
	InsertBatchSize    int    `envconfig:"PAYCORE_BIGQUERY_INSERT_BATCH_SIZE" default:"1"`
	InsertMaxAttempts  int    `envconfig:"PAYCORE_BIGQUERY_INSERT_MAX_ATTEMPTS" default:"3"`

	// CreateMissing lets the analytics worker create the dataset and tables
	// on boot. Production provisions them with Terraform.
	CreateMissing bool   `envconfig:"PAYCORE_BIGQUERY_CREATE_MISSING" default:"false"`
	Location      string `envconfig:"PAYCORE_BIGQUERY_LOCATION" default:"US"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PAYCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PAYCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PAYCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr exposes /metrics and /healthz from the publisher when set.
	MetricsAddr string `envconfig:"PAYCORE_OUTBOX_METRICS_ADDR"`
}

// RateLimitConfig bounds unauthenticated provider traffic per client IP.
type RateLimitConfig struct {
	WebhookWindow time.Duration `envconfig:"PAYCORE_WEBHOOK_RATE_LIMIT_WINDOW" default:"1m"`
	WebhookLimit  int           `envconfig:"PAYCORE_WEBHOOK_RATE_LIMIT" default:"120"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
