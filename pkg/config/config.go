package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Ledger       LedgerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"UNIMART_APP_ENV" required:"true"`
	Port         string `envconfig:"UNIMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"UNIMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"UNIMART_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"UNIMART_LOG_FORMAT" default:"json"`

	// CORSOrigins adds allowed browser origins on top of local development.
	CORSOrigins []string `envconfig:"UNIMART_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind       string `envconfig:"UNIMART_SERVICE_KIND" default:"api"`
	InstanceID string `envconfig:"UNIMART_INSTANCE_ID"`

	// MetricsAddr is where background workers expose /metrics. Empty disables the listener.
	MetricsAddr string `envconfig:"UNIMART_WORKER_METRICS_ADDR"`
}

// Instance names this process in startup logs, defaulting to the hostname.
func (s ServiceConfig) Instance() string {
	if id := strings.TrimSpace(s.InstanceID); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return s.Kind + "-0"
}

type DBConfig struct {
	DSN    string `envconfig:"UNIMART_DB_DSN"`
	Driver string `envconfig:"UNIMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"UNIMART_DB_HOST"`
	LegacyPort     int    `envconfig:"UNIMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"UNIMART_DB_USER"`
	LegacyPassword string `envconfig:"UNIMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"UNIMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"UNIMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"UNIMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"UNIMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"UNIMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"UNIMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"UNIMART_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"UNIMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"UNIMART_REDIS_ADDR"`
	Password     string        `envconfig:"UNIMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"UNIMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"UNIMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"UNIMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"UNIMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"UNIMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"UNIMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"UNIMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"UNIMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"UNIMART_JWT_EXPIRATION_MINUTES" required:"true"`
	RequireSession    bool   `envconfig:"UNIMART_JWT_REQUIRE_SESSION" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"UNIMART_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"UNIMART_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// LedgerConfig holds money rules that the payment channels impose on the wallet.
type LedgerConfig struct {
	PayoutMinimum    string        `envconfig:"UNIMART_LEDGER_PAYOUT_MINIMUM" default:"1"`
	SettlementWindow time.Duration `envconfig:"UNIMART_LEDGER_PAYOUT_SETTLEMENT_WINDOW" default:"24h"`
	MaxRetries       int           `envconfig:"UNIMART_LEDGER_MAX_RETRIES" default:"3"`
	// ChannelMinimums is a comma separated list of channel:amount pairs, e.g. "gcash:20,card:100".
	ChannelMinimums map[string]string `envconfig:"UNIMART_LEDGER_CHANNEL_MINIMUMS" default:"gcash:20,paymaya:20,grab_pay:20,card:100,manual:0"`
}

// PayoutMinimumAmount parses the configured payout minimum.
func (l LedgerConfig) PayoutMinimumAmount() decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(l.PayoutMinimum))
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// ChannelMinimumAmounts returns the minimum payment amount per channel.
func (l LedgerConfig) ChannelMinimumAmounts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.ChannelMinimums))
	for channel, raw := range l.ChannelMinimums {
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(channel))] = amount
	}
	return out
}

func (l LedgerConfig) validate() error {
	if _, err := decimal.NewFromString(strings.TrimSpace(l.PayoutMinimum)); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvLedgerPayoutMinimum, err)
	}
	for channel, raw := range l.ChannelMinimums {
		if _, err := decimal.NewFromString(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("invalid minimum for channel %q: %w", channel, err)
		}
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"UNIMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"UNIMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"UNIMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"UNIMART_PUBSUB_LEDGER_TOPIC" default:"unimart-ledger-events"`
	// PayoutTopic carries payout lifecycle events for the disbursement side.
	// Empty keeps them on LedgerTopic.
	PayoutTopic string `envconfig:"UNIMART_PUBSUB_PAYOUT_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"UNIMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"UNIMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"UNIMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"UNIMART_OUTBOX_RETENTION_DAYS" default:"30"`
}

// RateLimitConfig throttles the authenticated API and the webhook surface.
type RateLimitConfig struct {
	Window       time.Duration `envconfig:"UNIMART_RATE_LIMIT_WINDOW" default:"1m"`
	UserLimit    int           `envconfig:"UNIMART_RATE_LIMIT_USER" default:"120"`
	IPLimit      int           `envconfig:"UNIMART_RATE_LIMIT_IP" default:"300"`
	WebhookLimit int           `envconfig:"UNIMART_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"UNIMART_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"UNIMART_CRON_LOCK_TTL" default:"30m"`
}

type StripeConfig struct {
	APIKey string `envconfig:"UNIMART_STRIPE_API_KEY"`
	Secret string `envconfig:"UNIMART_STRIPE_SECRET"`
	Env    string `envconfig:"UNIMART_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
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
