package config

import (
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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Ledger       LedgerConfig
	Pool         PoolConfig
	FUP          FUPConfig
	Billing      BillingConfig
	Router       RouterConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

// Load reads the process environment once at boot. The returned config is
// treated as immutable by every component.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ISPBOX_APP_ENV" required:"true"`
	Port         string `envconfig:"ISPBOX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ISPBOX_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"ISPBOX_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"ISPBOX_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists admin UI origins allowed to call the API.
	CORSOrigins []string `envconfig:"ISPBOX_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ISPBOX_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ISPBOX_DB_DSN"`
	Driver string `envconfig:"ISPBOX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ISPBOX_DB_HOST"`
	LegacyPort     int    `envconfig:"ISPBOX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ISPBOX_DB_USER"`
	LegacyPassword string `envconfig:"ISPBOX_DB_PASSWORD"`
	LegacyName     string `envconfig:"ISPBOX_DB_NAME"`
	LegacySSLMode  string `envconfig:"ISPBOX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ISPBOX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ISPBOX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ISPBOX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ISPBOX_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"ISPBOX_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ISPBOX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ISPBOX_REDIS_ADDR"`
	Password     string        `envconfig:"ISPBOX_REDIS_PASSWORD"`
	DB           int           `envconfig:"ISPBOX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ISPBOX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ISPBOX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ISPBOX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ISPBOX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ISPBOX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ISPBOX_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ISPBOX_AUTO_MIGRATE" default:"false"`
	// RouterDryRun swaps the router driver for a log-only pusher.
	RouterDryRun bool `envconfig:"ISPBOX_ROUTER_DRY_RUN" default:"false"`
}

type EventingConfig struct {
	WebhookReplayTTL  time.Duration `envconfig:"ISPBOX_EVENTING_WEBHOOK_REPLAY_TTL" default:"168h"`
	WebhookRateLimit  int           `envconfig:"ISPBOX_EVENTING_WEBHOOK_RATE_LIMIT" default:"120"`
	WebhookRateWindow time.Duration `envconfig:"ISPBOX_EVENTING_WEBHOOK_RATE_WINDOW" default:"1m"`
}

type LedgerConfig struct {
	// ForcePostCategories lists additional categories allowed to drive a
	// balance below the credit limit. penalty and reversal are always allowed.
	ForcePostCategories []string `envconfig:"ISPBOX_LEDGER_FORCE_POST_CATEGORIES"`
}

type PoolConfig struct {
	DefaultReservationTTL time.Duration `envconfig:"ISPBOX_POOL_DEFAULT_RESERVATION_TTL" default:"15m"`
	SweepBatchSize        int           `envconfig:"ISPBOX_POOL_SWEEP_BATCH_SIZE" default:"200"`
}

type FUPConfig struct {
	MaxAttempts          int           `envconfig:"ISPBOX_FUP_MAX_ATTEMPTS" default:"5"`
	InitialBackoff       time.Duration `envconfig:"ISPBOX_FUP_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff           time.Duration `envconfig:"ISPBOX_FUP_MAX_BACKOFF" default:"10s"`
	LeaseTTL             time.Duration `envconfig:"ISPBOX_FUP_LEASE_TTL" default:"2m"`
	DispatchPollInterval time.Duration `envconfig:"ISPBOX_FUP_DISPATCH_POLL_INTERVAL" default:"5s"`
	DispatchBatchSize    int           `envconfig:"ISPBOX_FUP_DISPATCH_BATCH_SIZE" default:"50"`
}

type BillingConfig struct {
	// TaxRatePercent is a decimal string such as "11" or "11.5".
	TaxRatePercent      string `envconfig:"ISPBOX_BILLING_TAX_RATE_PERCENT" default:"11"`
	DueDays             int    `envconfig:"ISPBOX_BILLING_DUE_DAYS" default:"10"`
	UniqueCodeMax       int    `envconfig:"ISPBOX_BILLING_UNIQUE_CODE_MAX" default:"999"`
	UniqueCodeAttempts  int    `envconfig:"ISPBOX_BILLING_UNIQUE_CODE_ATTEMPTS" default:"50"`
	PaymentSourceHeader string `envconfig:"ISPBOX_BILLING_PAYMENT_SOURCE_HEADER" default:"X-Payment-Source"`
}

func (b BillingConfig) validate() error {
	if b.UniqueCodeMax < 1 || b.UniqueCodeMax > 999 {
		return fmt.Errorf("%s must be within 1..999", EnvBillingUniqueCodeMax)
	}
	if b.DueDays < 0 {
		return fmt.Errorf("%s must not be negative", EnvBillingDueDays)
	}
	return nil
}

type RouterConfig struct {
	BaseURL string        `envconfig:"ISPBOX_ROUTER_BASE_URL"`
	Token   string        `envconfig:"ISPBOX_ROUTER_TOKEN"`
	Timeout time.Duration `envconfig:"ISPBOX_ROUTER_TIMEOUT" default:"5s"`
	// RateLimit caps profile pushes per second; zero disables it.
	RateLimit float64 `envconfig:"ISPBOX_ROUTER_RATE_LIMIT" default:"20"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ISPBOX_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ISPBOX_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ISPBOX_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic          string        `envconfig:"ISPBOX_PUBSUB_BILLING_TOPIC" default:"ispbox-billing-events"`
	NetworkTopic          string        `envconfig:"ISPBOX_PUBSUB_NETWORK_TOPIC" default:"ispbox-network-events"`
	CreateTopics          bool          `envconfig:"ISPBOX_PUBSUB_CREATE_TOPICS" default:"false"`
	PublishDelay          time.Duration `envconfig:"ISPBOX_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishCountThreshold int           `envconfig:"ISPBOX_PUBSUB_PUBLISH_COUNT_THRESHOLD" default:"100"`
	PublishTimeout        time.Duration `envconfig:"ISPBOX_PUBSUB_PUBLISH_TIMEOUT" default:"60s"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ISPBOX_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ISPBOX_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ISPBOX_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	// Interval is the scheduler tick. Each job keeps its own cadence below.
	Interval             time.Duration `envconfig:"ISPBOX_CRON_INTERVAL" default:"30s"`
	LockTTL              time.Duration `envconfig:"ISPBOX_CRON_LOCK_TTL" default:"10m"`
	BatchSize            int           `envconfig:"ISPBOX_CRON_BATCH_SIZE" default:"200"`
	SweepEvery           time.Duration `envconfig:"ISPBOX_CRON_SWEEP_EVERY" default:"1m"`
	CycleResetEvery      time.Duration `envconfig:"ISPBOX_CRON_CYCLE_RESET_EVERY" default:"5m"`
	VoucherExpiryEvery   time.Duration `envconfig:"ISPBOX_CRON_VOUCHER_EXPIRY_EVERY" default:"1h"`
	OutboxRetentionEvery time.Duration `envconfig:"ISPBOX_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
	// OutboxRetentionDays is how long published events are kept.
	OutboxRetentionDays int `envconfig:"ISPBOX_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:ispbox.db?_busy_timeout=5000"
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
