package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	APIKey        APIKeyConfig
	RateLimit     RateLimitConfig
	AuthRateLimit AuthRateLimitConfig
	Pricing       PricingConfig
	Jobs          JobsConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Dispatch      DispatchConfig
	Outbox        OutboxConfig
	Metrics       MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SOLVERPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"SOLVERPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOLVERPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOLVERPAY_LOG_WARN_STACK" default:"false"`

	// CORSOrigins lists browser origins allowed on the public API; empty allows any.
	CORSOrigins []string `envconfig:"SOLVERPAY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SOLVERPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SOLVERPAY_DB_DSN"`
	Driver string `envconfig:"SOLVERPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOLVERPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"SOLVERPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOLVERPAY_DB_USER"`
	LegacyPassword string `envconfig:"SOLVERPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOLVERPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOLVERPAY_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"SOLVERPAY_SQLITE_PATH" default:"solverpay.db"`

	MaxOpenConns    int           `envconfig:"SOLVERPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOLVERPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOLVERPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOLVERPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SOLVERPAY_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOLVERPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOLVERPAY_REDIS_ADDR"`
	Password     string        `envconfig:"SOLVERPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOLVERPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOLVERPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOLVERPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOLVERPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOLVERPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOLVERPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig signs the service tokens used by workers and operators on the internal routes.
type JWTConfig struct {
	Secret            string `envconfig:"SOLVERPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SOLVERPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SOLVERPAY_JWT_EXPIRATION_MINUTES" default:"1440"`
}

// APIKeyConfig holds the argon2id parameters for client API keys. Keys are verified on every
// request, so the defaults are lighter than interactive password hashing.
type APIKeyConfig struct {
	ArgonMemoryKB    int `envconfig:"SOLVERPAY_APIKEY_ARGON_MEMORY_KB" default:"16384"`
	ArgonTime        int `envconfig:"SOLVERPAY_APIKEY_ARGON_TIME" default:"1"`
	ArgonParallelism int `envconfig:"SOLVERPAY_APIKEY_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SOLVERPAY_APIKEY_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SOLVERPAY_APIKEY_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	PerMinute int           `envconfig:"SOLVERPAY_RATE_LIMIT_PER_MINUTE" default:"60"`
	Window    time.Duration `envconfig:"SOLVERPAY_RATE_LIMIT_WINDOW" default:"1m"`
	Backend   string        `envconfig:"SOLVERPAY_RATE_LIMIT_BACKEND" default:"redis"`
}

// AuthRateLimitConfig throttles unauthenticated surfaces per client IP.
type AuthRateLimitConfig struct {
	Window  time.Duration `envconfig:"SOLVERPAY_AUTH_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit int           `envconfig:"SOLVERPAY_AUTH_RATE_LIMIT_IP_LIMIT" default:"120"`
}

type PricingConfig struct {
	PricePer1000 string `envconfig:"SOLVERPAY_PRICE_PER_1000" default:"2.99"`
	// Overrides maps a job type to its own price per 1000 jobs, e.g. "RecaptchaV3Task:3.49".
	Overrides map[string]string `envconfig:"SOLVERPAY_PRICE_OVERRIDES"`
}

func (p PricingConfig) validate() error {
	if _, err := decimal.NewFromString(strings.TrimSpace(p.PricePer1000)); err != nil {
		return fmt.Errorf("invalid %s %q: %w", EnvPricePer1000, p.PricePer1000, err)
	}
	for jobType, raw := range p.Overrides {
		if _, err := decimal.NewFromString(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("invalid price override for %s: %w", jobType, err)
		}
	}
	return nil
}

type JobsConfig struct {
	Timeout         time.Duration `envconfig:"SOLVERPAY_JOB_TIMEOUT" default:"120s"`
	DispatchTimeout time.Duration `envconfig:"SOLVERPAY_JOB_DISPATCH_TIMEOUT" default:"60s"`
	MaxRetries      int           `envconfig:"SOLVERPAY_JOB_MAX_RETRIES" default:"3"`
	SweepInterval   time.Duration `envconfig:"SOLVERPAY_JOB_SWEEP_INTERVAL" default:"30s"`
	SweepBatchSize  int           `envconfig:"SOLVERPAY_JOB_SWEEP_BATCH_SIZE" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SOLVERPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SOLVERPAY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SOLVERPAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SOLVERPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	JobsTopic            string `envconfig:"SOLVERPAY_PUBSUB_JOBS_TOPIC" default:"sp-jobs"`
	LifecycleTopic       string `envconfig:"SOLVERPAY_PUBSUB_LIFECYCLE_TOPIC" default:"sp-job-lifecycle"`
	OutcomesSubscription string `envconfig:"SOLVERPAY_PUBSUB_OUTCOMES_SUBSCRIPTION" default:"sp-job-outcomes-sub"`
}

type DispatchConfig struct {
	Transport         string `envconfig:"SOLVERPAY_DISPATCH_TRANSPORT" default:"pubsub"`
	NATSURL           string `envconfig:"SOLVERPAY_NATS_URL" default:"nats://127.0.0.1:4222"`
	NATSJobsSubject   string `envconfig:"SOLVERPAY_NATS_JOBS_SUBJECT" default:"sp.jobs.dispatch"`
	NATSLifecycleSubj string `envconfig:"SOLVERPAY_NATS_LIFECYCLE_SUBJECT" default:"sp.jobs.lifecycle"`
	NATSOutcomesSubj  string `envconfig:"SOLVERPAY_NATS_OUTCOMES_SUBJECT" default:"sp.jobs.outcomes"`
	NATSQueueGroup    string `envconfig:"SOLVERPAY_NATS_QUEUE_GROUP" default:"solverpay-outcomes"`
}

// UsesNATS reports whether jobs and outcomes flow over NATS instead of Pub/Sub.
func (d DispatchConfig) UsesNATS() bool {
	return strings.EqualFold(strings.TrimSpace(d.Transport), DispatchTransportNATS)
}

func (d DispatchConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(d.Transport)) {
	case DispatchTransportPubSub, DispatchTransportNATS:
		return nil
	default:
		return fmt.Errorf("invalid %s %q", EnvDispatchTransport, d.Transport)
	}
}

type OutboxConfig struct {
	BatchSize        int `envconfig:"SOLVERPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int `envconfig:"SOLVERPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int `envconfig:"SOLVERPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int `envconfig:"SOLVERPAY_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int `envconfig:"SOLVERPAY_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	PruneBatchSize   int `envconfig:"SOLVERPAY_OUTBOX_PRUNE_BATCH_SIZE" default:"500"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"SOLVERPAY_METRICS_ENABLED" default:"true"`
	// WorkerAddr is where background workers expose /metrics.
	WorkerAddr string `envconfig:"SOLVERPAY_METRICS_WORKER_ADDR" default:":9091"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
