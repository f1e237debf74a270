package config

const EnvPrefix = "SOLVERPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	DispatchTransportPubSub = "pubsub"
	DispatchTransportNATS   = "nats"
)

const (
	EnvAppEnv   = "SOLVERPAY_APP_ENV"
	EnvPort     = "SOLVERPAY_APP_PORT"
	EnvLogLevel = "SOLVERPAY_LOG_LEVEL"

	EnvDBDSN  = "SOLVERPAY_DB_DSN"
	EnvDBHost = "SOLVERPAY_DB_HOST"
	EnvDBPort = "SOLVERPAY_DB_PORT"
	EnvDBUser = "SOLVERPAY_DB_USER"
	EnvDBPass = "SOLVERPAY_DB_PASSWORD"
	EnvDBName = "SOLVERPAY_DB_NAME"

	EnvUseSQLite = "SOLVERPAY_USE_SQLITE"

	EnvRedisURL = "SOLVERPAY_REDIS_URL"

	EnvJWTSecret  = "SOLVERPAY_JWT_SECRET"
	EnvJWTIssuer  = "SOLVERPAY_JWT_ISSUER"
	EnvJWTExpMins = "SOLVERPAY_JWT_EXPIRATION_MINUTES"

	EnvRateLimitPerMinute = "SOLVERPAY_RATE_LIMIT_PER_MINUTE"
	EnvRateLimitBackend   = "SOLVERPAY_RATE_LIMIT_BACKEND"

	EnvPricePer1000    = "SOLVERPAY_PRICE_PER_1000"
	EnvPriceOverrides  = "SOLVERPAY_PRICE_OVERRIDES"
	EnvJobTimeout      = "SOLVERPAY_JOB_TIMEOUT"
	EnvJobMaxRetries   = "SOLVERPAY_JOB_MAX_RETRIES"
	EnvGCPProjectID    = "SOLVERPAY_GCP_PROJECT_ID"
	EnvPubSubJobsTopic = "SOLVERPAY_PUBSUB_JOBS_TOPIC"

	EnvDispatchTransport = "SOLVERPAY_DISPATCH_TRANSPORT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
