package config

// EnvPrefix is passed to envconfig; every field carries its full variable
// name so the prefix only matters for unset tags.
const EnvPrefix = "ISPBOX"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "ISPBOX_APP_ENV"
	EnvPort     = "ISPBOX_APP_PORT"
	EnvLogLevel = "ISPBOX_LOG_LEVEL"

	EnvDBDSN  = "ISPBOX_DB_DSN"
	EnvDBHost = "ISPBOX_DB_HOST"
	EnvDBUser = "ISPBOX_DB_USER"
	EnvDBName = "ISPBOX_DB_NAME"

	EnvRedisURL  = "ISPBOX_REDIS_URL"
	EnvUseSQLite = "ISPBOX_USE_SQLITE"

	EnvLedgerForcePost = "ISPBOX_LEDGER_FORCE_POST_CATEGORIES"

	EnvFUPMaxAttempts = "ISPBOX_FUP_MAX_ATTEMPTS"

	EnvBillingTaxRate       = "ISPBOX_BILLING_TAX_RATE_PERCENT"
	EnvBillingDueDays       = "ISPBOX_BILLING_DUE_DAYS"
	EnvBillingUniqueCodeMax = "ISPBOX_BILLING_UNIQUE_CODE_MAX"

	EnvPubSubBillingTopic = "ISPBOX_PUBSUB_BILLING_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
