package config

const (
	EnvPrefix = "UNIMART"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "UNIMART_APP_ENV"
	EnvPort     = "UNIMART_APP_PORT"
	EnvLogLevel = "UNIMART_LOG_LEVEL"

	EnvDBDSN  = "UNIMART_DB_DSN"
	EnvDBHost = "UNIMART_DB_HOST"
	EnvDBUser = "UNIMART_DB_USER"
	EnvDBName = "UNIMART_DB_NAME"

	EnvRedisURL = "UNIMART_REDIS_URL"

	EnvJWTSecret  = "UNIMART_JWT_SECRET"
	EnvJWTIssuer  = "UNIMART_JWT_ISSUER"
	EnvJWTExpMins = "UNIMART_JWT_EXPIRATION_MINUTES"

	EnvLedgerPayoutMinimum   = "UNIMART_LEDGER_PAYOUT_MINIMUM"
	EnvLedgerChannelMinimums = "UNIMART_LEDGER_CHANNEL_MINIMUMS"

	EnvPubSubLedgerTopic = "UNIMART_PUBSUB_LEDGER_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
