package config

// EnvPrefix namespaces every variable read by envconfig.
const EnvPrefix = "PAYCORE"

const AppEnvDev = "dev"

const (
	EnvAppEnv         = "PAYCORE_APP_ENV"
	EnvPort           = "PAYCORE_APP_PORT"
	EnvDBDSN          = "PAYCORE_DB_DSN"
	EnvDBHost         = "PAYCORE_DB_HOST"
	EnvDBUser         = "PAYCORE_DB_USER"
	EnvDBName         = "PAYCORE_DB_NAME"
	EnvRedisURL       = "PAYCORE_REDIS_URL"
	EnvJWTSecret      = "PAYCORE_JWT_SECRET"
	EnvJWTIssuer      = "PAYCORE_JWT_ISSUER"
	EnvCredentialsKey = "PAYCORE_CREDENTIALS_KEY"
	EnvGatewayTimeout = "PAYCORE_GATEWAY_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
