package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"fwupdate/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return unmarshal()
}

// LoadFromEnv builds the configuration from defaults and environment
// variables only, for runtimes without a config file.
func LoadFromEnv() (*Config, error) {
	viper.Reset()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())
	bindEnvVariables()

	return unmarshal()
}

func unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_seconds", constants.DefaultServerTimeoutSecs)
	v.SetDefault("server.write_timeout_seconds", constants.DefaultServerTimeoutSecs)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("notehub.api_url", constants.DefaultNotehubAPIURL)
	v.SetDefault("notehub.oauth_url", constants.DefaultNotehubOAuthURL)
	v.SetDefault("notehub.timeout_seconds", constants.DefaultNotehubTimeoutSecs)

	v.SetDefault("firmware.cache_ttl_seconds", constants.DefaultCacheTTLSeconds)
	v.SetDefault("firmware.dry_run", false)
	v.SetDefault("firmware.rules_source", constants.RulesSourceBuiltin)
	v.SetDefault("firmware.reload.interval_seconds", constants.DefaultReloadIntervalSecs)
	v.SetDefault("firmware.reload.jitter_max_ms", 0)
	v.SetDefault("firmware.reload.retry_max_seconds", constants.DefaultReloadRetrySecs)
	v.SetDefault("firmware.resolve_fleets", false)

	v.SetDefault("broker.kafka.group_id", constants.ServiceName)

	v.SetDefault("database.redis.port", constants.DefaultRedisPort)
	v.SetDefault("database.postgres.port", constants.DefaultPostgresPort)
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("circuit_breaker.max_requests", constants.DefaultCircuitMaxRequests)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.failure_ratio", constants.DefaultCircuitFailureRatio)
	v.SetDefault("circuit_breaker.min_requests", constants.DefaultCircuitMinRequests)

	v.SetDefault("tracing.service_name", constants.ServiceName)

	v.SetDefault("rate_limit.rps", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.cleanup_interval", 60)
	v.SetDefault("rate_limit.max_age", 300)
}

func bindEnvVariables() {
	viper.BindEnv("notehub.project_uid", "NOTEHUB_PROJECT_UID")
	viper.BindEnv("notehub.client_id", "NOTEHUB_CLIENT_ID")
	viper.BindEnv("notehub.client_secret", "NOTEHUB_CLIENT_SECRET")
	viper.BindEnv("notehub.access_token", "NOTEHUB_ACCESS_TOKEN")
	viper.BindEnv("notehub.api_url", "NOTEHUB_API_URL")

	viper.BindEnv("auth.token", "FIRMWARE_CHECK_AUTH_TOKEN")

	viper.BindEnv("firmware.cache_ttl_seconds", "FIRMWARE_CACHE_TTL_SECONDS")
	viper.BindEnv("firmware.dry_run", "FIRMWARE_DRY_RUN")
	viper.BindEnv("firmware.rules_source", "FIRMWARE_RULES_SOURCE")
	viper.BindEnv("firmware.rules_file", "FIRMWARE_RULES_FILE")
	viper.BindEnv("firmware.dynamodb_table", "FIRMWARE_DYNAMODB_TABLE")
	viper.BindEnv("firmware.shared_catalog", "FIRMWARE_SHARED_CATALOG")
	viper.BindEnv("firmware.resolve_fleets", "FIRMWARE_RESOLVE_FLEETS")

	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.events_topic", "BROKER_KAFKA_EVENTS_TOPIC")
	viper.BindEnv("broker.kafka.rules_topic", "BROKER_KAFKA_RULES_TOPIC")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.publish_timeout_ms", "BROKER_KAFKA_PUBLISH_TIMEOUT_MS")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	cfg.Notehub.AccessToken = strings.TrimSpace(cfg.Notehub.AccessToken)
	cfg.Auth.Token = strings.TrimSpace(cfg.Auth.Token)

	return nil
}
