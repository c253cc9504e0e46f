package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"fwupdate/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var (
	logLevels  = []string{"", "debug", "info", "warn", "error"}
	logFormats = []string{"", "json", "console"}
	sslModes   = []string{"", "disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
)

// problems collects every violation so one failed start reports them all.
type problems []error

func (p *problems) add(field, format string, args ...interface{}) {
	*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) port(field string, port int) {
	if port < 1 || port > 65535 {
		p.add(field, "port must be between 1 and 65535, got %d", port)
	}
}

func (p *problems) oneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, strings.ToLower(value)) {
		p.add(field, "invalid value %q (valid: %s)", value, strings.Join(allowed[1:], ", "))
	}
}

// ValidateStatic checks what can be checked without reaching any collaborator.
func ValidateStatic(cfg *Config) error {
	var p problems

	p.port("server.port", cfg.Server.Port)
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		p.add("server.read_timeout_seconds", "read timeout must be positive")
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		p.add("server.write_timeout_seconds", "write timeout must be positive")
	}

	p.oneOf("logging.level", cfg.Logging.Level, logLevels)
	p.oneOf("logging.format", cfg.Logging.Format, logFormats)

	p.notehub(cfg.Notehub)
	p.firmware(cfg.Firmware, cfg.Database)
	p.database(cfg.Database)
	p.kafka(cfg.Broker.Kafka)

	if len(p) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(p...))
	}
	return nil
}

func (p *problems) notehub(cfg NotehubConfig) {
	if cfg.ProjectUID == "" {
		p.add("notehub.project_uid", "Notehub project UID is required")
	}
	switch {
	case cfg.ClientID != "" && cfg.ClientSecret == "":
		p.add("notehub.client_secret", "client secret is required when a client id is set")
	case cfg.AccessToken == "" && cfg.ClientID == "":
		p.add("notehub.access_token", "either an access token or a client id and secret must be configured")
	}
	if u, err := url.Parse(cfg.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		p.add("notehub.api_url", "invalid API URL: %q", cfg.APIURL)
	}
	if cfg.TimeoutSeconds <= 0 {
		p.add("notehub.timeout_seconds", "timeout must be positive")
	}
}

func (p *problems) firmware(cfg FirmwareConfig, db DatabaseConfig) {
	if cfg.CacheTTLSeconds <= 0 {
		p.add("firmware.cache_ttl_seconds", "cache TTL must be positive")
	}
	if cfg.Reload.IntervalSeconds < 0 {
		p.add("firmware.reload.interval_seconds", "reload interval must be non-negative")
	}

	switch cfg.RulesSource {
	case constants.RulesSourceBuiltin:
	case constants.RulesSourceFile:
		if cfg.RulesFile == "" {
			p.add("firmware.rules_file", "rules file is required when rules_source is file")
		}
	case constants.RulesSourcePostgres:
		if !db.Postgres.Enabled() {
			p.add("database.postgres.host", "PostgreSQL is required when rules_source is postgres")
		}
	case constants.RulesSourceDynamo:
		if cfg.DynamoDBTable == "" {
			p.add("firmware.dynamodb_table", "DynamoDB table is required when rules_source is dynamodb")
		}
	default:
		p.add("firmware.rules_source", "unknown rules source: %s (supported: file, postgres, dynamodb, builtin)", cfg.RulesSource)
	}

	if cfg.SharedCatalog && !db.Redis.Enabled() {
		p.add("database.redis.host", "Redis is required when shared_catalog is enabled")
	}
}

func (p *problems) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Enabled() {
		p.port("database.postgres.port", pg.Port)
		if pg.User == "" {
			p.add("database.postgres.user", "PostgreSQL user is required")
		}
		if pg.DBName == "" {
			p.add("database.postgres.dbname", "PostgreSQL database name is required")
		}
		p.oneOf("database.postgres.sslmode", pg.SSLMode, sslModes)
	}

	if rd := cfg.Redis; rd.Enabled() {
		p.port("database.redis.port", rd.Port)
		if rd.DB < 0 {
			p.add("database.redis.db", "database index must be non-negative")
		}
	}
}

func (p *problems) kafka(cfg KafkaConfig) {
	if !cfg.Enabled() && !cfg.RulesEventsEnabled() {
		return
	}
	if len(cfg.Brokers) == 0 {
		p.add("broker.kafka.brokers", "at least one Kafka broker is required when events_topic or rules_topic is set")
	}
	for i, addr := range cfg.Brokers {
		if addr == "" {
			p.add(fmt.Sprintf("broker.kafka.brokers[%d]", i), "broker address cannot be empty")
		}
	}
	if cfg.RulesEventsEnabled() && cfg.GroupID == "" {
		p.add("broker.kafka.group_id", "group_id is required when rules_topic is set")
	}
}
