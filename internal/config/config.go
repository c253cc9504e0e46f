package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Notehub        NotehubConfig        `mapstructure:"notehub"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Firmware       FirmwareConfig       `mapstructure:"firmware"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NotehubConfig holds fleet service credentials. Either an access token or a
// client id/secret pair is required.
type NotehubConfig struct {
	APIURL         string `mapstructure:"api_url"`
	OAuthURL       string `mapstructure:"oauth_url"`
	ProjectUID     string `mapstructure:"project_uid"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	AccessToken    string `mapstructure:"access_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (n NotehubConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

type AuthConfig struct {
	Token string `mapstructure:"token"`
}

type FirmwareConfig struct {
	CacheTTLSeconds int          `mapstructure:"cache_ttl_seconds"`
	DryRun          bool         `mapstructure:"dry_run"`
	RulesSource     string       `mapstructure:"rules_source"`
	RulesFile       string       `mapstructure:"rules_file"`
	DynamoDBTable   string       `mapstructure:"dynamodb_table"`
	SharedCatalog   bool         `mapstructure:"shared_catalog"`
	ResolveFleets   bool         `mapstructure:"resolve_fleets"`
	Reload          ReloadConfig `mapstructure:"reload"`
}

func (f FirmwareConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSeconds) * time.Second
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_ms"`
	RetryMaxSeconds       int `mapstructure:"retry_max_seconds"`
}

func (r ReloadConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r ReloadConfig) Jitter() time.Duration {
	return time.Duration(r.JitterMaxMilliseconds) * time.Millisecond
}

// RetryMax bounds how long one reload keeps retrying a failing source.
func (r ReloadConfig) RetryMax() time.Duration {
	return time.Duration(r.RetryMaxSeconds) * time.Second
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	// RulesTopic carries rule change notifications between instances.
	RulesTopic string `mapstructure:"rules_topic"`
	GroupID    string `mapstructure:"group_id"`
	// PublishTimeoutMs bounds each event write; 0 keeps the default.
	PublishTimeoutMs int `mapstructure:"publish_timeout_ms"`
}

func (k KafkaConfig) PublishTimeout() time.Duration {
	return time.Duration(k.PublishTimeoutMs) * time.Millisecond
}

// Enabled reports whether decision events should be published.
func (k KafkaConfig) Enabled() bool {
	return k.EventsTopic != ""
}

func (k KafkaConfig) RulesEventsEnabled() bool {
	return k.RulesTopic != ""
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

func Load(configFile string) (*Config, error) {
	if configFile == "" {
		return LoadFromEnv()
	}
	return LoadConfig(configFile)
}
