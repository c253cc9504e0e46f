package constants

import "time"

const (
	KafkaBatchTimeout   = 10 * time.Millisecond
	KafkaWriteTimeout   = 10 * time.Second
	EventPublishTimeout = 5 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	DefaultNotehubAPIURL   = "https://api.notefile.net"
	DefaultNotehubOAuthURL = "https://notehub.io/oauth2/token"
)

const (
	DefaultCacheTTLSeconds     = 1800
	DefaultReloadIntervalSecs  = 60
	DefaultReloadRetrySecs     = 10
	DefaultServerPort          = 8080
	DefaultServerTimeoutSecs   = 15
	DefaultNotehubTimeoutSecs  = 10
	DefaultRedisPort           = 6379
	DefaultPostgresPort        = 5432
	DefaultCircuitMaxRequests  = 3
	DefaultCircuitFailureRatio = 0.6
	DefaultCircuitMinRequests  = 3
)

const (
	ShutdownTimeout           = 5 * time.Second
	ReloadRetryInitialBackoff = 250 * time.Millisecond
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	RulesSourceFile     = "file"
	RulesSourcePostgres = "postgres"
	RulesSourceDynamo   = "dynamodb"
	RulesSourceBuiltin  = "builtin"
)

const (
	ServiceName       = "firmware-service"
	LambdaServiceName = "firmware-lambda"
)
