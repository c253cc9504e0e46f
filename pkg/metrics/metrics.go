package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FirmwareDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_decisions_total",
			Help: "Total number of firmware update decisions by outcome state (count)",
		},
		[]string{"state", "dry_run"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route, method and status code (count)",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"route", "method"},
	)

	FirmwareDecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firmware_decision_duration_ms",
			Help:    "Duration of a firmware update decision in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"state"},
	)

	FirmwareChannelResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_channel_results_total",
			Help: "Total number of per-channel decision results (count)",
		},
		[]string{"channel", "status"},
	)

	FirmwareRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_rule_matches_total",
			Help: "Total number of rule set evaluations by matched rule id (count)",
		},
		[]string{"rule_id"},
	)

	FirmwareActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firmware_active_rules",
			Help: "Number of rules in the active rule set (count)",
		},
	)

	FirmwareRuleReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_rule_reloads_total",
			Help: "Total number of rule set reloads (count)",
		},
		[]string{"source", "status"},
	)

	FirmwareCacheRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_cache_refreshes_total",
			Help: "Total number of firmware catalog refreshes (count)",
		},
		[]string{"status"},
	)

	FirmwareCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_cache_lookups_total",
			Help: "Total number of firmware artifact lookups (count)",
		},
		[]string{"channel", "outcome"},
	)

	FirmwareCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firmware_cache_entries",
			Help: "Number of firmware artifacts held in the local cache (count)",
		},
	)

	FirmwareCatalogSharedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firmware_catalog_shared_total",
			Help: "Total number of shared catalog tier lookups (count)",
		},
		[]string{"result"},
	)

	NotehubRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notehub_requests_total",
			Help: "Total number of requests sent to Notehub (count)",
		},
		[]string{"operation", "status"},
	)

	NotehubRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notehub_request_duration_ms",
			Help:    "Duration of Notehub requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"operation"},
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of rejected check requests (count)",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	firmwareOnce       sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	httpOnce           sync.Once
)

func RegisterFirmwareMetrics() {
	firmwareOnce.Do(func() {
		prometheus.MustRegister(FirmwareDecisionsTotal)
		prometheus.MustRegister(FirmwareDecisionDuration)
		prometheus.MustRegister(FirmwareChannelResultsTotal)
		prometheus.MustRegister(FirmwareRuleMatchesTotal)
		prometheus.MustRegister(FirmwareActiveRules)
		prometheus.MustRegister(FirmwareRuleReloadsTotal)
		prometheus.MustRegister(FirmwareCacheRefreshesTotal)
		prometheus.MustRegister(FirmwareCacheLookupsTotal)
		prometheus.MustRegister(FirmwareCacheEntries)
		prometheus.MustRegister(FirmwareCatalogSharedTotal)
		prometheus.MustRegister(NotehubRequestsTotal)
		prometheus.MustRegister(NotehubRequestDuration)
		prometheus.MustRegister(FallbackUsageTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(AuthFailuresTotal)
	})
}

func IncDecision(state string, dryRun bool) {
	d := "false"
	if dryRun {
		d = "true"
	}
	FirmwareDecisionsTotal.WithLabelValues(state, d).Inc()
}

func ObserveDecisionDuration(state string, duration time.Duration) {
	FirmwareDecisionDuration.WithLabelValues(state).Observe(float64(duration.Milliseconds()))
}

func IncChannelResult(channel, status string) {
	FirmwareChannelResultsTotal.WithLabelValues(channel, status).Inc()
}

func IncRuleMatch(ruleID string) {
	FirmwareRuleMatchesTotal.WithLabelValues(ruleID).Inc()
}

func SetActiveRules(count int) {
	FirmwareActiveRules.Set(float64(count))
}

func IncRuleReload(source, status string) {
	FirmwareRuleReloadsTotal.WithLabelValues(source, status).Inc()
}

func IncCacheRefresh(status string) {
	FirmwareCacheRefreshesTotal.WithLabelValues(status).Inc()
}

func IncCacheLookup(channel, outcome string) {
	FirmwareCacheLookupsTotal.WithLabelValues(channel, outcome).Inc()
}

func SetCacheEntries(count int) {
	FirmwareCacheEntries.Set(float64(count))
}

func IncSharedCatalog(result string) {
	FirmwareCatalogSharedTotal.WithLabelValues(result).Inc()
}

func IncNotehubRequest(operation, status string) {
	NotehubRequestsTotal.WithLabelValues(operation, status).Inc()
}

func ObserveNotehubDuration(operation string, duration time.Duration) {
	NotehubRequestDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func IncAuthFailure(reason string) {
	AuthFailuresTotal.WithLabelValues(reason).Inc()
}

func IncFallbackUsage(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func IncRateLimit(status string) {
	RateLimitRequestsTotal.WithLabelValues(status).Inc()
}

func ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(float64(duration.Milliseconds()))
}
