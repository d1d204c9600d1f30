package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FactsEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_facts_evaluated_total",
			Help: "Total number of facts evaluated (count)",
		},
		[]string{"mode", "status"},
	)

	RulesMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_matched_total",
			Help: "Total number of rule matches (count)",
		},
		[]string{"rule_id"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rules_evaluation_duration_us",
			Help:    "Network evaluation duration per fact in microseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"mode"},
	)

	NodeEvaluations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rules_node_evaluations",
			Help:    "Distinct alpha/beta node evaluations per fact (count)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"},
	)

	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_reloads_total",
			Help: "Total number of network reload attempts (count)",
		},
		[]string{"trigger", "status"},
	)

	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rules_reload_duration_ms",
			Help:    "Network compilation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	ActiveVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rules_active_version",
			Help: "Version of the active network snapshot",
		},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rules_active_rules",
			Help: "Number of rules compiled into the active snapshot (count)",
		},
	)

	NetworkNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rules_network_nodes",
			Help: "Node count of the active network by kind (count)",
		},
		[]string{"kind"},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_cache_requests_total",
			Help: "Derived artifact cache lookups by tier and result (count)",
		},
		[]string{"tier", "result"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	ActionDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_action_dispatch_total",
			Help: "Total number of action dispatches (count)",
		},
		[]string{"action", "status"},
	)

	ActionDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rules_action_dispatch_duration_ms",
			Help:    "Action dispatch duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"action"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
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

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FactsEvaluatedTotal,
			RulesMatchedTotal,
			EvaluationDuration,
			NodeEvaluations,
			ReloadsTotal,
			ReloadDuration,
			ActiveVersion,
			ActiveRules,
			NetworkNodes,
			CacheRequestsTotal,
			FallbackUsageTotal,
			ActionDispatchTotal,
			ActionDispatchDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
			CircuitBreakerState,
			CircuitBreakerRequests,
			RateLimitRequestsTotal,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func ObserveEvaluation(mode string, duration time.Duration, alphaCount, betaCount int) {
	EvaluationDuration.WithLabelValues(mode).Observe(float64(duration.Microseconds()))
	NodeEvaluations.WithLabelValues("alpha").Observe(float64(alphaCount))
	NodeEvaluations.WithLabelValues("beta").Observe(float64(betaCount))
}

func IncFactsEvaluated(mode, status string) {
	FactsEvaluatedTotal.WithLabelValues(mode, status).Inc()
}

func IncRuleMatched(ruleID string) {
	RulesMatchedTotal.WithLabelValues(ruleID).Inc()
}

func ObserveReload(trigger, status string, duration time.Duration) {
	ReloadsTotal.WithLabelValues(trigger, status).Inc()
	if status == "success" {
		ReloadDuration.Observe(float64(duration.Milliseconds()))
	}
}

// SetActiveSnapshot publishes the shape of the newly installed network.
func SetActiveSnapshot(version uint64, rules, alphas, betas int) {
	ActiveVersion.Set(float64(version))
	ActiveRules.Set(float64(rules))
	NetworkNodes.WithLabelValues("alpha").Set(float64(alphas))
	NetworkNodes.WithLabelValues("beta").Set(float64(betas))
	NetworkNodes.WithLabelValues("terminal").Set(float64(rules))
}

func IncCacheRequest(tier, result string) {
	CacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

func IncFallback(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

func ObserveActionDispatch(action, status string, duration time.Duration) {
	ActionDispatchTotal.WithLabelValues(action, status).Inc()
	ActionDispatchDuration.WithLabelValues(action).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveDatabaseQuery(database, operation, status string, duration time.Duration) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
