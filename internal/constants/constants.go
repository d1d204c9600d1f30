package constants

import "time"

const (
	ServiceName = "rules-engine"
	TracerName  = "fluxrules"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
	HealthTimeout   = 2 * time.Second
)

// Evaluation modes used in logs and metric labels.
const (
	ModeLive     = "live"
	ModeSimulate = "simulate"
)

// Reload triggers used in logs and metric labels.
const (
	TriggerStartup  = "startup"
	TriggerAPI      = "api"
	TriggerEvent    = "event"
	TriggerPeriodic = "periodic"
	TriggerSchedule = "schedule"
	TriggerFile     = "file"
)

// Derived artifacts held in the two-tier cache.
const (
	ArtifactConflicts = "conflicts"
	ArtifactGraph     = "graph"
)

const (
	// DefaultGroupSentinel stands in for a null rule group when grouping collisions.
	DefaultGroupSentinel = "default"
)

const (
	EventTypeRuleUpdated   = "rule_updated"
	EventTypeRuleDeleted   = "rule_deleted"
	EventTypeRulesReloaded = "rules_reloaded"
)

const (
	HeaderFactID  = "fact_id"
	HeaderTraceID = "trace_id"
)
