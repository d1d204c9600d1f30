package models

import "time"

// FactEnvelope carries one fact through the live pipeline.
type FactEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`  // the fact fields
	Metadata  Metadata               `json:"metadata"` // pipeline metadata (trace_id, evaluation outcome)
}

type Metadata struct {
	TraceID    string          `json:"trace_id,omitempty"`
	Evaluation *EvaluationInfo `json:"evaluation,omitempty"`
}

// EvaluationInfo records which rules fired for the fact, in dispatch order.
type EvaluationInfo struct {
	Version     uint64     `json:"version"`
	RuleIDs     []string   `json:"rule_ids"`
	DryRun      bool       `json:"dry_run"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
	Dispatch    []Dispatch `json:"dispatch,omitempty"`
}

// Dispatch is the outcome of one action invocation.
type Dispatch struct {
	RuleID string `json:"rule_id"`
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ActionEvent is published by the publish_event action.
type ActionEvent struct {
	ID        string                 `json:"id"`
	FactID    string                 `json:"fact_id,omitempty"`
	RuleID    string                 `json:"rule_id"`
	RuleName  string                 `json:"rule_name"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Fact      map[string]interface{} `json:"fact"`
	Timestamp time.Time              `json:"timestamp"`
}
