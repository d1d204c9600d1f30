package models

import "time"

// RuleChangeEvent announces a change in the rule store.
type RuleChangeEvent struct {
	EventType string                 `json:"event_type"` // "rule_updated", "rule_deleted", "rules_reloaded"
	RuleID    string                 `json:"rule_id,omitempty"`
	Action    string                 `json:"action"` // "create", "update", "delete", "toggle", "reload"
	Timestamp time.Time              `json:"timestamp"`
	ChangedBy string                 `json:"changed_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)
