package rete

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action binds a rule to a registered action by name.
type Action struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// UnmarshalJSON accepts either a bare action name or {"name":..., "params":...}.
func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Action{Name: name}
		return nil
	}
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("action must be a name or an object: %w", err)
	}
	*a = Action(p)
	return nil
}

// Rule is one rule definition as delivered by the rule store.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Group       string    `json:"group,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`
}

// UnmarshalJSON defaults an omitted enabled flag to true and accepts a
// numeric id, stored in its decimal form.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	var shim struct {
		plain
		ID      json.RawMessage `json:"id"`
		Enabled *bool           `json:"enabled"`
	}
	if err := json.Unmarshal(data, &shim); err != nil {
		return err
	}
	id, err := ruleID(shim.ID)
	if err != nil {
		return err
	}
	*r = Rule(shim.plain)
	r.ID = id
	r.Enabled = shim.Enabled == nil || *shim.Enabled
	return nil
}

func ruleID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("rule id must be a string or a number, got %s", raw)
}

// ActionResolver reports whether an action name is registered.
type ActionResolver interface {
	Has(name string) bool
}

// EnabledOnly filters out disabled rules, preserving order.
func EnabledOnly(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func (r Rule) String() string {
	var b strings.Builder
	b.WriteString(r.ID)
	if r.Name != "" {
		b.WriteString(" (" + r.Name + ")")
	}
	return b.String()
}
