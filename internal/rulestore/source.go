// Package rulestore loads rule definitions from the configured backing store.
package rulestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"fluxrules/internal/rete"
)

// Source delivers the full current rule set. Order is significant: it is the
// compilation order of the network.
type Source interface {
	LoadRules(ctx context.Context) ([]rete.Rule, error)
	Name() string
}

// Memory is a Source backed by a slice, used by tests and the simulate command.
type Memory struct {
	mu    sync.RWMutex
	rules []rete.Rule
}

func NewMemory(rules ...rete.Rule) *Memory {
	m := &Memory{}
	m.Set(rules)
	return m
}

func (m *Memory) Name() string { return "memory" }

// Set replaces the stored rules.
func (m *Memory) Set(rules []rete.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]rete.Rule(nil), rules...)
}

func (m *Memory) LoadRules(ctx context.Context) ([]rete.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rete.Rule(nil), m.rules...), nil
}

// decodeRules converts generic decoded documents into rules through their
// JSON form. Errors name the rule's position in the list.
func decodeRules(raw []interface{}) ([]rete.Rule, error) {
	rules := make([]rete.Rule, 0, len(raw))
	for i, doc := range raw {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("rule #%d: failed to encode document: %w", i+1, err)
		}
		var rule rete.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
