// Package actions resolves rule action names and dispatches matched rules in
// agenda order.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fluxrules/internal/rete"
)

// Invocation is everything an action sees about one fired rule.
type Invocation struct {
	FactID   string
	Fact     rete.Fact
	RuleID   string
	RuleName string
	Params   map[string]interface{}
}

// Param returns a parameter, or def when it is absent.
func (inv Invocation) Param(name string, def interface{}) interface{} {
	if v, ok := inv.Params[name]; ok && v != nil {
		return v
	}
	return def
}

func (inv Invocation) StringParam(name, def string) string {
	if s, ok := inv.Params[name].(string); ok && s != "" {
		return s
	}
	return def
}

// Func executes an action. The returned map is reported back to the caller.
type Func func(ctx context.Context, inv Invocation) (map[string]interface{}, error)

type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	fn          Func
}

type Registry struct {
	mu      sync.RWMutex
	actions map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Definition)}
}

// Register adds or replaces an action.
func (r *Registry) Register(name, description, category string, fn Func) error {
	if name == "" {
		return fmt.Errorf("action name is empty")
	}
	if fn == nil {
		return fmt.Errorf("action %q has no implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = Definition{Name: name, Description: description, Category: category, fn: fn}
	return nil
}

// Has satisfies rete.ActionResolver.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

func (r *Registry) Resolve(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.actions[name]
	if !ok {
		return nil, false
	}
	return d.fn, true
}

// List returns every registered action sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.actions))
	for _, d := range r.actions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ rete.ActionResolver = (*Registry)(nil)
