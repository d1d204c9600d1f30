// Package depgraph derives the rule relationship graph of a compiled network.
package depgraph

import (
	"sort"

	"fluxrules/internal/conflicts"
	"fluxrules/internal/rete"
)

type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Group    string `json:"group,omitempty"`
	Priority int    `json:"priority"`
	Action   string `json:"action"`
}

// Edge links two rules. Source always sorts before Target.
type Edge struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	SharedNodes  int      `json:"shared_nodes"`
	SharedFields []string `json:"shared_fields"`
	Conflicts    []string `json:"conflicts,omitempty"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

type edgeAcc struct {
	shared    int
	fields    map[string]struct{}
	conflicts map[string]struct{}
}

type builder struct {
	edges map[pairKey]*edgeAcc
}

func (b *builder) edge(x, y string) *edgeAcc {
	k := newPairKey(x, y)
	e, ok := b.edges[k]
	if !ok {
		e = &edgeAcc{fields: map[string]struct{}{}, conflicts: map[string]struct{}{}}
		b.edges[k] = e
	}
	return e
}

// Build links every pair of rules that share an alpha or beta node in net, or
// that appear together in report. report may be nil.
func Build(net *rete.Network, report *conflicts.Report) *Graph {
	terminals := net.Terminals()
	g := &Graph{Nodes: make([]Node, 0, len(terminals)), Edges: []Edge{}}
	known := make(map[string]struct{}, len(terminals))

	for _, t := range terminals {
		g.Nodes = append(g.Nodes, Node{
			ID:       t.RuleID,
			Name:     t.Name,
			Group:    t.Group,
			Priority: t.Priority,
			Action:   t.Action.Name,
		})
		known[t.RuleID] = struct{}{}
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })

	b := &builder{edges: make(map[pairKey]*edgeAcc)}

	for _, a := range net.Alphas() {
		forPairs(terminals, a.Dependents, func(x, y string) {
			e := b.edge(x, y)
			e.shared++
			e.fields[a.Predicate.Leaf().Field] = struct{}{}
		})
	}
	for _, beta := range net.Betas() {
		forPairs(terminals, beta.Dependents, func(x, y string) {
			b.edge(x, y).shared++
		})
	}

	if report != nil {
		for _, p := range report.Pairs() {
			if known2(known, p.A, p.B) {
				b.edge(p.A, p.B).conflicts[p.Type] = struct{}{}
			}
		}
	}

	for k, acc := range b.edges {
		g.Edges = append(g.Edges, Edge{
			Source:       k.a,
			Target:       k.b,
			SharedNodes:  acc.shared,
			SharedFields: sortedKeys(acc.fields),
			Conflicts:    sortedKeys(acc.conflicts),
		})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})

	return g
}

// Neighbors returns the ids linked to ruleID, sorted.
func (g *Graph) Neighbors(ruleID string) []string {
	var out []string
	for _, e := range g.Edges {
		switch ruleID {
		case e.Source:
			out = append(out, e.Target)
		case e.Target:
			out = append(out, e.Source)
		}
	}
	sort.Strings(out)
	return out
}

func forPairs(terminals []rete.Terminal, deps []int, fn func(x, y string)) {
	for i := 0; i < len(deps); i++ {
		for j := i + 1; j < len(deps); j++ {
			fn(terminals[deps[i]].RuleID, terminals[deps[j]].RuleID)
		}
	}
}

func known2(known map[string]struct{}, x, y string) bool {
	_, okX := known[x]
	_, okY := known[y]
	return okX && okY
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
