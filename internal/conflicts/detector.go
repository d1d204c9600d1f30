// Package conflicts finds rules whose definitions overlap: identical root
// conditions and shared (group, priority) slots.
package conflicts

import (
	"fmt"
	"sort"

	"fluxrules/internal/constants"
	"fluxrules/internal/rete"
)

const (
	TypeDuplicateCondition = "duplicate_condition"
	TypePriorityCollision  = "priority_collision"
)

// DuplicateCondition is an unordered pair of rules with the same canonical root
// condition. RuleA always sorts before RuleB.
type DuplicateCondition struct {
	RuleA     string `json:"rule_a"`
	RuleB     string `json:"rule_b"`
	Key       string `json:"condition_key"`
	Condition string `json:"condition"`
}

// PriorityCollision lists every enabled rule sharing one (group, priority) slot.
type PriorityCollision struct {
	Group    string   `json:"group"`
	Priority int      `json:"priority"`
	RuleIDs  []string `json:"rule_ids"`
}

type Report struct {
	DuplicateConditions []DuplicateCondition `json:"duplicate_conditions"`
	PriorityCollisions  []PriorityCollision  `json:"priority_collisions"`
}

func (r *Report) Empty() bool {
	return len(r.DuplicateConditions) == 0 && len(r.PriorityCollisions) == 0
}

func (r *Report) Total() int {
	return len(r.DuplicateConditions) + len(r.PriorityCollisions)
}

// Descriptions renders the report as human readable lines.
func (r *Report) Descriptions() []string {
	out := make([]string, 0, r.Total())
	for _, d := range r.DuplicateConditions {
		out = append(out, fmt.Sprintf("rules %s and %s have identical conditions: %s", d.RuleA, d.RuleB, d.Condition))
	}
	for _, c := range r.PriorityCollisions {
		out = append(out, fmt.Sprintf("rules %v share priority %d in group %q", c.RuleIDs, c.Priority, c.Group))
	}
	return out
}

// GroupName maps a null group to the collision sentinel.
func GroupName(group string) string {
	if group == "" {
		return constants.DefaultGroupSentinel
	}
	return group
}

type slot struct {
	group    string
	priority int
}

// Detect analyses the enabled subset of rules. Disabled rules take no part in
// either check. The result is deterministic for a given input.
func Detect(rules []rete.Rule) *Report {
	enabled := rete.EnabledOnly(rules)

	byKey := make(map[rete.Key][]rete.Rule)
	var keys []rete.Key
	bySlot := make(map[slot][]string)
	var slots []slot

	for _, r := range enabled {
		k := rete.CanonicalKey(r.Condition)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], r)

		s := slot{group: GroupName(r.Group), priority: r.Priority}
		if _, ok := bySlot[s]; !ok {
			slots = append(slots, s)
		}
		bySlot[s] = append(bySlot[s], r.ID)
	}

	report := &Report{
		DuplicateConditions: []DuplicateCondition{},
		PriorityCollisions:  []PriorityCollision{},
	}

	for _, k := range keys {
		group := byKey[k]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				report.DuplicateConditions = append(report.DuplicateConditions, DuplicateCondition{
					RuleA:     group[i].ID,
					RuleB:     group[j].ID,
					Key:       k.Short(),
					Condition: group[i].Condition.String(),
				})
			}
		}
	}
	sort.SliceStable(report.DuplicateConditions, func(i, j int) bool {
		a, b := report.DuplicateConditions[i], report.DuplicateConditions[j]
		if a.RuleA != b.RuleA {
			return a.RuleA < b.RuleA
		}
		return a.RuleB < b.RuleB
	})

	for _, s := range slots {
		ids := bySlot[s]
		if len(ids) < 2 {
			continue
		}
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		report.PriorityCollisions = append(report.PriorityCollisions, PriorityCollision{
			Group:    s.group,
			Priority: s.priority,
			RuleIDs:  sorted,
		})
	}
	sort.Slice(report.PriorityCollisions, func(i, j int) bool {
		a, b := report.PriorityCollisions[i], report.PriorityCollisions[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Priority > b.Priority
	})

	return report
}

// CheckCandidate reports the conflicts a proposed rule would take part in if it
// joined the active set. An active rule with the candidate's id is treated as
// the version being replaced. A disabled candidate never conflicts.
func CheckCandidate(active []rete.Rule, candidate rete.Rule) *Report {
	out := &Report{
		DuplicateConditions: []DuplicateCondition{},
		PriorityCollisions:  []PriorityCollision{},
	}
	if !candidate.Enabled {
		return out
	}

	merged := make([]rete.Rule, 0, len(active)+1)
	for _, r := range active {
		if r.ID != candidate.ID {
			merged = append(merged, r)
		}
	}
	merged = append(merged, candidate)

	full := Detect(merged)
	for _, d := range full.DuplicateConditions {
		if d.RuleA == candidate.ID || d.RuleB == candidate.ID {
			out.DuplicateConditions = append(out.DuplicateConditions, d)
		}
	}
	for _, c := range full.PriorityCollisions {
		for _, id := range c.RuleIDs {
			if id == candidate.ID {
				out.PriorityCollisions = append(out.PriorityCollisions, c)
				break
			}
		}
	}
	return out
}

// Pair is one undirected rule pair implicated in a conflict of Type.
type Pair struct {
	A, B string
	Type string
}

// Pairs flattens the report into rule pairs. A collision set of n rules
// yields every one of its n*(n-1)/2 pairs.
func (r *Report) Pairs() []Pair {
	var pairs []Pair
	for _, d := range r.DuplicateConditions {
		pairs = append(pairs, Pair{A: d.RuleA, B: d.RuleB, Type: TypeDuplicateCondition})
	}
	for _, c := range r.PriorityCollisions {
		for i := 0; i < len(c.RuleIDs); i++ {
			for j := i + 1; j < len(c.RuleIDs); j++ {
				pairs = append(pairs, Pair{A: c.RuleIDs[i], B: c.RuleIDs[j], Type: TypePriorityCollision})
			}
		}
	}
	return pairs
}
