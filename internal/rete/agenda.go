package rete

import "sort"

// Less reports whether a fires before b: priority descending, then group
// ascending, then rule id ascending.
func Less(a, b *Terminal) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.RuleID < b.RuleID
}

// agendaOrder precomputes the dispatch order of all terminals so that
// evaluation emits matches already ordered.
func agendaOrder(terminals []Terminal) []int {
	order := make([]int, len(terminals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return Less(&terminals[order[i]], &terminals[order[j]])
	})
	return order
}
