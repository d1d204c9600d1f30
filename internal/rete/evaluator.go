package rete

import (
	"fmt"
	"time"

	apperrors "fluxrules/pkg/errors"
)

// Explanation describes one satisfied leaf that contributed to a match.
type Explanation struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Expected Value    `json:"expected"`
	Actual   Value    `json:"actual"`
}

func (e Explanation) String() string {
	switch e.Operator {
	case OpExists:
		return e.Field + " exists"
	case OpNotExists:
		return e.Field + " not_exists"
	}
	return fmt.Sprintf("%s=%s %s %s", e.Field, e.Actual, e.Operator, e.Expected)
}

// Match is one fired terminal with the leaves that satisfied it.
type Match struct {
	Terminal     *Terminal
	Explanations []Explanation
}

// EvalStats counts node evaluations actually performed for one fact.
type EvalStats struct {
	AlphaEvaluations int           `json:"alpha_count"`
	BetaEvaluations  int           `json:"beta_count"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Result is the outcome of evaluating one fact. Matches are in agenda order.
type Result struct {
	Matches []Match
	Stats   EvalStats
}

// RuleIDs returns the matched rule ids in agenda order.
func (r *Result) RuleIDs() []string {
	ids := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.Terminal.RuleID
	}
	return ids
}

const (
	unknown uint8 = iota
	isFalse
	isTrue
)

type evaluation struct {
	net   *Network
	fact  Fact
	alpha []uint8
	beta  []uint8
	stats EvalStats
}

// Evaluate runs a fact through every terminal of the network.
func (n *Network) Evaluate(f Fact) (*Result, error) {
	return n.evaluate(f, nil)
}

// EvaluateRules runs a fact through the terminals of the listed rules only.
// Unknown ids are ignored; an empty list means every rule.
func (n *Network) EvaluateRules(f Fact, ruleIDs []string) (*Result, error) {
	if len(ruleIDs) == 0 {
		return n.evaluate(f, nil)
	}
	only := make(map[int]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		if i, ok := n.byRule[id]; ok {
			only[i] = struct{}{}
		}
	}
	return n.evaluate(f, only)
}

// evaluate aborts only this call if the network is internally inconsistent.
func (n *Network) evaluate(f Fact, only map[int]struct{}) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = apperrors.RecoverPanic(r)
		}
	}()

	start := time.Now()
	e := &evaluation{
		net:   n,
		fact:  f,
		alpha: make([]uint8, len(n.alphas)),
		beta:  make([]uint8, len(n.betas)),
	}

	res = &Result{}
	for _, t := range n.agenda {
		if only != nil {
			if _, ok := only[t]; !ok {
				continue
			}
		}
		term := &n.terminals[t]
		if !e.eval(term.Root) {
			continue
		}
		res.Matches = append(res.Matches, Match{
			Terminal:     term,
			Explanations: e.explain(term.Root),
		})
	}

	e.stats.Elapsed = time.Since(start)
	res.Stats = e.stats
	return res, nil
}

func (e *evaluation) eval(ref NodeRef) bool {
	switch ref.Kind {
	case RefAlpha:
		if ref.Index < 0 || ref.Index >= len(e.alpha) {
			panic(fmt.Sprintf("alpha node %d out of range", ref.Index))
		}
		if s := e.alpha[ref.Index]; s != unknown {
			return s == isTrue
		}
		ok := e.net.alphas[ref.Index].Predicate.Evaluate(e.fact)
		e.stats.AlphaEvaluations++
		e.alpha[ref.Index] = state(ok)
		return ok

	case RefBeta:
		if ref.Index < 0 || ref.Index >= len(e.beta) {
			panic(fmt.Sprintf("beta node %d out of range", ref.Index))
		}
		if s := e.beta[ref.Index]; s != unknown {
			return s == isTrue
		}
		node := &e.net.betas[ref.Index]
		ok := node.Op == And
		for _, child := range node.Children {
			if e.eval(child) != ok {
				ok = !ok
				break
			}
		}
		e.stats.BetaEvaluations++
		e.beta[ref.Index] = state(ok)
		return ok
	}
	panic(fmt.Sprintf("unknown node kind %d", ref.Kind))
}

// explain collects the satisfied leaves under a node known to be true. For OR
// only the first satisfied branch is reported.
func (e *evaluation) explain(root NodeRef) []Explanation {
	var out []Explanation
	seen := make(map[int]struct{})
	var walk func(NodeRef)
	walk = func(ref NodeRef) {
		if ref.Kind == RefAlpha {
			if _, ok := seen[ref.Index]; ok {
				return
			}
			seen[ref.Index] = struct{}{}
			leaf := e.net.alphas[ref.Index].Predicate.Leaf()
			actual, _ := e.fact.Get(leaf.Field)
			out = append(out, Explanation{
				Field:    leaf.Field,
				Operator: leaf.Op,
				Expected: leaf.Value,
				Actual:   actual,
			})
			return
		}
		node := &e.net.betas[ref.Index]
		for _, child := range node.Children {
			if !e.satisfied(child) {
				continue
			}
			walk(child)
			if node.Op == Or {
				return
			}
		}
	}
	walk(root)
	return out
}

func (e *evaluation) satisfied(ref NodeRef) bool {
	if ref.Kind == RefAlpha {
		return e.alpha[ref.Index] == isTrue
	}
	return e.beta[ref.Index] == isTrue
}

func state(ok bool) uint8 {
	if ok {
		return isTrue
	}
	return isFalse
}
