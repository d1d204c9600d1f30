package rete

import (
	"fmt"

	apperrors "fluxrules/pkg/errors"
)

type compileOptions struct {
	resolver ActionResolver
}

type CompileOption func(*compileOptions)

// WithActionResolver makes compilation reject rules bound to unknown actions.
func WithActionResolver(r ActionResolver) CompileOption {
	return func(o *compileOptions) {
		o.resolver = r
	}
}

// Compile builds a network from the enabled rules in the given order.
// Disabled rules are skipped. If any rule is invalid the whole batch fails
// and the returned error names that rule.
func Compile(rules []Rule, opts ...CompileOption) (*Network, error) {
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := &builder{
		net:        EmptyNetwork(),
		alphaByKey: make(map[Key]int),
		betaByKey:  make(map[Key]int),
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := b.addRule(rule, o.resolver); err != nil {
			return nil, err
		}
	}

	b.linkDependents()
	b.net.agenda = agendaOrder(b.net.terminals)
	b.net.stats.AlphaNodes = len(b.net.alphas)
	b.net.stats.BetaNodes = len(b.net.betas)
	b.net.stats.TerminalNodes = len(b.net.terminals)

	return b.net, nil
}

// ValidateRule checks a single rule the way Compile does, without building a network.
func ValidateRule(rule Rule, resolver ActionResolver) error {
	_, err := Compile([]Rule{withEnabled(rule)}, WithActionResolver(resolver))
	return err
}

func withEnabled(r Rule) Rule {
	r.Enabled = true
	return r
}

type builder struct {
	net        *Network
	alphaByKey map[Key]int
	betaByKey  map[Key]int
}

func (b *builder) addRule(rule Rule, resolver ActionResolver) error {
	if rule.ID == "" {
		return apperrors.RuleInvalid("", "rule id is empty", nil)
	}
	if _, dup := b.net.byRule[rule.ID]; dup {
		return apperrors.RuleInvalid(rule.ID, "duplicate rule id", nil)
	}
	if rule.Action.Name == "" {
		return apperrors.RuleInvalid(rule.ID, "action name is empty", nil)
	}
	if resolver != nil && !resolver.Has(rule.Action.Name) {
		return apperrors.RuleInvalid(rule.ID, fmt.Sprintf("unknown action %q", rule.Action.Name), nil)
	}

	root, key, err := b.add(rule.Condition)
	if err != nil {
		return apperrors.RuleInvalid(rule.ID, err.Error(), nil)
	}

	idx := len(b.net.terminals)
	b.net.terminals = append(b.net.terminals, Terminal{
		Index:     idx,
		RuleID:    rule.ID,
		Name:      rule.Name,
		Group:     rule.Group,
		Priority:  rule.Priority,
		Action:    rule.Action,
		Root:      root,
		RootKey:   key,
		Condition: rule.Condition,
	})
	b.net.byRule[rule.ID] = idx
	return nil
}

// add walks the tree post-order, reusing nodes with identical keys.
func (b *builder) add(c Condition) (NodeRef, Key, error) {
	if c.Kind == NodeLeaf {
		key := LeafKey(c.Leaf)
		if i, ok := b.alphaByKey[key]; ok {
			b.net.stats.SharedAlphaRefs++
			return NodeRef{Kind: RefAlpha, Index: i}, key, nil
		}
		pred, err := CompilePredicate(c.Leaf)
		if err != nil {
			return NodeRef{}, "", err
		}
		i := len(b.net.alphas)
		b.net.alphas = append(b.net.alphas, AlphaNode{Key: key, Predicate: pred})
		b.alphaByKey[key] = i
		return NodeRef{Kind: RefAlpha, Index: i}, key, nil
	}

	if !c.Op.Valid() {
		return NodeRef{}, "", fmt.Errorf("unknown group operator %q", c.Op)
	}

	children := make([]NodeRef, len(c.Children))
	keys := make([]Key, len(c.Children))
	for i, child := range c.Children {
		ref, key, err := b.add(child)
		if err != nil {
			return NodeRef{}, "", err
		}
		children[i] = ref
		keys[i] = key
	}

	key := GroupKey(c.Op, keys)
	if i, ok := b.betaByKey[key]; ok {
		b.net.stats.SharedBetaRefs++
		return NodeRef{Kind: RefBeta, Index: i}, key, nil
	}
	i := len(b.net.betas)
	b.net.betas = append(b.net.betas, BetaNode{Key: key, Op: c.Op, Children: children})
	b.betaByKey[key] = i
	return NodeRef{Kind: RefBeta, Index: i}, key, nil
}

// linkDependents records, per node, every terminal that transitively reaches it.
// Terminals are visited in index order so each Dependents slice ends up sorted.
func (b *builder) linkDependents() {
	for t := range b.net.terminals {
		seenAlpha := make(map[int]struct{})
		seenBeta := make(map[int]struct{})
		stack := []NodeRef{b.net.terminals[t].Root}
		for len(stack) > 0 {
			ref := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if ref.Kind == RefAlpha {
				if _, ok := seenAlpha[ref.Index]; ok {
					continue
				}
				seenAlpha[ref.Index] = struct{}{}
				b.net.alphas[ref.Index].Dependents = append(b.net.alphas[ref.Index].Dependents, t)
				continue
			}
			if _, ok := seenBeta[ref.Index]; ok {
				continue
			}
			seenBeta[ref.Index] = struct{}{}
			node := &b.net.betas[ref.Index]
			node.Dependents = append(node.Dependents, t)
			stack = append(stack, node.Children...)
		}
	}
}
