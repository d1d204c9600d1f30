// Package engine is the service facade over the rule network: evaluation,
// simulation, reload and the derived inspection artifacts.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"fluxrules/internal/actions"
	"fluxrules/internal/config"
	"fluxrules/internal/conflicts"
	"fluxrules/internal/constants"
	"fluxrules/internal/depgraph"
	"fluxrules/internal/logger"
	"fluxrules/internal/reload"
	"fluxrules/internal/rete"
	"fluxrules/internal/rulestore"
	"fluxrules/pkg/cel"
	apperrors "fluxrules/pkg/errors"
	"fluxrules/pkg/logging"
	"fluxrules/pkg/metrics"
	"fluxrules/pkg/tracing"
)

type Options struct {
	Manager    *reload.Manager
	Registry   *actions.Registry
	Dispatcher *actions.Dispatcher
	// Source is optional; without it only explicit Reload calls install rules.
	Source   rulestore.Source
	Reload   config.ReloadConfig
	Dispatch bool
	Logger   logger.Logger
}

type Service struct {
	manager     *reload.Manager
	registry    *actions.Registry
	dispatcher  *actions.Dispatcher
	source      rulestore.Source
	expressions *cel.Evaluator
	reloadCfg   config.ReloadConfig
	dispatch    bool
	logger      logger.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("engine: reload manager is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: action registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}

	expressions, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		manager:     opts.Manager,
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		source:      opts.Source,
		expressions: expressions,
		reloadCfg:   opts.Reload,
		dispatch:    opts.Dispatch && opts.Dispatcher != nil,
		logger:      opts.Logger,
	}, nil
}

// MatchedRule is one fired rule as reported to callers.
type MatchedRule struct {
	RuleID       string   `json:"rule_id"`
	Name         string   `json:"name,omitempty"`
	Group        string   `json:"group,omitempty"`
	Priority     int      `json:"priority"`
	Action       string   `json:"action"`
	Explanations []string `json:"explanations"`
}

// Evaluation is the result of running one fact. Matches are in dispatch order.
type Evaluation struct {
	FactID   string            `json:"fact_id,omitempty"`
	Version  uint64            `json:"version"`
	DryRun   bool              `json:"dry_run"`
	Matches  []MatchedRule     `json:"matches"`
	Stats    rete.EvalStats    `json:"stats"`
	Dispatch []actions.Outcome `json:"dispatch,omitempty"`
}

// RuleIDs returns the matched ids in dispatch order.
func (e *Evaluation) RuleIDs() []string {
	ids := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		ids[i] = m.RuleID
	}
	return ids
}

// EvaluateFact evaluates a fact against the active network and, when dispatch
// is enabled, invokes the bound actions in agenda order.
func (s *Service) EvaluateFact(ctx context.Context, factID string, fact rete.Fact) (*Evaluation, error) {
	return s.evaluate(ctx, factID, fact, nil, constants.ModeLive)
}

// Simulate is a dry run restricted to ruleIDs (all rules when empty). Actions
// are never dispatched.
func (s *Service) Simulate(ctx context.Context, fact rete.Fact, ruleIDs []string) (*Evaluation, error) {
	return s.evaluate(ctx, "", fact, ruleIDs, constants.ModeSimulate)
}

func (s *Service) evaluate(ctx context.Context, factID string, fact rete.Fact, ruleIDs []string, mode string) (*Evaluation, error) {
	snap := s.manager.Snapshot()

	ctx = logging.WithRuleVersion(ctx, snap.Version)
	if factID != "" {
		ctx = logging.WithFactID(ctx, factID)
	}
	ctx, span := tracing.StartSpan(ctx, "engine.evaluate",
		attribute.String("mode", mode),
		attribute.Int64("rule_version", int64(snap.Version)),
	)
	defer span.End()

	res, err := snap.Network.EvaluateRules(fact, ruleIDs)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.IncFactsEvaluated(mode, "error")
		s.logger.ErrorwCtx(ctx, "Fact evaluation aborted", "mode", mode, "error", err)
		return nil, err
	}

	out := &Evaluation{
		FactID:  factID,
		Version: snap.Version,
		DryRun:  mode == constants.ModeSimulate || !s.dispatch,
		Matches: make([]MatchedRule, len(res.Matches)),
		Stats:   res.Stats,
	}
	for i, m := range res.Matches {
		out.Matches[i] = matchedRule(m)
		metrics.IncRuleMatched(m.Terminal.RuleID)
	}

	status := "no_match"
	if len(res.Matches) > 0 {
		status = "matched"
	}
	metrics.IncFactsEvaluated(mode, status)
	metrics.ObserveEvaluation(mode, res.Stats.Elapsed, res.Stats.AlphaEvaluations, res.Stats.BetaEvaluations)
	span.SetAttributes(attribute.Int("matched_rules", len(res.Matches)))

	s.logger.DebugwCtx(ctx, "Fact evaluated",
		"mode", mode,
		"matched", out.RuleIDs(),
		"alpha_count", res.Stats.AlphaEvaluations,
		"beta_count", res.Stats.BetaEvaluations,
	)

	if !out.DryRun && len(res.Matches) > 0 {
		out.Dispatch = s.dispatcher.Dispatch(ctx, factID, fact, res.Matches)
	}

	return out, nil
}

func matchedRule(m rete.Match) MatchedRule {
	t := m.Terminal
	explanations := make([]string, len(m.Explanations))
	for i, e := range m.Explanations {
		explanations[i] = e.String()
	}
	return MatchedRule{
		RuleID:       t.RuleID,
		Name:         t.Name,
		Group:        t.Group,
		Priority:     t.Priority,
		Action:       t.Action.Name,
		Explanations: explanations,
	}
}

// Reload installs rules as a new version. The batch is rejected as a whole if
// any rule is invalid; the error names that rule.
func (s *Service) Reload(ctx context.Context, rules []rete.Rule, trigger string) (*reload.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.reload", attribute.String("trigger", trigger))
	defer span.End()

	snap, err := s.manager.Reload(ctx, rules, trigger)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return snap, nil
}

// ReloadFromSource loads the rule set from the configured source and installs
// it. With onlyIfChanged an identical rule set keeps the active version.
func (s *Service) ReloadFromSource(ctx context.Context, trigger string, onlyIfChanged bool) (*reload.Snapshot, bool, error) {
	if s.source == nil {
		return nil, false, apperrors.ErrServiceUnavailable.WithDetail("reason", "no rule source configured")
	}

	ctx, span := tracing.StartSpan(ctx, "engine.reload_from_source",
		attribute.String("trigger", trigger),
		attribute.String("source", s.source.Name()),
	)
	defer span.End()

	rules, err := s.source.LoadRules(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.ObserveReload(trigger, "source_error", 0)
		return nil, false, fmt.Errorf("failed to load rules from %s: %w", s.source.Name(), err)
	}

	if onlyIfChanged {
		snap, changed, err := s.manager.ReloadIfChanged(ctx, rules, trigger)
		if err != nil {
			tracing.RecordError(span, err)
		}
		return snap, changed, err
	}

	snap, err := s.manager.Reload(ctx, rules, trigger)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}
	return snap, true, nil
}

// ReloadRules reloads unconditionally from the source after a rule change event.
func (s *Service) ReloadRules(ctx context.Context) error {
	_, _, err := s.ReloadFromSource(ctx, constants.TriggerEvent, false)
	return err
}

// DetectConflicts returns the cached conflict report of the active version.
func (s *Service) DetectConflicts(ctx context.Context) (*conflicts.Report, error) {
	return s.manager.Conflicts(ctx)
}

// CheckRule validates a proposed rule and reports the conflicts it would
// introduce into the active enabled set. A rule with the same id is treated
// as the version being replaced.
func (s *Service) CheckRule(ctx context.Context, candidate rete.Rule) (*conflicts.Report, error) {
	if err := rete.ValidateRule(candidate, s.registry); err != nil {
		return nil, err
	}
	snap := s.manager.Snapshot()
	report := conflicts.CheckCandidate(snap.Rules, candidate)

	s.logger.DebugwCtx(ctx, "Candidate rule checked",
		"rule_id", candidate.ID,
		"conflicts", report.Total(),
	)
	return report, nil
}

// DependencyGraph returns the cached rule relationship graph of the active version.
func (s *Service) DependencyGraph(ctx context.Context) (*depgraph.Graph, error) {
	return s.manager.Graph(ctx)
}

// RelatedRules lists the rules linked to ruleID in the dependency graph,
// either through shared network nodes or through a conflict.
func (s *Service) RelatedRules(ctx context.Context, ruleID string) ([]string, error) {
	if _, ok := s.manager.Snapshot().Network.Terminal(ruleID); !ok {
		return nil, apperrors.ErrNotFound.WithDetail("rule_id", ruleID)
	}
	graph, err := s.manager.Graph(ctx)
	if err != nil {
		return nil, err
	}
	related := graph.Neighbors(ruleID)
	if related == nil {
		related = []string{}
	}
	return related, nil
}

// InvalidateCache forces the derived artifacts to be recomputed on next request.
func (s *Service) InvalidateCache(ctx context.Context) {
	s.manager.InvalidateCache(ctx)
}

type Stats struct {
	Version     uint64            `json:"version"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Rules       int               `json:"rules"`
	Fingerprint string            `json:"fingerprint"`
	Network     rete.NetworkStats `json:"network"`
}

func (s *Service) Stats() Stats {
	snap := s.manager.Snapshot()
	return Stats{
		Version:     snap.Version,
		LoadedAt:    snap.LoadedAt,
		Rules:       len(snap.Rules),
		Fingerprint: snap.Fingerprint,
		Network:     snap.Network.Stats(),
	}
}

// Expression renders the condition of an active rule as a CEL expression.
func (s *Service) Expression(ruleID string) (string, error) {
	term, ok := s.manager.Snapshot().Network.Terminal(ruleID)
	if !ok {
		return "", apperrors.ErrNotFound.WithDetail("rule_id", ruleID)
	}
	expr, err := s.expressions.Export(term.Condition)
	if err != nil {
		return "", apperrors.ErrInternal.WithCause(err).WithDetail("rule_id", ruleID)
	}
	return expr, nil
}

func (s *Service) ListActions() []actions.Definition {
	return s.registry.List()
}
