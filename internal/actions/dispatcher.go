package actions

import (
	"context"
	"fmt"
	"time"

	"fluxrules/internal/audit"
	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
	apperrors "fluxrules/pkg/errors"
	"fluxrules/pkg/logging"
	"fluxrules/pkg/metrics"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Outcome is the result of dispatching one matched rule.
type Outcome struct {
	RuleID   string                 `json:"rule_id"`
	Action   string                 `json:"action"`
	Status   string                 `json:"status"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

type Dispatcher struct {
	registry *Registry
	recorder audit.Recorder
	logger   logger.Logger
}

// NewDispatcher builds a dispatcher. recorder may be nil.
func NewDispatcher(registry *Registry, recorder audit.Recorder, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Dispatcher{registry: registry, recorder: recorder, logger: log}
}

// Dispatch invokes the action of every match in the given order. A failing or
// panicking action is recorded and never stops the remaining dispatches.
func (d *Dispatcher) Dispatch(ctx context.Context, factID string, fact rete.Fact, matches []rete.Match) []Outcome {
	outcomes := make([]Outcome, 0, len(matches))
	version, _ := logging.GetRuleVersion(ctx)

	for _, m := range matches {
		term := m.Terminal
		inv := Invocation{
			FactID:   factID,
			Fact:     fact,
			RuleID:   term.RuleID,
			RuleName: term.Name,
			Params:   term.Action.Params,
		}

		start := time.Now()
		result, err := d.invoke(ctx, term.Action.Name, inv)
		out := Outcome{
			RuleID:   term.RuleID,
			Action:   term.Action.Name,
			Status:   StatusSuccess,
			Result:   result,
			Duration: time.Since(start),
		}
		if err != nil {
			out.Status = StatusFailed
			out.Error = err.Error()
			d.logger.ErrorwCtx(ctx, "Action dispatch failed",
				"rule_id", term.RuleID,
				"action", term.Action.Name,
				"error", err,
			)
		}
		metrics.ObserveActionDispatch(out.Action, out.Status, out.Duration)
		outcomes = append(outcomes, out)

		if d.recorder != nil {
			if auditErr := d.recorder.Record(ctx, audit.Entry{
				FactID:      factID,
				RuleID:      out.RuleID,
				Action:      out.Action,
				Status:      out.Status,
				Error:       out.Error,
				Params:      inv.Params,
				RuleVersion: version,
				Duration:    out.Duration,
			}); auditErr != nil {
				d.logger.WarnwCtx(ctx, "Failed to audit action dispatch",
					"rule_id", out.RuleID,
					"error", auditErr,
				)
			}
		}
	}

	return outcomes
}

func (d *Dispatcher) invoke(ctx context.Context, name string, inv Invocation) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = apperrors.ErrActionFailed.
				WithCause(apperrors.RecoverPanic(r)).
				WithDetail("rule_id", inv.RuleID)
		}
	}()

	fn, ok := d.registry.Resolve(name)
	if !ok {
		return nil, apperrors.ErrActionFailed.
			WithDetail("rule_id", inv.RuleID).
			WithDetail("reason", fmt.Sprintf("action %q is not registered", name))
	}

	result, err = fn(ctx, inv)
	if err != nil {
		return nil, apperrors.ErrActionFailed.WithCause(err).WithDetail("rule_id", inv.RuleID)
	}
	return result, nil
}
