// Package ruleevents reacts to rule change announcements by reloading the
// rule network from the rule store.
package ruleevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fluxrules/internal/broker"
	"fluxrules/internal/constants"
	"fluxrules/internal/logger"
	apperrors "fluxrules/pkg/errors"
	"fluxrules/pkg/models"
	"fluxrules/pkg/retry"
)

type RulesReloader interface {
	ReloadRules(ctx context.Context) error
}

type Handler struct {
	reloader RulesReloader
	accepted map[string]struct{}
	logger   logger.Logger
}

// NewHandler reloads on every rule event type unless eventTypes narrows it.
func NewHandler(reloader RulesReloader, log logger.Logger, eventTypes ...string) *Handler {
	if len(eventTypes) == 0 {
		eventTypes = []string{
			constants.EventTypeRuleUpdated,
			constants.EventTypeRuleDeleted,
			constants.EventTypeRulesReloaded,
		}
	}
	accepted := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		accepted[t] = struct{}{}
	}
	return &Handler{reloader: reloader, accepted: accepted, logger: log}
}

// Handle accepts either a bare event or an event wrapped in a fact envelope
// payload. Undecodable events and rule sets that fail validation are
// permanent failures; source errors are retried.
func (h *Handler) Handle(ctx context.Context, msg broker.Message) error {
	event, err := decodeEvent(msg.Value)
	if err != nil {
		h.logger.WarnwCtx(ctx, "Discarding malformed rule change event", "topic", msg.Topic, "error", err)
		return retry.Permanent(err)
	}

	if _, ok := h.accepted[event.EventType]; !ok {
		h.logger.DebugwCtx(ctx, "Ignoring rule event", "event_type", event.EventType)
		return nil
	}

	h.logger.InfowCtx(ctx, "Received rule change event",
		"event_type", event.EventType,
		"action", event.Action,
		"rule_id", event.RuleID,
		"changed_by", event.ChangedBy,
	)

	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after change event",
			"event_type", event.EventType,
			"rule_id", apperrors.RuleID(err),
			"error", err,
		)
		if apperrors.IsRuleValidation(err) || errors.Is(err, apperrors.ErrReloadFailed) {
			return retry.Permanent(err)
		}
		return err
	}

	h.logger.InfowCtx(ctx, "Rules reloaded after change event", "action", event.Action)
	return nil
}

func decodeEvent(data []byte) (*models.RuleChangeEvent, error) {
	var event models.RuleChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule event: %w", err)
	}

	if event.EventType == "" {
		var envelope models.FactEnvelope
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Payload != nil {
			payload, err := json.Marshal(envelope.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal event payload: %w", err)
			}
			if err := json.Unmarshal(payload, &event); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule event payload: %w", err)
			}
		}
	}

	if err := models.ValidateRuleChangeEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}
