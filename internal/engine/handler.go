package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fluxrules/internal/broker"
	"fluxrules/internal/constants"
	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
	"fluxrules/pkg/logging"
	"fluxrules/pkg/metrics"
	"fluxrules/pkg/models"
	"fluxrules/pkg/retry"
)

// Publisher is the subset of broker.Producer the fact handler needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// FactHandler runs facts consumed from the input topic through the engine and
// forwards the annotated envelope to the output topic.
type FactHandler struct {
	service      *Service
	publisher    Publisher
	outputTopic  string
	publishRetry retry.Policy
	logger       logger.Logger
}

// NewFactHandler builds a handler. With an empty outputTopic or a nil
// publisher evaluated facts are not forwarded.
func NewFactHandler(service *Service, publisher Publisher, outputTopic string, log logger.Logger) *FactHandler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &FactHandler{
		service:      service,
		publisher:    publisher,
		outputTopic:  outputTopic,
		publishRetry: retry.DefaultPolicy(),
		logger:       log,
	}
}

// WithPublishRetry sets the policy for forwarding an evaluated fact.
func (h *FactHandler) WithPublishRetry(p retry.Policy) *FactHandler {
	h.publishRetry = p
	return h
}

func (h *FactHandler) Handle(ctx context.Context, msg broker.Message) error {
	var env models.FactEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		metrics.IncFactsEvaluated(constants.ModeLive, "invalid")
		return retry.Permanent(fmt.Errorf("failed to unmarshal fact envelope: %w", err))
	}
	if err := models.ValidateFactEnvelope(&env); err != nil {
		metrics.IncFactsEvaluated(constants.ModeLive, "invalid")
		return retry.Permanent(err)
	}

	ctx = logging.WithFactID(ctx, env.ID)

	fact, err := rete.NewFact(env.Payload)
	if err != nil {
		metrics.IncFactsEvaluated(constants.ModeLive, "invalid")
		h.logger.WarnwCtx(ctx, "Rejecting fact with unsupported payload", "error", err)
		return retry.Permanent(err)
	}

	eval, err := h.service.EvaluateFact(ctx, env.ID, fact)
	if err != nil {
		return err
	}

	env.Metadata.Evaluation = evaluationInfo(eval)

	if h.publisher == nil || h.outputTopic == "" {
		h.logger.DebugwCtx(ctx, "Fact evaluated", "matched", len(eval.Matches))
		return nil
	}

	// Actions have fired by now, so only the publish is retried. A message
	// that still cannot be forwarded goes to the DLQ instead of being
	// evaluated again.
	err = retry.DoWithCallback(ctx, h.publishRetry, func() error {
		return h.publisher.Publish(ctx, h.outputTopic, env.ID, &env)
	}, func(attempt int, err error, nextDelay time.Duration) {
		h.logger.WarnwCtx(ctx, "Retrying publish of evaluated fact",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to publish evaluated fact",
			"error", err,
			"output_topic", h.outputTopic,
		)
		return retry.Permanent(fmt.Errorf("failed to publish evaluated fact %s: %w", env.ID, err))
	}

	h.logger.InfowCtx(ctx, "Fact evaluated",
		"rule_version", eval.Version,
		"matched", len(eval.Matches),
	)
	return nil
}

func evaluationInfo(eval *Evaluation) *models.EvaluationInfo {
	info := &models.EvaluationInfo{
		Version:     eval.Version,
		RuleIDs:     eval.RuleIDs(),
		DryRun:      eval.DryRun,
		EvaluatedAt: time.Now().UTC(),
	}
	for _, o := range eval.Dispatch {
		info.Dispatch = append(info.Dispatch, models.Dispatch{
			RuleID: o.RuleID,
			Action: o.Action,
			Status: o.Status,
			Error:  o.Error,
		})
	}
	return info
}
