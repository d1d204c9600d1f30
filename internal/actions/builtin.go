package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"fluxrules/internal/broker"
	"fluxrules/internal/logger"
	"fluxrules/pkg/models"
	"fluxrules/pkg/retry"
)

const (
	ActionLogEvent           = "log_event"
	ActionFlagForReview      = "flag_for_review"
	ActionSendAlert          = "send_alert"
	ActionBlockTransaction   = "block_transaction"
	ActionApproveTransaction = "approve_transaction"
	ActionNoAction           = "no_action"
	ActionCallWebhook        = "call_webhook"
	ActionPublishEvent       = "publish_event"
)

type BuiltinOptions struct {
	Logger logger.Logger
	// Producer backs publish_event; without one the action fails at dispatch.
	Producer     broker.Producer
	PublishTopic string
	HTTPClient   *http.Client
	Retry        retry.Policy
}

// RegisterBuiltins installs the standard action set.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	b := &builtins{opts: opts}

	for _, def := range []Definition{
		{Name: ActionLogEvent, Description: "Log the matched fact with a message", Category: "logging", fn: b.logEvent},
		{Name: ActionFlagForReview, Description: "Flag the fact for manual review", Category: "transactions", fn: b.flagForReview},
		{Name: ActionSendAlert, Description: "Raise an alert for the matched fact", Category: "alerts", fn: b.sendAlert},
		{Name: ActionBlockTransaction, Description: "Block the transaction described by the fact", Category: "transactions", fn: b.blockTransaction},
		{Name: ActionApproveTransaction, Description: "Approve the transaction described by the fact", Category: "transactions", fn: b.approveTransaction},
		{Name: ActionNoAction, Description: "Do nothing", Category: "utility", fn: noAction},
		{Name: ActionCallWebhook, Description: "POST the match to an external URL", Category: "integrations", fn: b.callWebhook},
		{Name: ActionPublishEvent, Description: "Publish the match to a Kafka topic", Category: "integrations", fn: b.publishEvent},
	} {
		_ = r.Register(def.Name, def.Description, def.Category, def.fn)
	}
}

type builtins struct {
	opts BuiltinOptions
}

func transactionID(inv Invocation) string {
	for _, field := range []string{"transaction_id", "id"} {
		if v, ok := inv.Fact.Get(field); ok && !v.IsNull() {
			if s, ok := v.AsString(); ok {
				return s
			}
			return v.String()
		}
	}
	if inv.FactID != "" {
		return inv.FactID
	}
	return "unknown"
}

func (b *builtins) logEvent(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	level := inv.StringParam("level", "info")
	message := inv.StringParam("message", "Rule matched")
	fields := []interface{}{"rule_id", inv.RuleID, "fact", inv.Fact.Map()}

	switch level {
	case "debug":
		b.opts.Logger.DebugwCtx(ctx, message, fields...)
	case "warn", "warning":
		b.opts.Logger.WarnwCtx(ctx, message, fields...)
	case "error":
		b.opts.Logger.ErrorwCtx(ctx, message, fields...)
	default:
		level = "info"
		b.opts.Logger.InfowCtx(ctx, message, fields...)
	}
	return map[string]interface{}{"logged": true, "level": level, "message": message}, nil
}

func (b *builtins) flagForReview(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	priority := inv.StringParam("priority", "medium")
	notes := inv.StringParam("notes", "Flagged by rule "+inv.RuleID)
	b.opts.Logger.InfowCtx(ctx, "Fact flagged for review",
		"rule_id", inv.RuleID,
		"priority", priority,
		"notes", notes,
	)
	return map[string]interface{}{"flagged": true, "priority": priority, "notes": notes}, nil
}

func (b *builtins) sendAlert(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	alertType := inv.StringParam("alert_type", "default")
	message := inv.StringParam("message", fmt.Sprintf("Rule %s matched", inv.RuleID))
	b.opts.Logger.WarnwCtx(ctx, "Alert raised",
		"rule_id", inv.RuleID,
		"alert_type", alertType,
		"alert_message", message,
	)
	return map[string]interface{}{"alert_sent": true, "alert_type": alertType, "message": message}, nil
}

func (b *builtins) blockTransaction(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	id := transactionID(inv)
	reason := inv.StringParam("reason", "Blocked by rule "+inv.RuleID)
	b.opts.Logger.WarnwCtx(ctx, "Transaction blocked",
		"rule_id", inv.RuleID,
		"transaction_id", id,
		"reason", reason,
	)
	return map[string]interface{}{"blocked": true, "transaction_id": id, "reason": reason}, nil
}

func (b *builtins) approveTransaction(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	id := transactionID(inv)
	b.opts.Logger.InfowCtx(ctx, "Transaction approved",
		"rule_id", inv.RuleID,
		"transaction_id", id,
	)
	return map[string]interface{}{"approved": true, "transaction_id": id}, nil
}

func noAction(context.Context, Invocation) (map[string]interface{}, error) {
	return map[string]interface{}{"action": "none"}, nil
}

type webhookBody struct {
	RuleID   string                 `json:"rule_id"`
	RuleName string                 `json:"rule_name"`
	FactID   string                 `json:"fact_id,omitempty"`
	Fact     map[string]interface{} `json:"fact"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// callWebhook retries transport errors and 5xx responses; 4xx responses fail at once.
func (b *builtins) callWebhook(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	url := inv.StringParam("url", "")
	if url == "" {
		return nil, fmt.Errorf("call_webhook requires a url parameter")
	}
	method := inv.StringParam("method", http.MethodPost)

	body, err := json.Marshal(webhookBody{
		RuleID:   inv.RuleID,
		RuleName: inv.RuleName,
		FactID:   inv.FactID,
		Fact:     inv.Fact.Map(),
		Params:   inv.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook body: %w", err)
	}

	var status int
	err = retry.DoWithCallback(ctx, b.opts.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if headers, ok := inv.Params["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}

		resp, err := b.opts.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		status = resp.StatusCode
		switch {
		case status >= 500:
			return fmt.Errorf("webhook returned status: %d", status)
		case status >= 400:
			return retry.Permanent(fmt.Errorf("webhook returned status: %d", status))
		}
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		b.opts.Logger.WarnwCtx(ctx, "Retrying webhook",
			"rule_id", inv.RuleID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"webhook_called": true, "url": url, "method": method, "status": status}, nil
}

func (b *builtins) publishEvent(ctx context.Context, inv Invocation) (map[string]interface{}, error) {
	if b.opts.Producer == nil {
		return nil, fmt.Errorf("publish_event requires an enabled broker")
	}
	topic := inv.StringParam("topic", b.opts.PublishTopic)
	if topic == "" {
		return nil, fmt.Errorf("publish_event requires a topic")
	}

	event := models.ActionEvent{
		ID:        uuid.New().String(),
		FactID:    inv.FactID,
		RuleID:    inv.RuleID,
		RuleName:  inv.RuleName,
		Action:    ActionPublishEvent,
		Params:    inv.Params,
		Fact:      inv.Fact.Map(),
		Timestamp: time.Now(),
	}
	key := inv.FactID
	if key == "" {
		key = event.ID
	}
	if err := b.opts.Producer.Publish(ctx, topic, key, event); err != nil {
		return nil, err
	}
	return map[string]interface{}{"published": true, "topic": topic, "event_id": event.ID}, nil
}
