package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey     ctxKey = "trace_id"
	FactIDKey      ctxKey = "fact_id"
	RuleVersionKey ctxKey = "rule_version"
	ServiceNameKey ctxKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithFactID(ctx context.Context, factID string) context.Context {
	return context.WithValue(ctx, FactIDKey, factID)
}

func WithRuleVersion(ctx context.Context, version uint64) context.Context {
	return context.WithValue(ctx, RuleVersionKey, version)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func GetFactID(ctx context.Context) string {
	if factID, ok := ctx.Value(FactIDKey).(string); ok {
		return factID
	}
	return ""
}

func GetRuleVersion(ctx context.Context) (uint64, bool) {
	v, ok := ctx.Value(RuleVersionKey).(uint64)
	return v, ok
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

// GetLogFields returns the context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, string(TraceIDKey), traceID)
	}
	if factID := GetFactID(ctx); factID != "" {
		fields = append(fields, string(FactIDKey), factID)
	}
	if version, ok := GetRuleVersion(ctx); ok {
		fields = append(fields, string(RuleVersionKey), version)
	}
	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, string(ServiceNameKey), serviceName)
	}

	return fields
}
