// Package audit records the outcome of every action dispatch.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fluxrules/internal/logger"
	"fluxrules/pkg/metrics"
)

type Entry struct {
	ID          string
	FactID      string
	RuleID      string
	Action      string
	Status      string
	Error       string
	Params      map[string]interface{}
	RuleVersion uint64
	Duration    time.Duration
	Timestamp   time.Time
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// LogRecorder writes entries to the service log.
type LogRecorder struct {
	logger logger.Logger
}

func NewLogRecorder(log logger.Logger) *LogRecorder {
	return &LogRecorder{logger: log}
}

func (r *LogRecorder) Record(ctx context.Context, entry Entry) error {
	fields := []interface{}{
		"fact_id", entry.FactID,
		"rule_id", entry.RuleID,
		"action", entry.Action,
		"status", entry.Status,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	if entry.Error != "" {
		fields = append(fields, "error", entry.Error)
		r.logger.WarnwCtx(ctx, "Action dispatch audited", fields...)
		return nil
	}
	r.logger.InfowCtx(ctx, "Action dispatch audited", fields...)
	return nil
}

type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (a *PostgresRecorder) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO dispatch_audit_logs (id, fact_id, rule_id, action, status, error, params, rule_version, duration_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	id := uuid.New().String()
	if entry.ID != "" {
		id = entry.ID
	}

	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		paramsJSON = []byte("null")
	}

	var factID *string
	if entry.FactID != "" {
		factID = &entry.FactID
	}

	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}

	timestamp := time.Now()
	if !entry.Timestamp.IsZero() {
		timestamp = entry.Timestamp
	}

	start := time.Now()
	_, err = a.db.ExecContext(ctx, query,
		id, factID, entry.RuleID, entry.Action, entry.Status, errText,
		paramsJSON, int64(entry.RuleVersion), entry.Duration.Milliseconds(), timestamp,
	)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("postgres", "audit_insert", status, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}

	return nil
}

// Multi fans an entry out to several recorders and returns the first error.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
