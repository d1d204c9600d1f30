package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fluxrules/internal/rete"
	"fluxrules/pkg/metrics"
)

type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Name() string { return "postgres" }

// LoadRules returns every rule, enabled or not, in creation order.
func (s *PostgresSource) LoadRules(ctx context.Context) ([]rete.Rule, error) {
	query := `
		SELECT id, name, description, rule_group, priority, enabled, condition, action, action_params
		FROM rules
		ORDER BY created_at ASC, id ASC
	`

	start := time.Now()
	rules, err := s.query(ctx, query)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("postgres", "load_rules", status, time.Since(start))

	return rules, err
}

func (s *PostgresSource) query(ctx context.Context, query string) ([]rete.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []rete.Rule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var (
			rule       rete.Rule
			group      sql.NullString
			condition  []byte
			actionName string
			params     []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &group,
			&rule.Priority, &rule.Enabled, &condition, &actionName, &params,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.Group = group.String
		rule.Action.Name = actionName

		if rule.Condition, err = rete.ParseCondition(condition); err != nil {
			return nil, fmt.Errorf("rule %s: invalid condition: %w", rule.ID, err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Action.Params); err != nil {
				return nil, fmt.Errorf("rule %s: invalid action params: %w", rule.ID, err)
			}
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// SaveRule upserts a rule. It backs seeding and tests; rule authoring itself
// lives outside this service.
func (s *PostgresSource) SaveRule(ctx context.Context, rule rete.Rule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	var params *string
	if rule.Action.Params != nil {
		encoded, err := json.Marshal(rule.Action.Params)
		if err != nil {
			return fmt.Errorf("failed to encode action params: %w", err)
		}
		text := string(encoded)
		params = &text
	}

	var group *string
	if rule.Group != "" {
		group = &rule.Group
	}

	query := `
		INSERT INTO rules (id, name, description, rule_group, priority, enabled, condition, action, action_params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			rule_group = EXCLUDED.rule_group,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			condition = EXCLUDED.condition,
			action = EXCLUDED.action,
			action_params = EXCLUDED.action_params,
			updated_at = NOW()
	`

	start := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, group, rule.Priority, rule.Enabled,
		string(condition), rule.Action.Name, params,
	)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("postgres", "save_rule", status, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}
