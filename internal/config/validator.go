package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks the configuration without touching any external system.
// All failing sections are reported together.
func ValidateStatic(cfg *Config) error {
	var errs []error

	for _, check := range []func(*Config) error{
		validateServer,
		validateBroker,
		validateDatabase,
		validateEngine,
		validateCache,
		validateAudit,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
		}
	}
	return nil
}

func validateServer(cfg *Config) error {
	if err := validatePort("server.port", cfg.Server.Port); err != nil {
		return err
	}
	if cfg.Server.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}
	if cfg.Server.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}
	return nil
}

func validateBroker(cfg *Config) error {
	if !cfg.Broker.Enabled {
		return nil
	}
	if cfg.Broker.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q (supported: kafka)", cfg.Broker.Type),
		}
	}
	k := cfg.Broker.Kafka

	if len(k.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}
	for i, broker := range k.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}
	if k.GroupID == "" {
		return &ValidationError{Field: "broker.kafka.group_id", Message: "Kafka consumer group ID is required"}
	}
	if k.InputTopic == "" && k.ConfigUpdateTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "input_topic or config_update_topic is required when the broker is enabled",
		}
	}
	return validateRetry("broker.kafka.retry", k.Retry)
}

func validateRetry(prefix string, r RetryConfig) error {
	if r.MaxAttempts < 0 {
		return &ValidationError{Field: prefix + ".max_attempts", Message: "max_attempts must be non-negative"}
	}
	if r.InitialInterval < 0 || r.MaxInterval < 0 {
		return &ValidationError{Field: prefix, Message: "intervals must be non-negative"}
	}
	if r.MaxInterval > 0 && r.InitialInterval > 0 && r.MaxInterval < r.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}
	if r.Multiplier <= 0 {
		return &ValidationError{Field: prefix + ".multiplier", Message: "multiplier must be positive"}
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	db := cfg.Database

	if db.Postgres.Configured() {
		if err := validatePort("database.postgres.port", db.Postgres.Port); err != nil {
			return err
		}
		if db.Postgres.User == "" {
			return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
		}
		if db.Postgres.DBName == "" {
			return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
		}
		validSSLModes := map[string]bool{
			"disable": true, "allow": true, "prefer": true,
			"require": true, "verify-ca": true, "verify-full": true,
		}
		if db.Postgres.SSLMode != "" && !validSSLModes[strings.ToLower(db.Postgres.SSLMode)] {
			return &ValidationError{
				Field:   "database.postgres.sslmode",
				Message: fmt.Sprintf("invalid SSL mode: %s", db.Postgres.SSLMode),
			}
		}
	}

	if db.Redis.Configured() {
		if err := validatePort("database.redis.port", db.Redis.Port); err != nil {
			return err
		}
	}

	if db.MongoDB.Configured() {
		if !strings.HasPrefix(db.MongoDB.URI, "mongodb://") && !strings.HasPrefix(db.MongoDB.URI, "mongodb+srv://") {
			return &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
			}
		}
		if db.MongoDB.Database == "" {
			return &ValidationError{Field: "database.mongodb.database", Message: "MongoDB database name is required"}
		}
	}

	return nil
}

func validateEngine(cfg *Config) error {
	e := cfg.Engine

	switch e.RuleSource {
	case SourceNone:
	case SourcePostgres:
		if !cfg.Database.Postgres.Configured() {
			return &ValidationError{Field: "engine.rule_source", Message: "postgres rule source requires database.postgres"}
		}
	case SourceMongoDB:
		if !cfg.Database.MongoDB.Configured() {
			return &ValidationError{Field: "engine.rule_source", Message: "mongodb rule source requires database.mongodb"}
		}
	case SourceFile:
		if e.RulesFile == "" {
			return &ValidationError{Field: "engine.rules_file", Message: "rules_file is required for the file rule source"}
		}
	default:
		return &ValidationError{
			Field:   "engine.rule_source",
			Message: fmt.Sprintf("unknown rule source %q (supported: postgres, mongodb, file, none)", e.RuleSource),
		}
	}

	if e.Reload.Interval < 0 || e.Reload.JitterMax < 0 {
		return &ValidationError{Field: "engine.reload", Message: "interval and jitter_max must be non-negative"}
	}
	if e.Reload.Schedule != "" {
		if _, err := cron.ParseStandard(e.Reload.Schedule); err != nil {
			return &ValidationError{
				Field:   "engine.reload.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			}
		}
	}
	return nil
}

func validateCache(cfg *Config) error {
	c := cfg.Cache
	if c.LocalCapacity <= 0 {
		return &ValidationError{Field: "cache.local_capacity", Message: "local capacity must be positive"}
	}
	if c.LocalTTL <= 0 {
		return &ValidationError{Field: "cache.local_ttl", Message: "local TTL must be positive"}
	}
	if !c.Remote.Enabled {
		return nil
	}
	if !cfg.Database.Redis.Configured() {
		return &ValidationError{Field: "cache.remote.enabled", Message: "remote cache tier requires database.redis"}
	}
	if c.Remote.Timeout <= 0 {
		return &ValidationError{Field: "cache.remote.timeout", Message: "remote timeout must be positive"}
	}
	if c.Remote.TTL <= 0 {
		return &ValidationError{Field: "cache.remote.ttl", Message: "remote TTL must be positive"}
	}
	return nil
}

func validateAudit(cfg *Config) error {
	if cfg.Audit.Enabled && !cfg.Database.Postgres.Configured() {
		return &ValidationError{Field: "audit.enabled", Message: "audit trail requires database.postgres"}
	}
	return nil
}
