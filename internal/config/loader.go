package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("service.name", "rules-engine")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("engine.rule_source", SourceNone)
	viper.SetDefault("engine.dispatch", true)
	viper.SetDefault("engine.reload.interval", time.Minute)
	viper.SetDefault("engine.reload.jitter_max", 2*time.Second)

	viper.SetDefault("cache.local_capacity", 256)
	viper.SetDefault("cache.local_ttl", time.Minute)
	viper.SetDefault("cache.remote.ttl", 5*time.Minute)
	viper.SetDefault("cache.remote.timeout", 500*time.Millisecond)
	viper.SetDefault("cache.remote.key_prefix", "rule_engine:")

	viper.SetDefault("actions.webhook_timeout", 5*time.Second)
	viper.SetDefault("actions.retry.max_attempts", 3)
	viper.SetDefault("actions.retry.initial_interval", 200*time.Millisecond)
	viper.SetDefault("actions.retry.max_interval", 2*time.Second)
	viper.SetDefault("actions.retry.multiplier", 2.0)

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", time.Second)
	viper.SetDefault("broker.kafka.retry.max_interval", 30*time.Second)
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("database.mongodb.collection", "rules")

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", time.Minute)
	viper.SetDefault("circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 3)

	viper.SetDefault("rate_limit.rps", 100.0)
	viper.SetDefault("rate_limit.burst", 200)
	viper.SetDefault("rate_limit.cleanup_interval", time.Minute)
	viper.SetDefault("rate_limit.max_age", 10*time.Minute)
}

func bindEnvVariables() {
	viper.BindEnv("broker.enabled", "BROKER_ENABLED")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")
	viper.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("engine.rule_source", "ENGINE_RULE_SOURCE")
	viper.BindEnv("engine.rules_file", "ENGINE_RULES_FILE")
	viper.BindEnv("cache.remote.enabled", "CACHE_REMOTE_ENABLED")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
