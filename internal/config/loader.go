package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "planforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PLANFORGE_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PLANFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PLANFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PLANFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PLANFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PLANFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "PLANFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PLANFORGE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "PLANFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PLANFORGE_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "PLANFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.IdempotencyTTL, "PLANFORGE_IDEMPOTENCY_TTL")

	// Engine
	setDuration(&cfg.Engine.HeartbeatInterval, "PLANFORGE_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Engine.StaleAfter, "PLANFORGE_STALE_AFTER")
	setInt(&cfg.Engine.HeartbeatBatch, "PLANFORGE_HEARTBEAT_BATCH")
	setDuration(&cfg.Engine.ThinkWindow, "PLANFORGE_THINK_WINDOW")
	setDuration(&cfg.Engine.PlanningWindow, "PLANFORGE_PLANNING_WINDOW")
	setInt(&cfg.Engine.ThinkRetries, "PLANFORGE_THINK_RETRIES")
	setInt(&cfg.Engine.PlanningRetries, "PLANFORGE_PLANNING_RETRIES")
	setInt(&cfg.Engine.HeartbeatRetries, "PLANFORGE_HEARTBEAT_RETRIES")
	setInt(&cfg.Engine.MaxHops, "PLANFORGE_MAX_HOPS")
	setInt(&cfg.Engine.MaxConcurrentRuns, "PLANFORGE_MAX_CONCURRENT_RUNS")
	setDuration(&cfg.Engine.MessageTTL, "PLANFORGE_MESSAGE_TTL")
	setInt(&cfg.Engine.InboxLimit, "PLANFORGE_INBOX_LIMIT")
	setInt(&cfg.Engine.DecisionLimit, "PLANFORGE_DECISION_LIMIT")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "PLANFORGE_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "PLANFORGE_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Engine.HeartbeatBatch < 1 {
		return errors.New("engine.heartbeat_batch must be >= 1")
	}
	if cfg.Engine.MaxConcurrentRuns < 1 {
		return errors.New("engine.max_concurrent_runs must be >= 1")
	}
	if cfg.Engine.MaxHops < 1 {
		return errors.New("engine.max_hops must be >= 1")
	}
	if cfg.Engine.ThinkWindow <= 0 || cfg.Engine.PlanningWindow <= 0 {
		return errors.New("engine throttle windows must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
