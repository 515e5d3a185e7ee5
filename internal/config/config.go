// Package config loads controller and worker settings from a YAML file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller (and the worker metrics endpoint)
	HTTPPort int

	// URL of the controller, used by workers (e.g., "http://localhost:6161")
	ControllerURL string

	// Shared secret for /internal routes and tenant administration
	InternalSecret string

	LogLevel slog.Level

	// OTLP gRPC collector address
	OTELEndpoint string
	// Fraction of new traces sampled, 0 to 1
	OTELSampleRatio float64

	// Claim lease
	LeaseDuration      time.Duration
	LeaseSweepInterval time.Duration
	ClaimMaxAttempts   int

	// Automatic retries per chain on failure. 0 disables them.
	AutoRetryLimit int

	// Worker-specific configuration
	WorkerID                string
	WorkerTenants           []uuid.UUID
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration
	WorkerSimulatedDuration time.Duration

	Schedules []Schedule
}

// Schedule is one cron-triggered run definition.
type Schedule struct {
	Name              string
	TenantID          uuid.UUID
	PipelineVersionID uuid.UUID
	Cron              string
	Parameters        json.RawMessage
}

type scheduleEntry struct {
	Name              string                 `mapstructure:"name"`
	TenantID          string                 `mapstructure:"tenant_id"`
	PipelineVersionID string                 `mapstructure:"pipeline_version_id"`
	Cron              string                 `mapstructure:"cron"`
	Parameters        map[string]interface{} `mapstructure:"parameters"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"database_url":              "DATABASE_URL",
	"http_port":                 "PORT",
	"controller_url":            "CONTROLLER_URL",
	"internal_secret":           "INTERNAL_SECRET",
	"log_level":                 "LOG_LEVEL",
	"otel_endpoint":             "OTEL_EXPORTER_OTLP_ENDPOINT",
	"otel_sample_ratio":         "OTEL_TRACES_SAMPLER_ARG",
	"lease_duration":            "LEASE_DURATION",
	"lease_sweep_interval":      "LEASE_SWEEP_INTERVAL",
	"claim_max_attempts":        "CLAIM_MAX_ATTEMPTS",
	"auto_retry_limit":          "AUTO_RETRY_LIMIT",
	"worker_id":                 "WORKER_ID",
	"worker_tenants":            "WORKER_TENANTS",
	"worker_concurrency":        "WORKER_CONCURRENCY",
	"worker_poll_interval":      "WORKER_POLL_INTERVAL",
	"worker_max_backoff":        "WORKER_MAX_BACKOFF",
	"worker_heartbeat_interval": "WORKER_HEARTBEAT_INTERVAL",
	"worker_simulated_duration": "WORKER_SIMULATED_DURATION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("internal_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("otel_sample_ratio", 1.0)
	v.SetDefault("lease_duration", 5*time.Minute)
	v.SetDefault("lease_sweep_interval", 30*time.Second)
	v.SetDefault("claim_max_attempts", 3)
	v.SetDefault("auto_retry_limit", 0)
	v.SetDefault("worker_id", "")
	v.SetDefault("worker_tenants", "")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", 1*time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("worker_simulated_duration", 2*time.Second)
}

// DefaultFile is the config file looked up in the working directory when no path is given.
const DefaultFile = "pipeplane.yaml"

// Load reads the optional YAML file at path, then applies environment overrides.
// An empty path looks for pipeplane.yaml in the working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", DefaultFile, err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:             v.GetString("database_url"),
		HTTPPort:                v.GetInt("http_port"),
		ControllerURL:           v.GetString("controller_url"),
		InternalSecret:          v.GetString("internal_secret"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
		OTELSampleRatio:         v.GetFloat64("otel_sample_ratio"),
		LeaseDuration:           v.GetDuration("lease_duration"),
		LeaseSweepInterval:      v.GetDuration("lease_sweep_interval"),
		ClaimMaxAttempts:        v.GetInt("claim_max_attempts"),
		AutoRetryLimit:          v.GetInt("auto_retry_limit"),
		WorkerID:                v.GetString("worker_id"),
		WorkerConcurrency:       v.GetInt("worker_concurrency"),
		WorkerPollInterval:      v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:        v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval: v.GetDuration("worker_heartbeat_interval"),
		WorkerSimulatedDuration: v.GetDuration("worker_simulated_duration"),
	}

	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	tenants, err := parseTenants(v.GetStringSlice("worker_tenants"))
	if err != nil {
		return nil, err
	}
	cfg.WorkerTenants = tenants

	var entries []scheduleEntry
	if err := v.UnmarshalKey("schedules", &entries); err != nil {
		return nil, fmt.Errorf("invalid schedules: %w", err)
	}
	for _, e := range entries {
		s, err := e.toSchedule()
		if err != nil {
			return nil, err
		}
		cfg.Schedules = append(cfg.Schedules, s)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	case c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1:
		return fmt.Errorf("otel_sample_ratio must be between 0 and 1, got %v", c.OTELSampleRatio)
	case c.LeaseDuration <= 0:
		return errors.New("lease_duration must be positive")
	case c.LeaseSweepInterval <= 0:
		return errors.New("lease_sweep_interval must be positive")
	case c.ClaimMaxAttempts < 1:
		return errors.New("claim_max_attempts must be at least 1")
	case c.AutoRetryLimit < 0:
		return errors.New("auto_retry_limit must not be negative")
	case c.WorkerConcurrency < 1:
		return errors.New("worker_concurrency must be at least 1")
	case c.WorkerPollInterval <= 0:
		return errors.New("worker_poll_interval must be positive")
	case c.WorkerMaxBackoff < c.WorkerPollInterval:
		return errors.New("worker_max_backoff must not be shorter than worker_poll_interval")
	case c.WorkerHeartbeatInterval <= 0:
		return errors.New("worker_heartbeat_interval must be positive")
	case c.WorkerHeartbeatInterval >= c.LeaseDuration:
		return errors.New("worker_heartbeat_interval must be shorter than lease_duration")
	}
	return nil
}

// RequireDatabase reports an error when no database is configured. Used by the controller.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	return nil
}

// RequireWorkerTenants reports an error when the worker has no tenant scope.
func (c *Config) RequireWorkerTenants() error {
	if len(c.WorkerTenants) == 0 {
		return errors.New("worker_tenants is required (env: WORKER_TENANTS)")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

// parseTenants accepts a YAML list or a comma separated env value.
func parseTenants(raw []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, fmt.Errorf("invalid worker_tenants entry %q: %w", part, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (e scheduleEntry) toSchedule() (Schedule, error) {
	if e.Name == "" {
		return Schedule{}, errors.New("schedule name is required")
	}
	if e.Cron == "" {
		return Schedule{}, fmt.Errorf("schedule %s: cron is required", e.Name)
	}
	tenantID, err := uuid.Parse(e.TenantID)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: invalid tenant_id: %w", e.Name, err)
	}
	versionID, err := uuid.Parse(e.PipelineVersionID)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: invalid pipeline_version_id: %w", e.Name, err)
	}

	params := json.RawMessage(`{}`)
	if len(e.Parameters) > 0 {
		b, err := json.Marshal(e.Parameters)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule %s: invalid parameters: %w", e.Name, err)
		}
		params = b
	}

	return Schedule{
		Name:              e.Name,
		TenantID:          tenantID,
		PipelineVersionID: versionID,
		Cron:              e.Cron,
		Parameters:        params,
	}, nil
}
