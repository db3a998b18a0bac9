package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the top-level configuration for the action orchestrator:
// server listeners, logging, the cascade entry tiers and endpoints,
// scheduled action jobs, and health-counter persistence.
type Config struct {
	Version int               `yaml:"version"`
	Server  ServerConfig      `yaml:"server"`
	Logging LoggingConfig     `yaml:"logging"`
	Cascade CascadeFileConfig `yaml:"cascade"`
	Cron    CronConfig        `yaml:"cron"`
	Health  HealthConfig      `yaml:"health"`
}

// ServerConfig configures the orchestrator's HTTP/metrics listeners
// (cmd/orchestrator's "serve" subcommand).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LoggingConfig controls internal/observability's Logger construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HealthConfig controls the cascade client's health counter persistence.
// Empty DBPath keeps the counter purely in-memory; back-off state then
// resets cold on restart.
type HealthConfig struct {
	DBPath string `yaml:"db_path"`
}

// CronConfig declares scheduled action invocations: named actions run on
// a cron schedule through the normal Executor.Execute path.
type CronConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Jobs    []ScheduledActionConfig `yaml:"jobs"`
}

// ScheduledActionConfig is one cron-triggered action invocation: an
// action name, a standard five-field cron expression, and the fixed
// input parameters to invoke it with.
type ScheduledActionConfig struct {
	Name     string         `yaml:"name"`
	Action   string         `yaml:"action"`
	Schedule string         `yaml:"schedule"`
	Params   map[string]any `yaml:"params"`
	Timeout  time.Duration  `yaml:"timeout"`
}

// Load reads, env-interpolates, $include-resolves (loader.go), decodes,
// defaults, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the handful of
// settings that commonly vary between environments without editing the
// checked-in config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ACTIONFORGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ACTIONFORGE_HTTP_PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("ACTIONFORGE_METRICS_PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("ACTIONFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ACTIONFORGE_HEALTH_DB_PATH"); v != "" {
		cfg.Health.DBPath = v
	}
}

func parsePort(v string) (int, error) {
	var port int
	_, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &port)
	return port, err
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// ConfigValidationError aggregates every invariant violation found while
// validating a Config, so a broken file is reported in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Issues, "; "))
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		issues = append(issues, "server.metrics_port must be between 0 and 65535")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}

	if cfg.Cron.Enabled {
		seen := make(map[string]bool, len(cfg.Cron.Jobs))
		for _, job := range cfg.Cron.Jobs {
			if job.Name == "" {
				issues = append(issues, "cron.jobs entries must have a name")
				continue
			}
			if seen[job.Name] {
				issues = append(issues, fmt.Sprintf("cron.jobs: duplicate job name %q", job.Name))
			}
			seen[job.Name] = true
			if job.Action == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%s]: action is required", job.Name))
			}
			if job.Schedule == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%s]: schedule is required", job.Name))
			}
		}
	}

	if _, err := cfg.Cascade.ToCascadeConfig(); err != nil {
		issues = append(issues, err.Error())
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
