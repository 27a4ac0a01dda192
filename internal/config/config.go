// Package config loads taskhive configuration from config.yaml with env
// overrides. Timing knobs may not be zero: zero would silently disable a
// monitor, so a zero after normalization fails validation and startup.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// OrchestratorConfig holds the scheduling and liveness timing knobs.
type OrchestratorConfig struct {
	// HeartbeatIntervalSeconds is the liveness check cadence. An agent is
	// declared lost after missing two intervals.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	// TaskTimeoutSeconds is the default per-task timeout.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	// TimeoutCheckSeconds is the overrun-scan cadence.
	TimeoutCheckSeconds int `yaml:"timeout_check_seconds"`
	// RetryBaseDelaySeconds scales the linear retry backoff.
	RetryBaseDelaySeconds int `yaml:"retry_base_delay_seconds"`
	MaxRetries            int `yaml:"max_retries"`
	// ReapIntervalSeconds and RetentionSeconds control terminal-task cleanup.
	ReapIntervalSeconds int `yaml:"reap_interval_seconds"`
	RetentionSeconds    int `yaml:"retention_seconds"`
}

// BusConfig holds event distribution settings.
type BusConfig struct {
	DefaultBufferSize  int `yaml:"default_buffer_size"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	// PollWaitSeconds bounds the pull adapter's wait for events.
	PollWaitSeconds int `yaml:"poll_wait_seconds"`
	// KeepaliveSeconds is the push stream's no-op cadence when idle.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
}

// PersistenceConfig selects and tunes the snapshot store.
type PersistenceConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// Path is the sqlite file; empty uses $TASKHIVE_HOME/taskhive.db.
	Path string `yaml:"path"`
}

// GatewayConfig holds the HTTP front end settings.
type GatewayConfig struct {
	BindAddr string `yaml:"bind_addr"`
	// AuthToken guards mutating endpoints; empty disables auth (local use).
	AuthToken string `yaml:"auth_token"`
}

// OtelConfig controls trace/metric export.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"` // OTLP HTTP endpoint, host:port
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// ScheduleConfig defines one recurring task template.
type ScheduleConfig struct {
	Name           string         `yaml:"name"`
	Cron           string         `yaml:"cron"`
	TaskType       string         `yaml:"task_type"`
	Priority       string         `yaml:"priority"`
	Data           map[string]any `yaml:"data"`
	AssignedTo     string         `yaml:"assigned_to"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	MaxRetries     int            `yaml:"max_retries"`
}

// SchemaConfig binds a task type to a JSON Schema file for payload validation.
type SchemaConfig struct {
	TaskType string `yaml:"task_type"`
	File     string `yaml:"file"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Bus          BusConfig          `yaml:"bus"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Otel         OtelConfig         `yaml:"otel"`
	Schedules    []ScheduleConfig   `yaml:"schedules"`
	Schemas      []SchemaConfig     `yaml:"schemas"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// HomeDir resolves the taskhive home, honoring TASKHIVE_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKHIVE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskhive")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Orchestrator: OrchestratorConfig{
			HeartbeatIntervalSeconds: 30,
			TaskTimeoutSeconds:       int((5 * time.Minute).Seconds()),
			TimeoutCheckSeconds:      10,
			RetryBaseDelaySeconds:    5,
			MaxRetries:               3,
			ReapIntervalSeconds:      60,
			RetentionSeconds:         int((time.Hour).Seconds()),
		},
		Bus: BusConfig{
			DefaultBufferSize:  100,
			IdleTimeoutSeconds: 300,
			PollWaitSeconds:    25,
			KeepaliveSeconds:   15,
		},
		Persistence: PersistenceConfig{
			Backend: "sqlite",
		},
		Gateway: GatewayConfig{
			BindAddr: "127.0.0.1:18990",
		},
	}
}

// Load reads config.yaml from the taskhive home, applies env overrides,
// fills defaults, and validates. A missing file is fine; defaults apply.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom loads configuration rooted at the given home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskhive home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Gateway.BindAddr == "" {
		cfg.Gateway.BindAddr = "127.0.0.1:18990"
	}
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = "sqlite"
	}
	if cfg.Bus.DefaultBufferSize <= 0 {
		cfg.Bus.DefaultBufferSize = 100
	}
	if cfg.Orchestrator.MaxRetries < 0 {
		cfg.Orchestrator.MaxRetries = 3
	}
}

// validate rejects configurations that would silently disable a monitor.
// Zero timing values mean "never check", which is a misconfiguration, not
// a feature: the process refuses to start.
func validate(cfg *Config) error {
	timings := []struct {
		name  string
		value int
	}{
		{"orchestrator.heartbeat_interval_seconds", cfg.Orchestrator.HeartbeatIntervalSeconds},
		{"orchestrator.task_timeout_seconds", cfg.Orchestrator.TaskTimeoutSeconds},
		{"orchestrator.timeout_check_seconds", cfg.Orchestrator.TimeoutCheckSeconds},
		{"orchestrator.retry_base_delay_seconds", cfg.Orchestrator.RetryBaseDelaySeconds},
		{"orchestrator.reap_interval_seconds", cfg.Orchestrator.ReapIntervalSeconds},
		{"orchestrator.retention_seconds", cfg.Orchestrator.RetentionSeconds},
		{"bus.idle_timeout_seconds", cfg.Bus.IdleTimeoutSeconds},
		{"bus.poll_wait_seconds", cfg.Bus.PollWaitSeconds},
		{"bus.keepalive_seconds", cfg.Bus.KeepaliveSeconds},
	}
	for _, t := range timings {
		if t.value <= 0 {
			return fmt.Errorf("invalid config: %s must be > 0, got %d", t.name, t.value)
		}
	}

	switch cfg.Persistence.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid config: persistence.backend must be sqlite or memory, got %q", cfg.Persistence.Backend)
	}

	for _, s := range cfg.Schedules {
		if s.Name == "" || s.Cron == "" || s.TaskType == "" {
			return fmt.Errorf("invalid config: schedule %q needs name, cron, and task_type", s.Name)
		}
	}
	for _, s := range cfg.Schemas {
		if s.TaskType == "" || s.File == "" {
			return fmt.Errorf("invalid config: schema entry needs task_type and file")
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKHIVE_BIND_ADDR"); raw != "" {
		cfg.Gateway.BindAddr = raw
	}
	if raw := os.Getenv("TASKHIVE_AUTH_TOKEN"); raw != "" {
		cfg.Gateway.AuthToken = raw
	}
	if raw := os.Getenv("TASKHIVE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKHIVE_HEARTBEAT_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Orchestrator.HeartbeatIntervalSeconds = v
		}
	}
	if raw := os.Getenv("TASKHIVE_TASK_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Orchestrator.TaskTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("TASKHIVE_DB_PATH"); raw != "" {
		cfg.Persistence.Path = raw
	}
	if raw := os.Getenv("TASKHIVE_PERSISTENCE_BACKEND"); raw != "" {
		cfg.Persistence.Backend = raw
	}
	if raw := os.Getenv("TASKHIVE_OTEL_ENDPOINT"); raw != "" {
		cfg.Otel.Endpoint = raw
		cfg.Otel.Enabled = true
	}
}

// HeartbeatInterval returns the liveness cadence as a duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Orchestrator.HeartbeatIntervalSeconds) * time.Second
}

// TaskTimeout returns the default per-task timeout as a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Orchestrator.TaskTimeoutSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config, logged at boot
// so restarts with changed settings are visible in the journal.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|hb=%d|timeout=%d|backend=%s|schedules=%d",
		c.Gateway.BindAddr, c.LogLevel,
		c.Orchestrator.HeartbeatIntervalSeconds, c.Orchestrator.TaskTimeoutSeconds,
		c.Persistence.Backend, len(c.Schedules))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
