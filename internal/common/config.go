package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the orchestrator's process configuration, loaded
// from a TOML file and overlaid with environment variables.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Broker      BrokerConfig    `toml:"broker"`
	Logging     LoggingConfig   `toml:"logging"`
	Security    SecurityConfig  `toml:"security"`
	Worker      WorkerConfig    `toml:"worker"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	StreamBus   StreamBusConfig `toml:"stream_bus"`
	Publisher   PublisherConfig `toml:"publisher"`
	SMTP        SMTPConfig      `toml:"smtp"`
}

// ServerConfig is the HTTP/WebSocket listener address for cmd/orchestratord.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the Job Store backend.
type StorageConfig struct {
	Backend        string `toml:"backend"` // "sqlite" or "badger"
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// BrokerConfig configures the goqite-backed message broker.
type BrokerConfig struct {
	// Path is the SQLite file the broker's queue tables live in. Empty means
	// share Storage.Path (only valid when Storage.Backend is "sqlite").
	Path string `toml:"path"`
}

// LoggingConfig configures arbor's writers.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

// SecurityConfig carries the process secrets. These are never written to
// the TOML file in a real deployment; LoadEnvOverrides reads them from
// the environment.
type SecurityConfig struct {
	JWTSigningSecret string `toml:"-"`
	CredentialKeyHex string `toml:"-"` // 32-byte AES-256 key, hex-encoded
}

// WorkerConfig configures the Worker Runtime's fan-out pool.
type WorkerConfig struct {
	Queues             []string `toml:"queues"` // queues to poll, e.g. region_us-east,default
	MaxConcurrency     int      `toml:"max_concurrency"`
	DefaultTimeoutSecs int      `toml:"default_timeout_secs"`
	PollIntervalMillis int      `toml:"poll_interval_millis"`
}

func (w WorkerConfig) DefaultTimeout() time.Duration {
	if w.DefaultTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.DefaultTimeoutSecs) * time.Second
}

func (w WorkerConfig) PollInterval() time.Duration {
	if w.PollIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// SchedulerConfig configures the release/reconciliation/retention loop.
type SchedulerConfig struct {
	TickIntervalSecs           int `toml:"tick_interval_secs"`
	BatchSize                  int `toml:"batch_size"`
	ReconciliationThresholdMin int `toml:"reconciliation_threshold_minutes"`
	LogRetentionDays           int `toml:"log_retention_days"`
	JobRetentionDays           int `toml:"job_retention_days"`
	RetentionIntervalHours     int `toml:"retention_interval_hours"`
}

func (s SchedulerConfig) TickInterval() time.Duration {
	if s.TickIntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TickIntervalSecs) * time.Second
}

func (s SchedulerConfig) ReconciliationThreshold() time.Duration {
	if s.ReconciliationThresholdMin <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.ReconciliationThresholdMin) * time.Minute
}

func (s SchedulerConfig) RetentionInterval() time.Duration {
	if s.RetentionIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.RetentionIntervalHours) * time.Hour
}

func (s SchedulerConfig) LogRetention() time.Duration {
	days := s.LogRetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func (s SchedulerConfig) JobRetention() time.Duration {
	days := s.JobRetentionDays
	if days <= 0 {
		days = 180
	}
	return time.Duration(days) * 24 * time.Hour
}

// StreamBusConfig configures the Log Stream Bus.
type StreamBusConfig struct {
	ReplayLimit           int `toml:"replay_limit"`
	PollIntervalMillis    int `toml:"poll_interval_millis"`
	KeepaliveIntervalSecs int `toml:"keepalive_interval_secs"`
	WriteDeadlineSecs     int `toml:"write_deadline_secs"`
}

func (c StreamBusConfig) PollInterval() time.Duration {
	if c.PollIntervalMillis <= 0 {
		return 1 * time.Second
	}
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c StreamBusConfig) KeepaliveInterval() time.Duration {
	secs := c.KeepaliveIntervalSecs
	if secs < 5 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}

func (c StreamBusConfig) WriteDeadline() time.Duration {
	if c.WriteDeadlineSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.WriteDeadlineSecs) * time.Second
}

func (c StreamBusConfig) Replay() int {
	if c.ReplayLimit <= 0 {
		return 100
	}
	return c.ReplayLimit
}

// PublisherConfig configures the Event Publisher's delivery loop.
type PublisherConfig struct {
	MaxRetries         int `toml:"max_retries"`
	PollIntervalMillis int `toml:"poll_interval_millis"`
	HTTPTimeoutSecs    int `toml:"http_timeout_secs"`
}

func (p PublisherConfig) MaxRetryCount() int {
	if p.MaxRetries <= 0 {
		return 3
	}
	return p.MaxRetries
}

func (p PublisherConfig) PollInterval() time.Duration {
	if p.PollIntervalMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(p.PollIntervalMillis) * time.Millisecond
}

func (p PublisherConfig) HTTPTimeout() time.Duration {
	if p.HTTPTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.HTTPTimeoutSecs) * time.Second
}

// SMTPConfig configures the Event Publisher's email adapter. An empty Host
// means email subscriptions are registered but never delivered — the
// adapter reports a configuration error on every attempt rather than the
// process refusing to start, since SMTP is optional ambient wiring.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	UseTLS   bool   `toml:"use_tls"`
}

// DefaultConfig returns the built-in defaults, used when no TOML file is
// present and overridden by LoadConfig/LoadEnvOverrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage:     StorageConfig{Backend: "sqlite", Path: "./data/orchestrator.db"},
		Broker:      BrokerConfig{},
		Logging:     LoggingConfig{Level: "info", Output: []string{"stdout"}, TimeFormat: "15:04:05.000"},
		Worker: WorkerConfig{
			Queues:             []string{"default"},
			MaxConcurrency:     20,
			DefaultTimeoutSecs: 30,
			PollIntervalMillis: 500,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSecs:           30,
			BatchSize:                  50,
			ReconciliationThresholdMin: 2,
			LogRetentionDays:           30,
			JobRetentionDays:           180,
			RetentionIntervalHours:     24,
		},
		StreamBus: StreamBusConfig{ReplayLimit: 100, PollIntervalMillis: 1000, KeepaliveIntervalSecs: 15, WriteDeadlineSecs: 10},
		Publisher: PublisherConfig{MaxRetries: 3, PollIntervalMillis: 2000, HTTPTimeoutSecs: 10},
		SMTP:      SMTPConfig{Port: 587, FromName: "netctl", UseTLS: true},
	}
}

// LoadConfig reads a TOML file at path into DefaultConfig()'s values,
// then applies environment variable overrides (database URL, broker URL,
// JWT signing secret, credential encryption key, log level).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadEnvOverrides(cfg)
	return cfg, nil
}

// LoadEnvOverrides applies the environment variables every process
// accepts. Unset variables leave the TOML value (or its default)
// untouched, except the two secrets, which have no safe default and must
// come from the environment.
func LoadEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATOR_DATABASE_URL"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ORCHESTRATOR_BROKER_URL"); v != "" {
		cfg.Broker.Path = v
	}
	if v := os.Getenv("ORCHESTRATOR_JWT_SECRET"); v != "" {
		cfg.Security.JWTSigningSecret = v
	}
	if v := os.Getenv("ORCHESTRATOR_CREDENTIAL_KEY"); v != "" {
		cfg.Security.CredentialKeyHex = v
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ORCHESTRATOR_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

// Validate checks the fatal startup misconfigurations: a missing
// credential encryption key or JWT secret is a startup error, not a
// silent fallback.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Security.CredentialKeyHex) == "" {
		missing = append(missing, "ORCHESTRATOR_CREDENTIAL_KEY")
	}
	if strings.TrimSpace(c.Security.JWTSigningSecret) == "" {
		missing = append(missing, "ORCHESTRATOR_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Storage.Backend != "sqlite" && c.Storage.Backend != "badger" {
		return fmt.Errorf("storage.backend must be sqlite or badger, got %q", c.Storage.Backend)
	}
	return nil
}

// BrokerPath returns the SQLite file the broker shares with the Job Store,
// defaulting to Storage.Path when unset (only sensible for the sqlite
// backend; badger deployments must set broker.path explicitly).
func (c *Config) BrokerPath() string {
	if c.Broker.Path != "" {
		return c.Broker.Path
	}
	return c.Storage.Path
}
