package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Labels   LabelsConfig   `yaml:"labels"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SubmitRate is the sustained job submissions per second per client;
	// zero disables rate limiting.
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// JobsConfig sizes the job manager. Zero values pick the manager defaults.
type JobsConfig struct {
	MaxRunningJobs    int           `yaml:"max_running_jobs"`
	MaxWaitingJobs    int           `yaml:"max_waiting_jobs"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type LabelsConfig struct {
	TemplatesDir       string        `yaml:"templates_dir"`
	OutputDir          string        `yaml:"output_dir"`
	ReportRetention    time.Duration `yaml:"report_retention"`
	PurgeInterval      time.Duration `yaml:"purge_interval"`
	PrinterTimeout     time.Duration `yaml:"printer_timeout"`
	CheckPrinterStatus bool          `yaml:"check_printer_status"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SubmitRate:      50,
			SubmitBurst:     100,
		},
		Database: DatabaseConfig{
			Path: "./data/spool.db",
		},
		Jobs: JobsConfig{
			MaxWaitingJobs:    5000,
			IdleTimeout:       60 * time.Second,
			ReconcileInterval: 500 * time.Millisecond,
		},
		Labels: LabelsConfig{
			TemplatesDir:    "./templates",
			OutputDir:       "./data/reports",
			ReportRetention: 7 * 24 * time.Hour,
			PurgeInterval:   time.Hour,
			PrinterTimeout:  10 * time.Second,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath over the defaults and then applies SPOOL_*
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromEnv() (*Config, error) {
	cfg := defaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SPOOL_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"SPOOL_DB_PATH":       &c.Database.Path,
		"SPOOL_TEMPLATES_DIR": &c.Labels.TemplatesDir,
		"SPOOL_OUTPUT_DIR":    &c.Labels.OutputDir,
		"SPOOL_LOG_LEVEL":     &c.Logging.Level,
		"SPOOL_LOG_FORMAT":    &c.Logging.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SPOOL_PORT":             &c.Server.Port,
		"SPOOL_MAX_RUNNING_JOBS": &c.Jobs.MaxRunningJobs,
		"SPOOL_MAX_WAITING_JOBS": &c.Jobs.MaxWaitingJobs,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("SPOOL_AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SPOOL_AUTH_ENABLED: %w", err)
		}
		c.Auth.Enabled = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	if c.Server.SubmitRate < 0 {
		return fmt.Errorf("submit rate must be non-negative")
	}
	if c.Server.SubmitRate > 0 && c.Server.SubmitBurst < 1 {
		return fmt.Errorf("submit burst must be at least 1 when rate limiting is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Jobs.MaxRunningJobs < 0 {
		return fmt.Errorf("max running jobs must be non-negative")
	}
	if c.Jobs.MaxWaitingJobs < 1 {
		return fmt.Errorf("max waiting jobs must be at least 1")
	}
	if c.Jobs.IdleTimeout < 0 || c.Jobs.ReconcileInterval < 0 {
		return fmt.Errorf("job timings must be non-negative")
	}

	if c.Labels.TemplatesDir == "" {
		return fmt.Errorf("labels templates dir is required")
	}
	if c.Labels.OutputDir == "" {
		return fmt.Errorf("labels output dir is required")
	}
	if c.Labels.ReportRetention < 0 || c.Labels.PurgeInterval < 0 || c.Labels.PrinterTimeout < 0 {
		return fmt.Errorf("label timings must be non-negative")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}
	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
