package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5000, cfg.Jobs.MaxWaitingJobs)
	assert.Equal(t, 500*time.Millisecond, cfg.Jobs.ReconcileInterval)
	assert.Equal(t, 60*time.Second, cfg.Jobs.IdleTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  submit_rate: 5
  submit_burst: 10
jobs:
  max_running_jobs: 4
  max_waiting_jobs: 20
  reconcile_interval: 250ms
labels:
  templates_dir: /etc/spool/templates
  report_retention: 48h
logging:
  level: debug
  format: text
`), 0o644))

	t.Setenv("SPOOL_MAX_WAITING_JOBS", "30")
	t.Setenv("SPOOL_AUTH_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Jobs.MaxRunningJobs)
	assert.Equal(t, 30, cfg.Jobs.MaxWaitingJobs)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.ReconcileInterval)
	assert.Equal(t, "/etc/spool/templates", cfg.Labels.TemplatesDir)
	assert.Equal(t, 48*time.Hour, cfg.Labels.ReportRetention)
	assert.Equal(t, "./data/reports", cfg.Labels.OutputDir)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("SPOOL_PORT", "eighty")
	_, err = LoadFromEnv()
	assert.ErrorContains(t, err, "SPOOL_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"db path", func(c *Config) { c.Database.Path = "" }},
		{"waiting jobs", func(c *Config) { c.Jobs.MaxWaitingJobs = 0 }},
		{"running jobs", func(c *Config) { c.Jobs.MaxRunningJobs = -1 }},
		{"burst", func(c *Config) { c.Server.SubmitBurst = 0 }},
		{"output dir", func(c *Config) { c.Labels.OutputDir = "" }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
