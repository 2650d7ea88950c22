package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirbrowse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "host:\n  root: /srv\n")
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.Server.Write)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/srv", cfg.Host.Root)
	assert.Equal(t, "allow", cfg.Host.Consent)
	assert.NotEmpty(t, cfg.Storage.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(cfg.Storage.Path), "modifications.jsonl"), cfg.Storage.AuditLog)
	assert.NotEmpty(t, cfg.Upload.Dir)
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: DEBUG
  format: console
server:
  port: "9090"
  write: true
  shutdown_timeout: 3s
host:
  root: /data
  consent: deny
upload:
  chunk_size: 4096
watch:
  enabled: true
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Server.Write)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "deny", cfg.Host.Consent)
	assert.Equal(t, 4096, cfg.Upload.ChunkSize)
	assert.True(t, cfg.Watch.Enabled)
}

func TestEnvAndFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\nhost:\n  root: /data\n")
	t.Setenv("DIRBROWSE_SERVER_PORT", "7070")
	t.Setenv("DIRBROWSE_LOGGING_LEVEL", "warn")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--server.port=6060", "--server.write"}))
	cfg, err = Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
	assert.True(t, cfg.Server.Write)
	// Unset flags leave lower layers alone.
	assert.Equal(t, "/data", cfg.Host.Root)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Host: HostConfig{Root: "/srv"}}
		ApplyDefaults(cfg)
		return cfg
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad consent", func(c *Config) { c.Host.Consent = "maybe" }},
		{"relative root", func(c *Config) { c.Host.Root = "srv" }},
		{"port not numeric", func(c *Config) { c.Server.Port = "http" }},
		{"tiny chunk", func(c *Config) { c.Upload.ChunkSize = 10 }},
		{"negative max size", func(c *Config) { c.Upload.MaxSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
