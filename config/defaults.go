package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults fills zero values. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataDir(), "dirbrowse.db")
	}
	if cfg.Storage.AuditLog == "" {
		cfg.Storage.AuditLog = filepath.Join(filepath.Dir(cfg.Storage.Path), "modifications.jsonl")
	}

	if cfg.Host.Root == "" {
		cfg.Host.Root = "/"
	}
	if cfg.Host.Consent == "" {
		cfg.Host.Consent = "allow"
	}
	cfg.Host.Consent = strings.ToLower(cfg.Host.Consent)

	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = filepath.Join(os.TempDir(), "dirbrowse-uploads")
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 250 * time.Millisecond
	}
}

// dataDir is $XDG_DATA_HOME/dirbrowse, ~/.local/share/dirbrowse, or the
// working directory as a last resort.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dirbrowse")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "dirbrowse")
}
