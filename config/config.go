// Package config loads dirbrowse settings.
//
// Sources, highest precedence first: command-line flags, DIRBROWSE_*
// environment variables, the YAML config file, defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DIRBROWSE"

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Host    HostConfig    `mapstructure:"host"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required,numeric"`
	// Write enables the mutation routes.
	Write           bool          `mapstructure:"write"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type StorageConfig struct {
	// Path is the bbolt file holding the registry and the stored handles.
	Path string `mapstructure:"path" validate:"required"`
	// AuditLog is the JSONL modification log. It defaults to
	// modifications.jsonl next to Path.
	AuditLog string `mapstructure:"audit_log" validate:"required"`
}

type HostConfig struct {
	// Root confines every location the user can open.
	Root string `mapstructure:"root" validate:"required"`
	// Consent answers permission requests: allow or deny.
	Consent string `mapstructure:"consent" validate:"required,oneof=allow deny"`
}

type UploadConfig struct {
	// Dir holds partial resumable uploads.
	Dir       string `mapstructure:"dir" validate:"required"`
	ChunkSize int    `mapstructure:"chunk_size" validate:"gte=0"`
	// MaxSize caps one resumable upload in bytes. Zero means no limit.
	MaxSize int64 `mapstructure:"max_size" validate:"gte=0"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Flags registers the command-line overrides on fs. Flag names match the
// config keys they override.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to the YAML config file")
	fs.String("server.port", "", "port to listen on")
	fs.Bool("server.write", false, "enable folder creation, uploads and deletes")
	fs.String("host.root", "", "directory that bounds every opened location")
	fs.String("host.consent", "", "answer to permission requests (allow|deny)")
	fs.String("storage.path", "", "bbolt database file")
	fs.String("logging.level", "", "log level (debug|info|warn|error)")
	fs.String("logging.format", "", "log format (json|console)")
	fs.Bool("watch.enabled", false, "refresh the listing when the directory changes")
}

// Load reads the configuration. fs may be nil; only flags the user
// actually set override other sources.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("dirbrowse")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindEnv makes every key visible to Unmarshal even when it appears only in
// the environment.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.port", "server.write", "server.shutdown_timeout",
		"storage.path", "storage.audit_log",
		"host.root", "host.consent",
		"upload.dir", "upload.chunk_size", "upload.max_size",
		"watch.enabled", "watch.debounce",
		"metrics.enabled",
	} {
		_ = v.BindEnv(key)
	}
}
