package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// Config represents the application configuration.
type Config struct {
	LayoutsDir      string        `yaml:"layouts_dir"`
	OutputDir       string        `yaml:"output_dir"`
	DataDir         string        `yaml:"data_dir"`
	Workers         int           `yaml:"workers"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
	MaxAge          time.Duration `yaml:"max_age"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
	WatchLayouts    *bool         `yaml:"watch_layouts,omitempty"`

	Retry  RetryConfig  `yaml:"retry"`
	Source SourceConfig `yaml:"source"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// SourceConfig selects and configures the entity state source.
type SourceConfig struct {
	Type       SourceType `yaml:"type"`
	NATSURL    string     `yaml:"nats_url,omitempty"`
	KVBucket   string     `yaml:"kv_bucket,omitempty"`
	StaticFile string     `yaml:"static_file,omitempty"`
}

// ServerConfig configures the status/artifact HTTP server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Metrics bool   `yaml:"metrics"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// WatchEnabled reports whether the layouts directory should be watched for changes.
func (c *Config) WatchEnabled() bool {
	return c.WatchLayouts == nil || *c.WatchLayouts
}

// Load reads the configuration file, expanding ${VAR} references after
// loading .env/.env.local, then applies defaults and validates.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").
			WithContext("path", configPath).Build()
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.resolveRelative(filepath.Dir(configPath))
	return cfg, nil
}

// Parse decodes YAML configuration bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveRelative anchors relative directories at the config file's directory.
func (c *Config) resolveRelative(base string) {
	for _, p := range []*string{&c.LayoutsDir, &c.OutputDir, &c.DataDir, &c.Source.StaticFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// loadEnvFiles loads .env then .env.local. Existing process variables win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
	}
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	jitter := DefaultRetryJitter
	example := Config{
		LayoutsDir:      "./dashboards",
		OutputDir:       "/share/dashrender",
		DataDir:         "./data",
		Workers:         DefaultWorkers,
		SnapshotTimeout: DefaultSnapshotTimeout,
		MaxAge:          DefaultMaxAge,
		ShutdownGrace:   DefaultShutdownGrace,
		Retry: RetryConfig{
			Backoff:      RetryBackoffExponential,
			InitialDelay: DefaultRetryInitialDelay,
			MaxDelay:     DefaultRetryMaxDelay,
			MaxRetries:   DefaultMaxRetries,
			Jitter:       &jitter,
		},
		Source: SourceConfig{
			Type:     SourceNATS,
			NATSURL:  "${NATS_URL}",
			KVBucket: DefaultKVBucket,
		},
		Server: ServerConfig{Enabled: true, Listen: DefaultListen, Metrics: true},
		Log:    LogConfig{Level: LogLevelInfo, Format: LogFormatText},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
