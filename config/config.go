// Package config assembles the engine's configuration from three layers:
// environment variables override a YAML file, which overrides built-in
// defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kinetra/sync-engine/logging"
)

// Duration wraps time.Duration so YAML and environment values can use
// human-readable forms like "500ms" or "5m".
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML accepts either a duration string or a plain integer of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		return d.UnmarshalText([]byte(asString))
	}
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	return fmt.Errorf("invalid duration node %q", value.Value)
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Logging configures the structured logger.
type Logging struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Format      string `yaml:"format" env:"FORMAT"`
	AddSource   bool   `yaml:"add_source" env:"ADD_SOURCE"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// LoggerConfig converts the section into the logging package's own config.
func (l Logging) LoggerConfig() logging.Config {
	return logging.Config{
		Level:       l.Level,
		Format:      l.Format,
		AddSource:   l.AddSource,
		Environment: l.Environment,
	}
}

// Queue configures the persisted queue keys.
type Queue struct {
	PendingKey string `yaml:"pending_key" env:"PENDING_KEY"`
	FailedKey  string `yaml:"failed_key" env:"FAILED_KEY"`
}

// Retry configures the retry budget and backoff shape.
type Retry struct {
	MaxRetries   int      `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseDelay    Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay     Duration `yaml:"max_delay" env:"MAX_DELAY"`
	JitterFactor float64  `yaml:"jitter_factor" env:"JITTER_FACTOR"`
}

// Worker configures background scheduling.
type Worker struct {
	SyncInterval  Duration `yaml:"sync_interval" env:"SYNC_INTERVAL"`
	DebounceDelay Duration `yaml:"debounce_delay" env:"DEBOUNCE_DELAY"`
}

// Transport configures the REST backend connection.
type Transport struct {
	BaseURL   string   `yaml:"base_url" env:"BASE_URL"`
	Timeout   Duration `yaml:"timeout" env:"TIMEOUT"`
	AuthToken string   `yaml:"auth_token" env:"AUTH_TOKEN"`
}

// Storage selects and configures the persistence provider.
type Storage struct {
	// Driver is one of "memory", "file" or "sqlite".
	Driver string `yaml:"driver" env:"DRIVER"`

	// Path is the store file location for the file driver.
	Path string `yaml:"path" env:"PATH"`

	// DSN is the data source name for the sqlite driver.
	DSN string `yaml:"dsn" env:"DSN"`
}

// Config is the full engine configuration.
type Config struct {
	Logging   Logging   `yaml:"logging" envPrefix:"LOGGING_"`
	Queue     Queue     `yaml:"queue" envPrefix:"QUEUE_"`
	Retry     Retry     `yaml:"retry" envPrefix:"RETRY_"`
	Worker    Worker    `yaml:"worker" envPrefix:"WORKER_"`
	Transport Transport `yaml:"transport" envPrefix:"TRANSPORT_"`
	Storage   Storage   `yaml:"storage" envPrefix:"STORAGE_"`
}

// Default returns the built-in configuration layer.
func Default() *Config {
	return &Config{
		Logging: Logging{
			Level:       "info",
			Format:      "json",
			Environment: "prod",
		},
		Queue: Queue{
			PendingKey: "sync:pending",
			FailedKey:  "sync:failed",
		},
		Retry: Retry{
			MaxRetries:   5,
			BaseDelay:    Duration(time.Second),
			MaxDelay:     Duration(5 * time.Minute),
			JitterFactor: 0.2,
		},
		Worker: Worker{
			SyncInterval:  Duration(5 * time.Minute),
			DebounceDelay: Duration(500 * time.Millisecond),
		},
		Transport: Transport{
			Timeout: Duration(15 * time.Second),
		},
		Storage: Storage{
			Driver: "file",
			Path:   "sync-engine.json",
		},
	}
}

func (c *Config) validate() error {
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays are invalid: base=%v max=%v",
			c.Retry.BaseDelay.Duration(), c.Retry.MaxDelay.Duration())
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be in [0, 1], got %v", c.Retry.JitterFactor)
	}
	if c.Worker.SyncInterval <= 0 || c.Worker.DebounceDelay <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.Transport.BaseURL == "" {
		return fmt.Errorf("transport.base_url is required")
	}

	switch c.Storage.Driver {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the file driver")
		}
	case "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
