package infinitic

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envLogLevel        = "INFINITIC_LOG_LEVEL"
	envStoreDriver     = "INFINITIC_STORE_DRIVER"
	envStoreDSN        = "INFINITIC_STORE_DSN"
	envTransportDriver = "INFINITIC_TRANSPORT_DRIVER"
	envTransportAddr   = "INFINITIC_TRANSPORT_ADDR"
	envAPIAddr         = "INFINITIC_API_ADDR"
	envConcurrency     = "INFINITIC_CONCURRENCY"
)

// Config holds configuration for a Node.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// Codec names the envelope encoding: "json" or "msgpack".
	Codec string `yaml:"codec"`

	// Kinds lists the entity kinds whose lifecycle engines run on this node.
	Kinds []string `yaml:"kinds"`

	// EngineConsumers is the number of concurrent consumers per engine topic.
	EngineConsumers int `yaml:"engine_consumers"`

	// ProcessRetries bounds how often a failed Process invocation is retried
	// before the delivery is dead-lettered.
	ProcessRetries uint64 `yaml:"process_retries"`

	// ProcessRetryBase is the initial delay of the exponential retry of a
	// failed Process invocation.
	ProcessRetryBase time.Duration `yaml:"process_retry_base"`

	// Concurrency is the maximum number of attempts executed concurrently
	// by the local worker pool.
	Concurrency int `yaml:"concurrency"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Queues configures per task name rate limits for the worker pool.
	Queues []QueueConfig `yaml:"queues"`

	// Audit logs a structured audit record for every lifecycle event.
	Audit bool `yaml:"audit"`

	// Schedules dispatches entities on cron schedules. Configure them on a
	// single node only.
	Schedules []ScheduleConfig `yaml:"schedules"`

	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
}

// QueueConfig limits execution of a single task name.
type QueueConfig struct {
	Name           string  `yaml:"name"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// ScheduleConfig dispatches an entity of Kind running Task on every tick
// of Cron, a 5-field expression or a descriptor such as "@every 1m".
type ScheduleConfig struct {
	Name    string        `yaml:"name"`
	Cron    string        `yaml:"cron"`
	Kind    string        `yaml:"kind"`
	Task    string        `yaml:"task"`
	Input   any           `yaml:"input"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the state store backend.
type StoreConfig struct {
	// Driver is one of memory, redis, postgres, bun, sqlite, mongo or nats.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

// TransportConfig selects and configures the message transport.
type TransportConfig struct {
	// Driver is one of memory or redis.
	Driver     string        `yaml:"driver"`
	Addr       string        `yaml:"addr"`
	Partitions int           `yaml:"partitions"`
	Lease      time.Duration `yaml:"lease"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		Codec:            "json",
		Kinds:            []string{"task", "job", "workflow"},
		EngineConsumers:  4,
		ProcessRetries:   5,
		ProcessRetryBase: 100 * time.Millisecond,
		Concurrency:      10,
		ShutdownTimeout:  30 * time.Second,
		Store:            StoreConfig{Driver: "memory"},
		Transport:        TransportConfig{Driver: "memory", Partitions: 8, Lease: 30 * time.Second},
		API:              APIConfig{Enabled: true, Addr: ":8080"},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig and
// applies INFINITIC_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("infinitic: read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("infinitic: parse config %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envStoreDriver); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv(envStoreDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(envTransportDriver); v != "" {
		c.Transport.Driver = v
	}
	if v := os.Getenv(envTransportAddr); v != "" {
		c.Transport.Addr = v
	}
	if v := os.Getenv(envAPIAddr); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv(envConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("infinitic: %s: %w", envConcurrency, err)
		}
		c.Concurrency = n
	}
	return nil
}

// Validate reports configuration values that cannot be used.
func (c Config) Validate() error {
	if c.EngineConsumers < 1 {
		return fmt.Errorf("infinitic: engine_consumers must be positive, got %d", c.EngineConsumers)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("infinitic: concurrency must be positive, got %d", c.Concurrency)
	}
	seen := make(map[string]bool, len(c.Schedules))
	for _, sc := range c.Schedules {
		if sc.Name == "" || sc.Cron == "" || sc.Task == "" {
			return fmt.Errorf("infinitic: schedule %q needs name, cron and task", sc.Name)
		}
		if seen[sc.Name] {
			return fmt.Errorf("infinitic: duplicate schedule %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("infinitic: codec %q: %w", c.Codec, ErrUnknownDriver)
	}
	return nil
}

// NewLogger creates a structured JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown
// values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
