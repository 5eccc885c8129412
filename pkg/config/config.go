package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fnworks/fnworker/pkg/telemetry"
)

// Config is the full worker configuration.
type Config struct {
	Worker    WorkerConfig     `yaml:"worker" validate:"required"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// WorkerConfig holds the session and protocol settings.
type WorkerConfig struct {
	// HostAddress is where the functions host listens.
	HostAddress string `yaml:"hostAddress" validate:"required,hostname_port"`

	// WorkerID identifies this worker to the host. Generated when empty.
	WorkerID string `yaml:"workerId"`

	// ProtocolVersion is the wire protocol version this worker speaks.
	ProtocolVersion string `yaml:"protocolVersion" validate:"required"`

	// HeartbeatInterval is the period between liveness probes.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" validate:"min=0"`

	// DrainTimeout bounds the wait for in-flight invocations on terminate.
	DrainTimeout time.Duration `yaml:"drainTimeout" validate:"min=0"`

	// MaxFrameSize bounds a single wire frame in bytes.
	MaxFrameSize int `yaml:"maxFrameSize" validate:"min=0"`

	// Capabilities are announced to the host during init.
	Capabilities map[string]string `yaml:"capabilities"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			HostAddress:       "127.0.0.1:50051",
			ProtocolVersion:   "1",
			HeartbeatInterval: 10 * time.Second,
			DrainTimeout:      30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads configuration from an optional YAML file, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Telemetry.Validate()
}

// applyEnv overlays FNWORKER_* environment variables. The host sets these
// when it spawns the worker process.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FNWORKER_HOST_ADDRESS"); v != "" {
		cfg.Worker.HostAddress = v
	}
	if v := os.Getenv("FNWORKER_WORKER_ID"); v != "" {
		cfg.Worker.WorkerID = v
	}
	if v := os.Getenv("FNWORKER_PROTOCOL_VERSION"); v != "" {
		cfg.Worker.ProtocolVersion = v
	}
	if v := os.Getenv("FNWORKER_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("FNWORKER_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.DrainTimeout = d
		}
	}
	if v := os.Getenv("FNWORKER_MAX_FRAME_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxFrameSize = n
		}
	}
	if v := os.Getenv("FNWORKER_LOG_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
	if v := os.Getenv("FNWORKER_LOG_FORMAT"); v != "" {
		cfg.Telemetry.Logging.Format = v
	}
	if v := os.Getenv("FNWORKER_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("FNWORKER_METRICS_ADDRESS"); v != "" {
		cfg.Telemetry.Metrics.ListenAddress = v
	}
}
