// Package config loads and validates the fieldsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full agent configuration loaded from YAML.
//
// ServerURL and TenantID may be empty on a fresh install: the outbox
// keeps queueing locally and every sync run is skipped until the setup
// command fills them in.
type Config struct {
	// ServerURL is the base URL of the lead capture API
	// (e.g. "https://api.skylarkcrm.com").
	ServerURL string `yaml:"server_url"`

	// TenantID identifies the workspace this device submits leads into.
	TenantID string `yaml:"tenant_id"`

	// APIToken authenticates the device against the lead API. Optional;
	// some deployments authenticate at the network layer instead.
	APIToken string `yaml:"api_token,omitempty"`

	// DeviceID identifies this device in submitted leads. Generated by
	// the setup command; any stable string works.
	DeviceID string `yaml:"device_id"`

	// DataDir is where the outbox database and attachment files live.
	// Defaults to ~/.local/share/fieldsync.
	DataDir string `yaml:"data_dir,omitempty"`

	// ProbeInterval controls how often the agent checks server
	// reachability. Minimum 5s, maximum 10m. Defaults to 30s.
	ProbeInterval time.Duration `yaml:"probe_interval,omitempty"`

	// RetryBackoffInitial is the first retry delay after a failed sync
	// run. Defaults to 1s.
	RetryBackoffInitial time.Duration `yaml:"retry_backoff_initial,omitempty"`

	// RetryBackoffMax caps the retry delay. Defaults to 30s.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "fieldsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/fieldsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fieldsync", "config.yaml"), nil
}

// DefaultDataDir returns the default data directory: ~/.local/share/fieldsync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fieldsync"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write serializes the config to the given path, creating parent
// directories as needed. The file is written 0600 since it may hold an
// API token.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// Configured reports whether a server endpoint is set. An unconfigured
// agent queues locally and never syncs.
func (c *Config) Configured() bool {
	return c.ServerURL != "" && c.TenantID != ""
}

// validate checks field shapes and fills in defaults. Server fields are
// allowed to be missing together (fresh install), but a half-filled pair
// is rejected.
func (c *Config) validate() error {
	if c.ServerURL != "" {
		u, err := url.ParseRequestURI(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server_url %q must be a valid http or https URL", c.ServerURL)
		}
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required when server_url is set")
		}
	} else if c.TenantID != "" {
		return fmt.Errorf("server_url is required when tenant_id is set")
	}

	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.ProbeInterval < 5*time.Second {
		return fmt.Errorf("probe_interval %v is too short (minimum 5s)", c.ProbeInterval)
	}
	if c.ProbeInterval > 10*time.Minute {
		return fmt.Errorf("probe_interval %v is too long (maximum 10m)", c.ProbeInterval)
	}

	if c.RetryBackoffInitial == 0 {
		c.RetryBackoffInitial = 1 * time.Second
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = 30 * time.Second
	}
	if c.RetryBackoffMax < c.RetryBackoffInitial {
		return fmt.Errorf("retry_backoff_max %v is below retry_backoff_initial %v", c.RetryBackoffMax, c.RetryBackoffInitial)
	}

	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
