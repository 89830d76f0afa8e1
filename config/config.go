// Package config loads keld settings: defaults, then a TOML file, then
// KEL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "KEL_"

// Config is the top level config structure.
type Config struct {
	Listen        string `toml:"listen" env:"LISTEN"`
	LogLevel      string `toml:"log_level" env:"LOG_LEVEL"`
	Digest        string `toml:"digest" env:"DIGEST"`
	Serialization string `toml:"serialization" env:"SERIALIZATION"`
	Keystore      string `toml:"keystore" env:"KEYSTORE"`

	Storage   Storage   `toml:"storage" envPrefix:"STORAGE_"`
	Engine    Engine    `toml:"engine" envPrefix:"ENGINE_"`
	Telemetry Telemetry `toml:"telemetry" envPrefix:"OTEL_"`
}

// Storage selects a storeregistry backend. Options are backend-specific and
// use the backend's flag names as keys ("sqlite-path").
//
// Example:
//
//	[storage]
//	backend = "sqlite"
//	[storage.options]
//	sqlite-path = "/var/lib/keld/kel.db"
type Storage struct {
	Backend string            `toml:"backend" env:"BACKEND"`
	Options map[string]string `toml:"options" env:"OPTIONS"`
}

type Engine struct {
	MaxEscrow            int `toml:"max_escrow" env:"MAX_ESCROW"`
	MaxEscrowIdentifiers int `toml:"max_escrow_identifiers" env:"MAX_ESCROW_IDENTIFIERS"`
	MaxBufferedReceipts  int `toml:"max_buffered_receipts" env:"MAX_BUFFERED_RECEIPTS"`
	// WitnessSeed, when set, makes the daemon a witness that receipts every
	// event it admits for identifiers listing its key.
	WitnessSeed string `toml:"witness_seed" env:"WITNESS_SEED"`
}

type Telemetry struct {
	Endpoint    string `toml:"endpoint" env:"ENDPOINT"`
	Enabled     bool   `toml:"enabled" env:"ENABLED"`
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the settings used when neither file nor environment
// says otherwise.
func Default() *Config {
	return &Config{
		Listen:        "127.0.0.1:5621",
		LogLevel:      "info",
		Digest:        cidutil.Default.String(),
		Serialization: string(event.JSON),
		Storage:       Storage{Backend: "memory", Options: map[string]string{}},
		Engine:        Engine{MaxEscrow: 64, MaxEscrowIdentifiers: 1024, MaxBufferedReceipts: 1024},
		Telemetry:     Telemetry{Enabled: true, ServiceName: "keld"},
	}
}

// ReadConfig reads in the configuration file in .toml format on top of the
// defaults.
func ReadConfig(filePath string) (*Config, error) {
	config := Default()
	md, err := toml.DecodeFile(filePath, config)
	if err != nil {
		return nil, fmt.Errorf("unable to decode .toml file [%s] error [%s]", filePath, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown keys in [%s]: %v", filePath, undec)
	}
	return config, nil
}

// ParseEnv applies KEL_-prefixed environment variables to cfg. Unset
// variables leave fields untouched.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads filePath when non-empty, applies the environment and
// validates the result.
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		var err error
		if cfg, err = ReadConfig(filePath); err != nil {
			return nil, err
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Storage.Options == nil {
		cfg.Storage.Options = map[string]string{}
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.Storage.Backend == "" {
		return errors.New("config: storage backend is required")
	}
	if _, err := c.DigestAlg(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Kind(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Engine.MaxEscrow < 0 || c.Engine.MaxEscrowIdentifiers < 0 || c.Engine.MaxBufferedReceipts < 0 {
		return errors.New("config: engine limits must not be negative")
	}
	return nil
}

// DigestAlg returns the configured digest algorithm.
func (c *Config) DigestAlg() (cidutil.Alg, error) {
	return cidutil.ParseAlg(c.Digest)
}

// Kind returns the configured serialization kind.
func (c *Config) Kind() (event.Serialization, error) {
	switch k := event.Serialization(c.Serialization); k {
	case event.JSON, event.CBOR:
		return k, nil
	default:
		return "", fmt.Errorf("unknown serialization %q", c.Serialization)
	}
}

// EventOptions returns the options events are built with.
func (c *Config) EventOptions() (event.Options, error) {
	alg, err := c.DigestAlg()
	if err != nil {
		return event.Options{}, err
	}
	kind, err := c.Kind()
	if err != nil {
		return event.Options{}, err
	}
	return event.Options{Kind: kind, Alg: alg}, nil
}
