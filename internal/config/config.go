package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultServerPort    = 9000
	DefaultMigrationPort = 9001
	DefaultIOTimeout     = 30 * time.Second
	DefaultMaxMessage    = 16 << 20
	DefaultRotation      = 7 * 24 * time.Hour
)

// Enrollment policies for unknown introduction keys.
const (
	EnrollNever    = "never"
	EnrollFirstUse = "first-use"
	EnrollAlways   = "always"
)

// Master key sources.
const (
	SourceEnvFile = "env-file"
	SourceKeyring = "keyring"
)

// Duration is a time.Duration that reads and writes as a string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

type ServerConfig struct {
	Address          string   `toml:"address"`
	Port             int      `toml:"port"`
	DataDir          string   `toml:"data_dir"`
	Enroll           string   `toml:"enroll"`
	MasterKeySource  string   `toml:"master_key_source"`
	IOTimeout        Duration `toml:"io_timeout"`
	MaxMessageBytes  int      `toml:"max_message_bytes"`
	AuditLog         string   `toml:"audit_log"`
	RotationInterval Duration `toml:"rotation_interval"`
	RotationMaxAge   Duration `toml:"rotation_max_age"`
}

type ClientConfig struct {
	DataDir         string   `toml:"data_dir"`
	MasterKeySource string   `toml:"master_key_source"`
	IOTimeout       Duration `toml:"io_timeout"`
	MaxMessageBytes int      `toml:"max_message_bytes"`
	MigrationPort   int      `toml:"migration_port"`
}

// Default returns the built-in settings.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			Address:          "0.0.0.0",
			Port:             DefaultServerPort,
			DataDir:          "data",
			Enroll:           EnrollFirstUse,
			MasterKeySource:  SourceEnvFile,
			IOTimeout:        Duration{DefaultIOTimeout},
			MaxMessageBytes:  DefaultMaxMessage,
			AuditLog:         filepath.Join("data", "audit.jsonl"),
			RotationInterval: Duration{DefaultRotation},
			RotationMaxAge:   Duration{DefaultRotation},
		},
		Client: ClientConfig{
			DataDir:         filepath.Join(home, ".passync"),
			MasterKeySource: SourceEnvFile,
			IOTimeout:       Duration{DefaultIOTimeout},
			MaxMessageBytes: DefaultMaxMessage,
			MigrationPort:   DefaultMigrationPort,
		},
	}
}

// Load reads the file at path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Server.Enroll {
	case EnrollNever, EnrollFirstUse, EnrollAlways:
	default:
		return fmt.Errorf("invalid server.enroll %q", c.Server.Enroll)
	}
	for _, src := range []string{c.Server.MasterKeySource, c.Client.MasterKeySource} {
		if src != SourceEnvFile && src != SourceKeyring {
			return fmt.Errorf("invalid master_key_source %q", src)
		}
	}
	for _, port := range []int{c.Server.Port, c.Client.MigrationPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %d", port)
		}
	}
	if c.Server.IOTimeout.Duration <= 0 || c.Client.IOTimeout.Duration <= 0 {
		return fmt.Errorf("io_timeout must be positive")
	}
	return nil
}

// Save writes the configuration to path, replacing any existing file atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
