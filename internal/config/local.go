package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// LocalConfig holds configuration for the daemon, CLI and MCP server
type LocalConfig struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Cart    CartConfig    `yaml:"cart"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Events  EventsConfig  `yaml:"events"`
}

// APIConfig holds commerce API client settings
type APIConfig struct {
	BaseURL         string `yaml:"base_url"`
	MediaBaseURL    string `yaml:"media_base_url,omitempty"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	RetryAttempts   int    `yaml:"retry_attempts"`
	CoalesceRefresh bool   `yaml:"coalesce_refresh"`
}

// StorageConfig selects where session and guest cart state is kept
type StorageConfig struct {
	Driver string `yaml:"driver"`         // file or sqlite
	Path   string `yaml:"path,omitempty"` // defaults under ~/.techshelf/state
}

// CartConfig holds cart controller settings
type CartConfig struct {
	DebounceMS   int    `yaml:"debounce_ms"`
	GuestCartKey string `yaml:"guest_cart_key"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
}

// EventsConfig holds activity publishing settings. Publishing is off while
// RabbitMQURL is empty.
type EventsConfig struct {
	RabbitMQURL string `yaml:"-"` // Loaded from secrets.yaml
	Queue       string `yaml:"queue"`
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	RabbitMQURL string `yaml:"rabbitmq_url,omitempty"`
}

// TechshelfDir returns the path to ~/.techshelf
func TechshelfDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".techshelf"), nil
}

// EnsureTechshelfDir creates ~/.techshelf and subdirectories if they don't exist
func EnsureTechshelfDir() (string, error) {
	dir, err := TechshelfDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "state"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0700); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		API: APIConfig{
			BaseURL:        "https://techshelf-api.onrender.com/api",
			TimeoutSeconds: 30,
			RetryAttempts:  3,
		},
		Storage: StorageConfig{
			Driver: DriverFile,
		},
		Cart: CartConfig{
			DebounceMS:   500,
			GuestCartKey: "techshelf_guest_cart",
		},
		Daemon: DaemonConfig{
			Port:     7433,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Events: EventsConfig{
			Queue: "techshelf.activity",
		},
	}
}

// LoadLocalConfig loads ~/.techshelf/config.yaml and secrets.yaml, then
// applies TECHSHELF_* environment overrides.
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := TechshelfDir()
	if err != nil {
		return nil, err
	}

	cfg := DefaultLocalConfig()
	configPath := filepath.Join(dir, "config.yaml")

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	if secrets.RabbitMQURL != "" {
		cfg.Events.RabbitMQURL = secrets.RabbitMQURL
	}
	return nil
}

// Validate rejects settings the engine cannot run with
func (c *LocalConfig) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive, got %d", c.API.TimeoutSeconds)
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Storage.Driver)
	}
	if c.Cart.DebounceMS < 0 {
		return fmt.Errorf("cart.debounce_ms must not be negative, got %d", c.Cart.DebounceMS)
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	return nil
}

// Timeout returns the commerce API request timeout
func (c *LocalConfig) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Debounce returns the cart quantity debounce window
func (c *LocalConfig) Debounce() time.Duration {
	return time.Duration(c.Cart.DebounceMS) * time.Millisecond
}

// DaemonAddr returns the host:port the daemon listens on
func (c *LocalConfig) DaemonAddr() string {
	return net.JoinHostPort(c.Daemon.Bind, strconv.Itoa(c.Daemon.Port))
}

// StoragePath resolves the storage location relative to the techshelf dir:
// a directory for the file driver, a database file for sqlite.
func (c *LocalConfig) StoragePath(dir string) string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Driver == DriverSQLite {
		return filepath.Join(dir, "state", "techshelf.db")
	}
	return filepath.Join(dir, "state")
}

// SaveLocalConfig saves configuration to ~/.techshelf/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureTechshelfDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(dir, "config.yaml")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves credentials to ~/.techshelf/secrets.yaml
func SaveSecrets(secrets SecretsConfig) error {
	dir, err := EnsureTechshelfDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
