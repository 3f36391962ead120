package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	DeviceName string          `yaml:"device_name"` // BLE local name while advertising
	Interface  string          `yaml:"interface"`   // wireless interface, e.g. wlan0
	Netctl     string          `yaml:"netctl"`      // network control backend
	Wifi       WifiConfig      `yaml:"wifi"`
	BLE        BLEConfig       `yaml:"ble"`
	Indicator  IndicatorConfig `yaml:"indicator"`
	LogLevel   string          `yaml:"log_level"`
}

// WifiConfig holds timing for the provisioning attempt.
type WifiConfig struct {
	ConnectSettle  time.Duration `yaml:"connect_settle"`  // wait after join before verifying (DHCP)
	CommandTimeout time.Duration `yaml:"command_timeout"` // per external command
}

// BLEConfig holds transport-level settings.
type BLEConfig struct {
	AdvertiseOnStart bool          `yaml:"advertise_on_start"`
	MaxChunk         int           `yaml:"max_chunk"`         // max notify payload bytes
	InterChunkDelay  time.Duration `yaml:"inter_chunk_delay"` // pause between notify chunks
}

// IndicatorConfig holds settings for the GPIO indicator subprocess.
type IndicatorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Script         string        `yaml:"script"` // path to the GPIO helper
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join("/etc", "ble-provisiond", "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: "ble-provisiond",
		Interface:  "wlan0",
		Netctl:     "networkmanager",
		Wifi: WifiConfig{
			ConnectSettle:  5 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		BLE: BLEConfig{
			AdvertiseOnStart: true,
			MaxChunk:         180,
			InterChunkDelay:  20 * time.Millisecond,
		},
		Indicator: IndicatorConfig{
			Enabled:        true,
			Script:         "/usr/lib/ble-provisiond/gpio_handler.py",
			RestartBackoff: 3 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. The BLE_PROVISIOND_NETCTL environment variable, when set,
// overrides the netctl backend for deployments that select it per-image
// rather than per-config-file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if env := os.Getenv("BLE_PROVISIOND_NETCTL"); env != "" {
		cfg.Netctl = env
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	if c.Interface == "" {
		return fmt.Errorf("interface must not be empty")
	}

	switch c.Netctl {
	case "networkmanager", "none":
	default:
		return fmt.Errorf("netctl must be \"networkmanager\" or \"none\", got %q", c.Netctl)
	}

	if c.Wifi.ConnectSettle <= 0 {
		return fmt.Errorf("wifi.connect_settle must be > 0")
	}

	if c.Wifi.CommandTimeout <= 0 {
		return fmt.Errorf("wifi.command_timeout must be > 0")
	}

	if c.BLE.MaxChunk <= 0 {
		return fmt.Errorf("ble.max_chunk must be > 0")
	}

	if c.BLE.InterChunkDelay < 0 {
		return fmt.Errorf("ble.inter_chunk_delay must not be negative")
	}

	if c.Indicator.Enabled && c.Indicator.Script == "" {
		return fmt.Errorf("indicator.script must not be empty when indicator is enabled")
	}

	if c.Indicator.RestartBackoff <= 0 {
		return fmt.Errorf("indicator.restart_backoff must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}
