package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version information
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
)

// Protocol constants shared by both peers
const (
	DefaultPort             = 5000
	DefaultDialTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultDisconnectGrace  = 5 * time.Second
	MinPasskeyLength        = 8
)

// Cipher modes
const (
	CipherLegacy = "legacy"
	CipherSealed = "sealed"
)

// Frontends
const (
	UITerminal = "tui"
	UILine     = "line"
)

// Config holds runtime configuration
type Config struct {
	Port             int           `mapstructure:"port"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	DisconnectGrace  time.Duration `mapstructure:"disconnect_grace"`
	Cipher           string        `mapstructure:"cipher"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFile          string        `mapstructure:"log_file"`
	UI               string        `mapstructure:"ui"`
}

// NewDefaultConfig creates configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Port:             DefaultPort,
		DialTimeout:      DefaultDialTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		DisconnectGrace:  DefaultDisconnectGrace,
		Cipher:           CipherLegacy,
		LogLevel:         "warn",
		UI:               UITerminal,
	}
}

// ValidateConfig validates the configuration for consistency
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.New("configuration cannot be nil")
	}

	// Port 0 lets the OS pick, which only makes sense for tests and hosts
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", config.DialTimeout)
	}
	if config.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout cannot be negative, got %s", config.HandshakeTimeout)
	}
	if config.DisconnectGrace < 0 {
		return fmt.Errorf("disconnect grace period cannot be negative, got %s", config.DisconnectGrace)
	}

	switch config.Cipher {
	case CipherLegacy, CipherSealed:
	default:
		return fmt.Errorf("unsupported cipher mode: %q", config.Cipher)
	}

	switch config.UI {
	case UITerminal, UILine:
	default:
		return fmt.Errorf("unsupported ui: %q", config.UI)
	}

	switch strings.ToLower(config.LogLevel) {
	case "silent", "off", "none", "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("unknown log level: %q", config.LogLevel)
	}

	return nil
}

// SetDefaults registers the default values with v
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("port", d.Port)
	v.SetDefault("dial_timeout", d.DialTimeout)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("disconnect_grace", d.DisconnectGrace)
	v.SetDefault("cipher", d.Cipher)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("ui", d.UI)
}

// NewViper creates a viper instance wired to the config file locations and
// the SECURECHAT_ environment prefix
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("securechat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.securechat")

	v.SetEnvPrefix("SECURECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads the config file (if any) and returns the validated configuration
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
