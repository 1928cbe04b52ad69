package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/msgroom-server/internal/identity"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	StoreDriver string `mapstructure:"store_driver" yaml:"store_driver"`
	DBPath      string `mapstructure:"db_path" yaml:"db_path"`

	AdminSecret string        `mapstructure:"admin_secret" yaml:"admin_secret"`
	APIPrefix   string        `mapstructure:"api_prefix" yaml:"api_prefix"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	CORSOrigins []string      `mapstructure:"cors_origins" yaml:"cors_origins"`

	RandomIDs        bool          `mapstructure:"random_ids" yaml:"random_ids"`
	IPHeader         string        `mapstructure:"ip_header" yaml:"ip_header"`
	TrustedProxies   []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
	ChannelsEnabled  bool          `mapstructure:"channels_enabled" yaml:"channels_enabled"`
	DefaultChannel   string        `mapstructure:"default_channel" yaml:"default_channel"`
	UserLimit        int           `mapstructure:"user_limit" yaml:"user_limit"`
	RequireLoginKey  bool          `mapstructure:"require_login_key" yaml:"require_login_key"`
	RateLimit        int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateInterval     time.Duration `mapstructure:"rate_interval" yaml:"rate_interval"`
	NickRateLimit    int           `mapstructure:"nick_rate_limit" yaml:"nick_rate_limit"`
	MaxMessageLength int           `mapstructure:"max_message_length" yaml:"max_message_length"`
	MaxFrameBytes    int64         `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	AuthTimeout      time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
	WelcomeMessage   string        `mapstructure:"welcome_message" yaml:"welcome_message"`
	ServerVersion    string        `mapstructure:"server_version" yaml:"server_version"`

	ConnectRate  float64 `mapstructure:"connect_rate" yaml:"connect_rate"`
	ConnectBurst int     `mapstructure:"connect_burst" yaml:"connect_burst"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":4096",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",

		StoreDriver: DriverFile,
		DBPath:      "moderation.json",

		APIPrefix: "/api",
		TokenTTL:  time.Hour,

		ChannelsEnabled:  true,
		DefaultChannel:   "main",
		UserLimit:        3,
		RateLimit:        2,
		RateInterval:     time.Second,
		MaxMessageLength: 2048,
		MaxFrameBytes:    16 << 10,
		AuthTimeout:      10 * time.Second,
		WelcomeMessage:   "Welcome to msgroom! Be nice to each other.",
		ServerVersion:    "dev",

		ConnectRate:  1,
		ConnectBurst: 10,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// It is used for command line overrides.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreDriver != "" {
		c.StoreDriver = other.StoreDriver
	}
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverFile, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store_driver: unknown driver %q", c.StoreDriver))
	}
	if c.StoreDriver != DriverMemory && c.DBPath == "" {
		errs = append(errs, errors.New("db_path: required"))
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("api_prefix: must start with /, got %q", c.APIPrefix))
	}
	if strings.TrimSpace(c.DefaultChannel) == "" {
		errs = append(errs, errors.New("default_channel: required"))
	}
	if c.RateLimit > 0 && c.RateInterval <= 0 {
		errs = append(errs, errors.New("rate_interval: must be positive when rate_limit is set"))
	}
	if _, err := identity.ParseProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("trusted_proxies: %w", err))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("max_message_length: must be positive"))
	}
	if c.UserLimit < 0 || c.NickRateLimit < 0 {
		errs = append(errs, errors.New("user_limit and nick_rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}
