// Package config loads service configuration from a .env file, the
// environment and an optional config file.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Query modes
const (
	ModeMock    = "mock"
	ModeForward = "forward"
)

// Downstream transports
const (
	TransportHTTP   = "http"
	TransportLambda = "lambda"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CRIS"

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Query      QueryConfig      `mapstructure:"query"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
}

// ServerConfig configures the standalone HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the peer address is always the client address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// QueryConfig controls how queries are answered.
type QueryConfig struct {
	Mode     string `mapstructure:"mode"`
	MaxLimit int    `mapstructure:"max_limit"`
}

// DownstreamConfig describes the query execution service.
type DownstreamConfig struct {
	Transport    string        `mapstructure:"transport"`
	URL          string        `mapstructure:"url"`
	FunctionName string        `mapstructure:"function_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	SignRequests bool          `mapstructure:"sign_requests"`
}

// RateLimitConfig configures the per-client limiter of the HTTP server.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

var keys = []string{
	"server.port", "server.shutdown_timeout", "server.trusted_proxies",
	"log.level", "log.development",
	"query.mode", "query.max_limit",
	"downstream.transport", "downstream.url", "downstream.function_name",
	"downstream.timeout", "downstream.max_attempts", "downstream.sign_requests",
	"ratelimit.enabled", "ratelimit.rps", "ratelimit.burst",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("query.mode", ModeMock)
	v.SetDefault("query.max_limit", 10000)
	v.SetDefault("downstream.transport", TransportHTTP)
	v.SetDefault("downstream.url", "")
	v.SetDefault("downstream.function_name", "")
	v.SetDefault("downstream.timeout", 120*time.Second)
	v.SetDefault("downstream.max_attempts", 1)
	v.SetDefault("downstream.sign_requests", false)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
}

// Load reads the configuration. Precedence, highest first:
// environment variables, values from .env (which never override the
// environment), the file named by CRIS_CONFIG_FILE, then defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv alone is not consulted by Unmarshal.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.Query.Mode {
	case ModeMock:
	case ModeForward:
		switch c.Downstream.Transport {
		case TransportHTTP:
			if c.Downstream.URL == "" {
				return fmt.Errorf("downstream.url is required for the http transport")
			}
		case TransportLambda:
			if c.Downstream.FunctionName == "" {
				return fmt.Errorf("downstream.function_name is required for the lambda transport")
			}
		default:
			return fmt.Errorf("unknown downstream.transport %q", c.Downstream.Transport)
		}
	default:
		return fmt.Errorf("unknown query.mode %q", c.Query.Mode)
	}

	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("invalid server.trusted_proxies entry %q", p)
		}
	}

	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be positive")
	}
	if c.Downstream.Timeout <= 0 {
		return fmt.Errorf("downstream.timeout must be positive")
	}
	if c.Downstream.MaxAttempts < 1 {
		return fmt.Errorf("downstream.max_attempts must be at least 1")
	}
	return nil
}
