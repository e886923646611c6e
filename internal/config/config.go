// Package config loads the service configuration from YAML with environment
// variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Orders    OrdersConfig    `yaml:"orders"`
	Dividends DividendsConfig `yaml:"dividends"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig configures storage. An empty DSN selects the in-memory
// backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig configures caller authentication. An empty secret disables JWT
// validation and trusts the caller header.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RateLimitConfig configures per-caller throttling.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// LedgerConfig seeds the compliance registry and the sequence counter.
type LedgerConfig struct {
	Owner         string   `yaml:"owner"`
	Managers      []string `yaml:"managers"`
	Whitelist     []string `yaml:"whitelist"`
	StartSequence uint64   `yaml:"start_sequence"`
}

// OrdersConfig configures the order book engine.
type OrdersConfig struct {
	EscrowAddress   string `yaml:"escrow_address"`
	RequireApproval bool   `yaml:"require_approval"`
}

// DividendsConfig configures the distributor and its reclaim sweeper.
type DividendsConfig struct {
	EscrowAddress string        `yaml:"escrow_address"`
	ReclaimPeriod time.Duration `yaml:"reclaim_period"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Ledger: LedgerConfig{
			Owner:         "owner",
			StartSequence: 1,
		},
		Orders: OrdersConfig{
			EscrowAddress:   "escrow:orderbook",
			RequireApproval: true,
		},
		Dividends: DividendsConfig{
			EscrowAddress: "escrow:dividends",
			ReclaimPeriod: 90 * 24 * time.Hour,
			SweepSchedule: "@hourly",
		},
		LogLevel: "info",
	}
}

// Load reads the configuration file at path, applying defaults for anything
// unset. An empty path returns the defaults with environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SECURITIES_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("SECURITIES_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SECURITIES_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Validate checks the invariants the services assume at startup.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Ledger.Owner == "" {
		return fmt.Errorf("ledger.owner is required")
	}
	if c.Orders.EscrowAddress == "" {
		return fmt.Errorf("orders.escrow_address is required")
	}
	if c.Dividends.EscrowAddress == "" {
		return fmt.Errorf("dividends.escrow_address is required")
	}
	if c.Orders.EscrowAddress == c.Dividends.EscrowAddress {
		return fmt.Errorf("order and dividend escrow addresses must differ")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if c.Ledger.StartSequence == 0 {
		return fmt.Errorf("ledger.start_sequence must be positive")
	}
	return nil
}
