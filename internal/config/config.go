// Package config loads service configuration from a YAML (or JSON) file
// and overlays environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Oracle providers.
const (
	ProviderYahoo  = "yahoo"
	ProviderStatic = "static"
)

const defaultSecret = "dev-secret-key"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Oracle   OracleConfig   `json:"oracle" yaml:"oracle"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Accounts AccountsConfig `json:"accounts" yaml:"accounts"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// ServerConfig contains HTTP listener parameters.
type ServerConfig struct {
	Port           string        `json:"port" yaml:"port"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	AllowedOrigin  string        `json:"allowed_origin" yaml:"allowed_origin"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver      string        `json:"driver" yaml:"driver"` // memory, sqlite or postgres
	SQLitePath  string        `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	DatabaseURL string        `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	RedisURL    string        `json:"redis_url,omitempty" yaml:"redis_url,omitempty"` // optional read-through cache
	CacheTTL    time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// OracleConfig selects the price source.
type OracleConfig struct {
	Provider string            `json:"provider" yaml:"provider"` // yahoo or static
	BaseURL  string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout  time.Duration     `json:"timeout" yaml:"timeout"`
	Prices   map[string]string `json:"prices,omitempty" yaml:"prices,omitempty"` // static provider only
}

// AuthConfig contains token signing parameters.
type AuthConfig struct {
	Secret   string        `json:"secret" yaml:"secret"`
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// AccountsConfig contains new-account parameters.
type AccountsConfig struct {
	InitialBalance string `json:"initial_balance" yaml:"initial_balance"`
	Currency       string `json:"currency" yaml:"currency"` // display only
	BcryptCost     int    `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn or error
	Format string `json:"format" yaml:"format"` // json or text
}

// Default returns a configuration with sensible defaults: in-memory
// storage, live Yahoo quotes and a development signing secret.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 30 * time.Second,
			AllowedOrigin:  "*",
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			CacheTTL: 30 * time.Second,
		},
		Oracle: OracleConfig{
			Provider: ProviderYahoo,
			Timeout:  5 * time.Second,
		},
		Auth: AuthConfig{
			Secret:   defaultSecret,
			TokenTTL: 30 * 24 * time.Hour,
		},
		Accounts: AccountsConfig{
			InitialBalance: "10000",
			Currency:       "USD",
			BcryptCost:     10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration: defaults, then the file at
// path (if any), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML, falling back to
// JSON) on top of the defaults and validates it.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays the environment variables the service has always
// honoured. DATABASE_URL selects PostgreSQL; SQLITE_PATH selects SQLite
// unless PostgreSQL is also configured.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
		c.Storage.Driver = DriverSQLite
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
		c.Storage.Driver = DriverPostgres
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := getenv("SECRET_KEY"); v != "" {
		c.Auth.Secret = v
	}
	if v := getenv("ORACLE_PROVIDER"); v != "" {
		c.Oracle.Provider = v
	}
	if v := getenv("INITIAL_BALANCE"); v != "" {
		c.Accounts.InitialBalance = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path required for sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be 'memory', 'sqlite' or 'postgres', got %q", c.Storage.Driver))
	}
	if c.Storage.RedisURL != "" && c.Storage.CacheTTL <= 0 {
		errs = append(errs, errors.New("storage.cache_ttl must be positive when redis_url is set"))
	}

	switch c.Oracle.Provider {
	case ProviderYahoo:
	case ProviderStatic:
		if _, err := c.StaticPrices(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.provider must be 'yahoo' or 'static', got %q", c.Oracle.Provider))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("oracle.timeout must be positive"))
	}

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	if bal, err := c.InitialBalance(); err != nil {
		errs = append(errs, err)
	} else if !bal.IsPositive() {
		errs = append(errs, errors.New("accounts.initial_balance must be positive"))
	}
	if c.Accounts.Currency == "" {
		errs = append(errs, errors.New("accounts.currency is required"))
	}
	if c.Accounts.BcryptCost != 0 && (c.Accounts.BcryptCost < 4 || c.Accounts.BcryptCost > 31) {
		errs = append(errs, errors.New("accounts.bcrypt_cost must be between 4 and 31"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// UsesDefaultSecret reports whether tokens are signed with the built-in
// development secret.
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.Secret == defaultSecret
}

// InitialBalance parses accounts.initial_balance.
func (c *Config) InitialBalance() (decimal.Decimal, error) {
	bal, err := decimal.NewFromString(c.Accounts.InitialBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("accounts.initial_balance: %w", err)
	}
	return bal, nil
}

// StaticPrices parses oracle.prices, keyed by upper-case symbol.
func (c *Config) StaticPrices() (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(c.Oracle.Prices))
	for sym, raw := range c.Oracle.Prices {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("oracle.prices[%s]: %w", sym, err)
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("oracle.prices[%s] must be positive", sym)
		}
		prices[strings.ToUpper(sym)] = p
	}
	return prices, nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
