// Package config loads service configuration from YAML with environment
// overrides for secrets and deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Escrow   EscrowConfig   `yaml:"escrow"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin"`
	CORS     CORSConfig     `yaml:"cors"`

	Verifiers []VerifierConfig `yaml:"verifiers"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the storage driver. Driver "memory" runs without
// Postgres, for tests and local development.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | memory
	DSN    string `yaml:"dsn"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// EscrowConfig parametrizes the engine.
type EscrowConfig struct {
	// Owner may mutate the whitelist and registry permissions.
	Owner string `yaml:"owner"`

	// Address is the escrow identity presented to verifiers and, for the
	// ERC-20 ledger, the on-chain pool account.
	Address string `yaml:"address"`

	// Chain names the deployment environment, e.g. "kaia", "base".
	Chain string `yaml:"chain"`

	// IntentExpirationSeconds defaults to 1800.
	IntentExpirationSeconds int `yaml:"intent_expiration_seconds"`
}

// IntentExpiration returns the expiration window as a duration.
func (e EscrowConfig) IntentExpiration() time.Duration {
	if e.IntentExpirationSeconds <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(e.IntentExpirationSeconds) * time.Second
}

// LedgerConfig selects the asset ledger driver.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // erc20 | memory

	// ERC-20 driver settings.
	RPCURL       string `yaml:"rpc_url"`
	TokenAddress string `yaml:"token_address"`
	// PrivateKey is overridable via ESCROW_LEDGER_PRIVATE_KEY.
	PrivateKey string `yaml:"private_key"`

	// Memory driver: balances seeded at boot, address -> decimal amount.
	SeedBalances map[string]string `yaml:"seed_balances"`
}

// AuthConfig is the taker/depositor API authentication.
type AuthConfig struct {
	// JWTSecret is overridable via ESCROW_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTLMinutes defaults to 60.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// TokenTTL returns the token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// AdminConfig is the administrative login. All three values are
// overridable via ADMIN_USERNAME / ADMIN_PASSWORD / ADMIN_TOTP_SECRET.
type AdminConfig struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
}

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// VerifierConfig declares one payment verifier instance.
type VerifierConfig struct {
	// Name is informational, e.g. "tossbank".
	Name string `yaml:"name"`

	// Address is the verifier identity.
	Address string `yaml:"address"`

	// Currencies are ISO codes, hashed at boot.
	Currencies []string `yaml:"currencies"`

	// ProviderHashes identify accepted zkTLS provider configurations.
	ProviderHashes []string `yaml:"provider_hashes"`

	TimestampBufferSeconds int `yaml:"timestamp_buffer_seconds"`
}

// TimestampBuffer returns the payment freshness window.
func (v VerifierConfig) TimestampBuffer() time.Duration {
	return time.Duration(v.TimestampBufferSeconds) * time.Second
}

// Load reads the YAML file at path (or CONFIG_PATH, or ./config.yaml) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ESCROW_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ESCROW_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("ESCROW_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ESCROW_LEDGER_PRIVATE_KEY"); v != "" {
		c.Ledger.PrivateKey = v
	}
	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		c.Admin.Username = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	if v := os.Getenv("ADMIN_TOTP_SECRET"); v != "" {
		c.Admin.TOTPSecret = v
	}
	if v := os.Getenv("ESCROW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	switch c.Database.Driver {
	case "", "memory":
		c.Database.Driver = "memory"
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Ledger.Driver {
	case "", "memory":
		c.Ledger.Driver = "memory"
	case "erc20":
		if c.Ledger.RPCURL == "" || c.Ledger.TokenAddress == "" {
			return fmt.Errorf("config: ledger.rpc_url and ledger.token_address required for erc20 driver")
		}
	default:
		return fmt.Errorf("config: unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Escrow.Owner == "" {
		return fmt.Errorf("config: escrow.owner is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required")
	}
	if len(c.Verifiers) == 0 {
		return fmt.Errorf("config: at least one verifier is required")
	}
	for _, v := range c.Verifiers {
		if v.Address == "" {
			return fmt.Errorf("config: verifier %q missing address", v.Name)
		}
		if len(v.Currencies) == 0 {
			return fmt.Errorf("config: verifier %q missing currencies", v.Name)
		}
		if len(v.ProviderHashes) == 0 {
			return fmt.Errorf("config: verifier %q missing provider hashes", v.Name)
		}
	}
	return nil
}
