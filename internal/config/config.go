package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the atelier API service.
// Values are loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Auth   AuthConfig   `yaml:"auth"`
	Mail   MailConfig   `yaml:"mail"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateBurst       int           `yaml:"rate_burst"`
	RatePerSecond   int           `yaml:"rate_per_second"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig contains token and authorization settings.
type AuthConfig struct {
	// JWTSecret signs bearer tokens. Leaving it empty is a configuration
	// fault reported at token issuance or verification, never silently
	// bypassed.
	JWTSecret string `yaml:"jwt_secret"`
	// ManualRulesPath points at the static manual-auth rule file consulted
	// before any dynamic role check.
	ManualRulesPath string `yaml:"manual_rules_path"`
	// ClientURL is the external frontend base used in reset-password links.
	ClientURL string `yaml:"client_url"`
}

// MailConfig configures outbound email.
type MailConfig struct {
	// Driver is "log" or "smtp".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateBurst:       50,
			RatePerSecond:   25,
		},
		Store: StoreConfig{Driver: "memory"},
		Auth:  AuthConfig{ManualRulesPath: "manual-auth.json"},
		Mail:  MailConfig{Driver: "log", From: "no-reply@atelier.local"},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Precedence: defaults, then file, then environment.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATELIER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ATELIER_PG_DSN"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = v
	}
	if v := os.Getenv("ATELIER_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ATELIER_CLIENT_URL"); v != "" {
		cfg.Auth.ClientURL = v
	}
	if v := os.Getenv("ATELIER_MANUAL_RULES"); v != "" {
		cfg.Auth.ManualRulesPath = v
	}
	if v := os.Getenv("ATELIER_SMTP_HOST"); v != "" {
		cfg.Mail.Driver = "smtp"
		cfg.Mail.Host = v
	}
	if v := os.Getenv("ATELIER_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mail.Port = port
		}
	}
	if v := os.Getenv("ATELIER_SMTP_USERNAME"); v != "" {
		cfg.Mail.Username = v
	}
	if v := os.Getenv("ATELIER_SMTP_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}
	if v := os.Getenv("ATELIER_MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" {
			return fmt.Errorf("mail driver smtp requires a host")
		}
	default:
		return fmt.Errorf("unknown mail driver %q", c.Mail.Driver)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	return nil
}
