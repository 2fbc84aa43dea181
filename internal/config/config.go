package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration. Every field maps to one env var.
type Config struct {
	// Server
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	Env      string `mapstructure:"APP_ENV"` // development | production
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Storage
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	// Auth
	PINSalt         string        `mapstructure:"PIN_SALT"`
	PINBcryptCost   int           `mapstructure:"PIN_BCRYPT_COST"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	LockoutAttempts int           `mapstructure:"LOCKOUT_ATTEMPTS"`
	LockoutDuration time.Duration `mapstructure:"LOCKOUT_DURATION"`

	// HTTP limits
	RateBurst    int     `mapstructure:"RATE_BURST"`
	RatePerSec   float64 `mapstructure:"RATE_PER_SEC"`
	MaxBodyBytes int64   `mapstructure:"MAX_BODY_BYTES"`

	// Documents
	PDFLayerAPIKey          string `mapstructure:"PDFLAYER_API_KEY"`
	PDFLayerURL             string `mapstructure:"PDFLAYER_URL"`
	PDFRenderer             string `mapstructure:"PDF_RENDERER"` // pdflayer | local | none
	DocumentsRequireSession bool   `mapstructure:"DOCUMENTS_REQUIRE_SESSION"`
}

// DevPINSalt is used when PIN_SALT is unset in development.
const DevPINSalt = "medcabinet-dev-salt"

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"GRPC_ADDR":                 ":9090",
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
	"DATABASE_URL":              "",
	"REDIS_URL":                 "",
	"PIN_SALT":                  "",
	"PIN_BCRYPT_COST":           0,
	"SESSION_TTL":               7 * 24 * time.Hour,
	"LOCKOUT_ATTEMPTS":          3,
	"LOCKOUT_DURATION":          15 * time.Minute,
	"RATE_BURST":                20,
	"RATE_PER_SEC":              5.0,
	"MAX_BODY_BYTES":            1 << 20,
	"PDFLAYER_API_KEY":          "",
	"PDFLAYER_URL":              "",
	"PDF_RENDERER":              "pdflayer",
	"DOCUMENTS_REQUIRE_SESSION": false,
}

// Load reads configuration from environment variables (and an optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	// .env is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.PDFRenderer = strings.ToLower(strings.TrimSpace(cfg.PDFRenderer))
	if cfg.PINSalt == "" && cfg.IsDevelopment() {
		cfg.PINSalt = DevPINSalt
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Env == "" || c.Env == "development" }

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.PINSalt == "" {
		errs = append(errs, errors.New("PIN_SALT is required outside development"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.LockoutAttempts < 1 {
		errs = append(errs, errors.New("LOCKOUT_ATTEMPTS must be at least 1"))
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("RATE_PER_SEC and RATE_BURST must not be negative"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	switch c.PDFRenderer {
	case "pdflayer", "local", "none":
	default:
		errs = append(errs, fmt.Errorf("PDF_RENDERER %q is not one of pdflayer, local, none", c.PDFRenderer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
