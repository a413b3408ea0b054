package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const developmentEnv = "development"

const devSecret = "dev-only-secret-change-me"

// Config captures application runtime configuration loaded from the
// environment and an optional .env file.
type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	AppEnv   string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange string `mapstructure:"LEDGER_EXCHANGE"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	RefreshSecret   string        `mapstructure:"REFRESH_SECRET"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	ShutdownPeriod       time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	IdempotencyTTL       time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	LockTimeout          time.Duration `mapstructure:"LOCK_TIMEOUT"`
	AccountNumberRetries int           `mapstructure:"ACCOUNT_NUMBER_RETRIES"`
	RateLimitPerMinute   int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	LoginRateLimit       int           `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	ReconcileSchedule    string        `mapstructure:"RECONCILE_SCHEDULE"`
}

var defaults = map[string]any{
	"APP_NAME":                    "WalletLedger",
	"APP_ENV":                     developmentEnv,
	"PORT":                        "8080",
	"LOG_LEVEL":                   "info",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "",
	"RABBITMQ_URL":                "",
	"LEDGER_EXCHANGE":             "ledger_events",
	"JWT_SECRET":                  "",
	"REFRESH_SECRET":              "",
	"ACCESS_TOKEN_TTL":            15 * time.Minute,
	"REFRESH_TOKEN_TTL":           7 * 24 * time.Hour,
	"SHUTDOWN_TIMEOUT":            10 * time.Second,
	"IDEMPOTENCY_TTL":             24 * time.Hour,
	"LOCK_TIMEOUT":                5 * time.Second,
	"ACCOUNT_NUMBER_RETRIES":      10,
	"RATE_LIMIT_PER_MINUTE":       60,
	"LOGIN_RATE_LIMIT_PER_MINUTE": 5,
	"RECONCILE_SCHEDULE":          "@every 10m",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory and then to defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = devSecret
		}
		if c.RefreshSecret == "" {
			c.RefreshSecret = devSecret + "-refresh"
		}
	}

	var missing []string
	for key, value := range map[string]string{
		"DATABASE_URL":   c.DatabaseURL,
		"REDIS_URL":      c.RedisURL,
		"JWT_SECRET":     c.JWTSecret,
		"REFRESH_SECRET": c.RefreshSecret,
	} {
		if value == "" && !c.IsDevelopment() {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%s must be set when APP_ENV=%s", strings.Join(missing, ", "), c.AppEnv)
	}

	if c.AccountNumberRetries <= 0 {
		return fmt.Errorf("ACCOUNT_NUMBER_RETRIES must be positive, got %d", c.AccountNumberRetries)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

// IsDevelopment reports whether the service may run on in-memory backends.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == developmentEnv || c.AppEnv == "dev" || c.AppEnv == "local"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
