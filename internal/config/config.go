package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	ClientOrigin string `mapstructure:"CLIENT_ORIGIN"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`

	// PaymentProvider selects the gateway adapter: "wallet" or "stripe".
	PaymentProvider   string        `mapstructure:"PAYMENT_PROVIDER"`
	ProviderBaseURL   string        `mapstructure:"PROVIDER_BASE_URL"`
	ProviderSecretKey string        `mapstructure:"PROVIDER_SECRET_KEY"`
	ProviderTimeout   time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	StripeAPIKey      string        `mapstructure:"STRIPE_API_KEY"`

	PollInterval         time.Duration `mapstructure:"POLL_INTERVAL"`
	PollMaxAttempts      int           `mapstructure:"POLL_MAX_ATTEMPTS"`
	PollFetchLimit       int           `mapstructure:"POLL_FETCH_LIMIT"`
	MaxConsecutiveErrors int           `mapstructure:"POLL_MAX_CONSECUTIVE_ERRORS"`
	SessionRetention     time.Duration `mapstructure:"SESSION_RETENTION"`

	AmountMinMinor      int64 `mapstructure:"AMOUNT_MIN_MINOR"`
	AmountMaxMinor      int64 `mapstructure:"AMOUNT_MAX_MINOR"`
	MatchToleranceMinor int64 `mapstructure:"MATCH_TOLERANCE_MINOR"`
	// MatchRequireStrong disables the description+amount fallback match.
	MatchRequireStrong bool `mapstructure:"MATCH_REQUIRE_STRONG"`

	CreateMaxRetries     int           `mapstructure:"CREATE_MAX_RETRIES"`
	CreateRetryBaseDelay time.Duration `mapstructure:"CREATE_RETRY_BASE_DELAY"`
	CreateRetryMaxDelay  time.Duration `mapstructure:"CREATE_RETRY_MAX_DELAY"`

	AWSRegion          string `mapstructure:"AWS_REGION"`
	ReceiptFromAddress string `mapstructure:"RECEIPT_FROM_ADDRESS"`
}

// defaults registers every key with viper so AutomaticEnv can override it.
var defaults = map[string]any{
	"SERVER_PORT":                 "8080",
	"DATABASE_URL":                "",
	"JWT_SECRET":                  "",
	"CLIENT_ORIGIN":               "http://localhost:3000",
	"LOG_LEVEL":                   "info",
	"PAYMENT_PROVIDER":            "wallet",
	"PROVIDER_BASE_URL":           "https://api.paymongo.com",
	"PROVIDER_SECRET_KEY":         "",
	"PROVIDER_TIMEOUT":            "10s",
	"STRIPE_API_KEY":              "",
	"POLL_INTERVAL":               "5s",
	"POLL_MAX_ATTEMPTS":           120,
	"POLL_FETCH_LIMIT":            20,
	"POLL_MAX_CONSECUTIVE_ERRORS": 3,
	"SESSION_RETENTION":           "30m",
	"AMOUNT_MIN_MINOR":            100,
	"AMOUNT_MAX_MINOR":            100_000_000,
	"MATCH_TOLERANCE_MINOR":       100,
	"MATCH_REQUIRE_STRONG":        false,
	"CREATE_MAX_RETRIES":          3,
	"CREATE_RETRY_BASE_DELAY":     "500ms",
	"CREATE_RETRY_MAX_DELAY":      "5s",
	"AWS_REGION":                  "ap-southeast-1",
	"RECEIPT_FROM_ADDRESS":        "",
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env") // Name of config file (without extension)
	v.SetConfigType("env")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv() // Read in environment variables that match

	err := v.ReadInConfig()
	if err != nil {
		// Handle errors reading the config file, but allow it if it's just "not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.PaymentProvider = strings.ToLower(strings.TrimSpace(cfg.PaymentProvider))

	return &cfg, nil
}

// Validate rejects settings the reconciliation engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("config: POLL_INTERVAL must be positive, got %s", c.PollInterval)
	case c.PollMaxAttempts < 1:
		return fmt.Errorf("config: POLL_MAX_ATTEMPTS must be at least 1, got %d", c.PollMaxAttempts)
	case c.PollFetchLimit < 1 || c.PollFetchLimit > 100:
		return fmt.Errorf("config: POLL_FETCH_LIMIT must be between 1 and 100, got %d", c.PollFetchLimit)
	case c.MaxConsecutiveErrors < 1:
		return fmt.Errorf("config: POLL_MAX_CONSECUTIVE_ERRORS must be at least 1, got %d", c.MaxConsecutiveErrors)
	case c.AmountMinMinor < 1 || c.AmountMaxMinor < c.AmountMinMinor:
		return fmt.Errorf("config: invalid amount bounds [%d, %d]", c.AmountMinMinor, c.AmountMaxMinor)
	case c.MatchToleranceMinor < 0:
		return fmt.Errorf("config: MATCH_TOLERANCE_MINOR must not be negative")
	case c.PaymentProvider != "wallet" && c.PaymentProvider != "stripe":
		return fmt.Errorf("config: PAYMENT_PROVIDER must be wallet or stripe, got %q", c.PaymentProvider)
	}
	return nil
}
