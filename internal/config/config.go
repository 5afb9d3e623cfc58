/**
 * @description
 * Configuration management for the debt service. Viper reads environment
 * variables and an optional .env file into Config; LoadConfig then normalizes
 * the values so callers never see blank prefixes or non-positive limits.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 */

package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix = "pinjamanhutang:rate_limit"
	defaultEventsExchange  = "ledger_events"
	defaultToyyibPayURL    = "https://toyyibpay.com"
	defaultSessionTTL      = 720
	defaultMaxAttempts     = 5
	maxAtomicAttempts      = 50
)

// Config holds all the configuration variables for the debt service.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange    string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	ToyyibPayBaseURL        string `mapstructure:"TOYYIBPAY_BASE_URL"`
	ToyyibPaySecret         string `mapstructure:"TOYYIBPAY_SECRET"`
	ToyyibPayCategory       string `mapstructure:"TOYYIBPAY_CATEGORY"`
	CallbackBaseURL         string `mapstructure:"CALLBACK_BASE_URL"`
	OperatorJWTSecret       string `mapstructure:"OPERATOR_JWT_SECRET"`
	SessionJWTSecret        string `mapstructure:"SESSION_JWT_SECRET"`
	SessionTTLMinutes       int    `mapstructure:"SESSION_TTL_MINUTES"`
	BillRateLimitPerMinute  int    `mapstructure:"BILL_RATE_LIMIT_PER_MINUTE"`
	LoginRateLimitPerMinute int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	LedgerAuditSchedule     string `mapstructure:"LEDGER_AUDIT_SCHEDULE"`
	AtomicMaxAttempts       int    `mapstructure:"ATOMIC_MAX_ATTEMPTS"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// CallbackURL is the webhook address registered with every bill.
func (c Config) CallbackURL() string {
	if c.CallbackBaseURL == "" {
		return ""
	}
	return c.CallbackBaseURL + "/gateway/callback"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS; an empty value allows any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Validate reports the required settings that are missing.
func (c Config) Validate() error {
	var missing []string
	if c.ToyyibPaySecret == "" {
		missing = append(missing, "TOYYIBPAY_SECRET")
	}
	if c.OperatorJWTSecret == "" {
		missing = append(missing, "OPERATOR_JWT_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("TOYYIBPAY_BASE_URL", defaultToyyibPayURL)
	viper.SetDefault("SESSION_TTL_MINUTES", defaultSessionTTL)
	viper.SetDefault("BILL_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("LEDGER_AUDIT_SCHEDULE", "@every 1h")
	viper.SetDefault("ATOMIC_MAX_ATTEMPTS", defaultMaxAttempts)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("TOYYIBPAY_BASE_URL")
	_ = viper.BindEnv("TOYYIBPAY_SECRET", "TOYYIBPAY_SECRET", "TOYYIBPAY_SECRET_KEY")
	_ = viper.BindEnv("TOYYIBPAY_CATEGORY", "TOYYIBPAY_CATEGORY", "TOYYIBPAY_CATEGORY_CODE")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("OPERATOR_JWT_SECRET")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("BILL_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LEDGER_AUDIT_SCHEDULE")
	_ = viper.BindEnv("ATOMIC_MAX_ATTEMPTS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.ToyyibPaySecret = strings.TrimSpace(config.ToyyibPaySecret)
	config.ToyyibPayCategory = strings.TrimSpace(config.ToyyibPayCategory)
	config.OperatorJWTSecret = strings.TrimSpace(config.OperatorJWTSecret)
	config.SessionJWTSecret = strings.TrimSpace(config.SessionJWTSecret)
	config.LedgerAuditSchedule = strings.TrimSpace(config.LedgerAuditSchedule)
	config.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(config.CallbackBaseURL), "/")

	config.ToyyibPayBaseURL = strings.TrimRight(strings.TrimSpace(config.ToyyibPayBaseURL), "/")
	if config.ToyyibPayBaseURL == "" {
		config.ToyyibPayBaseURL = defaultToyyibPayURL
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.LedgerEventsExchange = strings.TrimSpace(config.LedgerEventsExchange)
	if config.LedgerEventsExchange == "" {
		config.LedgerEventsExchange = defaultEventsExchange
	}

	// Debtor sessions fall back to the operator secret when no dedicated one is set.
	if config.SessionJWTSecret == "" {
		config.SessionJWTSecret = config.OperatorJWTSecret
	}
	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = defaultSessionTTL
	}

	if config.BillRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative bill rate limit configured; disabling\" value=%d", config.BillRateLimitPerMinute)
		config.BillRateLimitPerMinute = 0
	}
	if config.LoginRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative login rate limit configured; disabling\" value=%d", config.LoginRateLimitPerMinute)
		config.LoginRateLimitPerMinute = 0
	}

	if config.AtomicMaxAttempts <= 0 {
		config.AtomicMaxAttempts = defaultMaxAttempts
	}
	if config.AtomicMaxAttempts > maxAtomicAttempts {
		log.Printf("level=warn component=config msg=\"atomic retry attempts too high; capping\" value=%d cap=%d", config.AtomicMaxAttempts, maxAtomicAttempts)
		config.AtomicMaxAttempts = maxAtomicAttempts
	}

	return
}
