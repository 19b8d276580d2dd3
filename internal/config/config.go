// Package config loads and validates server configuration from defaults, an
// optional config.yaml, and ASTRIX_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults for optional configuration parameters.
const (
	DefaultListenAddr        = ":5000"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultDBPath            = "astrix.db"
	DefaultTranslateTimeout  = 12 * time.Second
	DefaultRateLimitWindow   = time.Second
	DefaultRateLimitMax      = 5
	DefaultUpgradeRPS        = 5
	DefaultUpgradeBurst      = 10
	DefaultHistoryPageSize   = 50
	DefaultWorkerQueueSize   = 256
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultTranslateBaseURL  = "http://localhost:11434"
	DefaultTranslateLanguage = "en"
)

// Config holds all server configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	LogLevel   string `mapstructure:"log_level"   validate:"oneof=debug info warn error"`
	LogFormat  string `mapstructure:"log_format"  validate:"oneof=text json"`

	DBPath string `mapstructure:"db_path" validate:"required"`

	// JWTSecret verifies bearer credentials minted by the external auth
	// service.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`

	TranslateBaseURL string        `mapstructure:"translate_base_url" validate:"url"`
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"  validate:"min=1s,max=5m"`
	DefaultLanguage  string        `mapstructure:"default_language"   validate:"required"`

	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" validate:"min=100ms,max=1m"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"    validate:"min=1"`

	// Per-IP throttle on the WebSocket upgrade endpoint.
	UpgradeRPS   float64 `mapstructure:"upgrade_rps"   validate:"min=0"`
	UpgradeBurst int     `mapstructure:"upgrade_burst" validate:"min=0"`

	HistoryPageSize int `mapstructure:"history_page_size" validate:"min=1,max=200"`
	WorkerQueueSize int `mapstructure:"worker_queue_size" validate:"min=1"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// Load reads configuration in order of increasing precedence: defaults,
// config.yaml, then ASTRIX_* environment variables. The result is validated
// before being returned.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("ASTRIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and env cover everything.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("listen_addr", DefaultListenAddr)
	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("log_format", DefaultLogFormat)
	viper.SetDefault("db_path", DefaultDBPath)
	// Registered empty so AutomaticEnv can fill it during Unmarshal; the
	// required validation still rejects a missing secret.
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("translate_base_url", DefaultTranslateBaseURL)
	viper.SetDefault("translate_timeout", DefaultTranslateTimeout)
	viper.SetDefault("default_language", DefaultTranslateLanguage)
	viper.SetDefault("rate_limit_window", DefaultRateLimitWindow)
	viper.SetDefault("rate_limit_max", DefaultRateLimitMax)
	viper.SetDefault("upgrade_rps", DefaultUpgradeRPS)
	viper.SetDefault("upgrade_burst", DefaultUpgradeBurst)
	viper.SetDefault("history_page_size", DefaultHistoryPageSize)
	viper.SetDefault("worker_queue_size", DefaultWorkerQueueSize)
	viper.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
}
