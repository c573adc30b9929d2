// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"APP_ENV"`
	RedisURL          string `mapstructure:"REDIS_URL"`
	AllowedOrigins    string `mapstructure:"ALLOWED_ORIGINS"`
	FirestoreProject  string `mapstructure:"FIRESTORE_PROJECT"`
	FirestoreDatabase string `mapstructure:"FIRESTORE_DATABASE"`
	LocalStorePath    string `mapstructure:"LOCAL_STORE_PATH"`
	DebounceMS        int    `mapstructure:"DEBOUNCE_MS"`
	QueueBackoffMS    int    `mapstructure:"QUEUE_BACKOFF_MS"`
	QueueMaxRetries   int    `mapstructure:"QUEUE_MAX_RETRIES"`
	LikeLimit         int    `mapstructure:"RATE_LIMIT_LIKE"`
	ShareLimit        int    `mapstructure:"RATE_LIMIT_SHARE"`
	SaveLimit         int    `mapstructure:"RATE_LIMIT_SAVE"`
	ReportLimit       int    `mapstructure:"RATE_LIMIT_REPORT"`
	TracingEnabled    bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter   string `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint   string `mapstructure:"TRACING_OTLP_ENDPOINT"`
	TracingSampler    float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	// Set default values for development
	viper.SetDefault("PORT", "8390")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FIRESTORE_PROJECT", "")
	viper.SetDefault("FIRESTORE_DATABASE", "(default)")
	viper.SetDefault("LOCAL_STORE_PATH", "ripple.db")
	viper.SetDefault("DEBOUNCE_MS", 300)
	viper.SetDefault("QUEUE_BACKOFF_MS", 1000)
	viper.SetDefault("QUEUE_MAX_RETRIES", 3)
	viper.SetDefault("RATE_LIMIT_LIKE", 10)
	viper.SetDefault("RATE_LIMIT_SHARE", 5)
	viper.SetDefault("RATE_LIMIT_SAVE", 20)
	viper.SetDefault("RATE_LIMIT_REPORT", 3)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DebounceMS < 0 {
		return errors.New("DEBOUNCE_MS must not be negative")
	}
	if c.QueueMaxRetries < 1 {
		return errors.New("QUEUE_MAX_RETRIES must be at least 1")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.FirestoreProject == "" {
			return errors.New("FIRESTORE_PROJECT is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else {
		// Development/Test warnings
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}
