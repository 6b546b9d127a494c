package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Telegram Bot configuration
	BotToken string

	// Storage configuration
	StorageDriver string
	DataDir       string
	DatabaseURL   string

	// OpenAI configuration
	OpenAIAPIBase string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Application configuration
	Timezone        string
	PollExpireHours int
	SessionTTL      time.Duration
	HealthAddr      string
	LogLevel        string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{}

	// Required configurations
	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable is required")
	}
	cfg.BotToken = botToken

	cfg.StorageDriver = getEnvWithDefault("STORAGE_DRIVER", "badger")
	cfg.DataDir = getEnvWithDefault("DATA_DIR", "./data")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.StorageDriver {
	case "badger", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	// OpenAI is optional; without a key announcements use the built-in template
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIAPIBase = getEnvWithDefault("OPENAI_API_BASE", "https://api.openai.com/v1")
	cfg.OpenAIModel = getEnvWithDefault("OPENAI_MODEL", "gpt-3.5-turbo")

	cfg.Timezone = getEnvWithDefault("TIMEZONE", "Asia/Tokyo")
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	cfg.PollExpireHours, err = strconv.Atoi(getEnvWithDefault("POLL_EXPIRE_HOURS", "24"))
	if err != nil || cfg.PollExpireHours < 0 {
		return nil, fmt.Errorf("POLL_EXPIRE_HOURS must be a non-negative integer")
	}

	cfg.SessionTTL, err = time.ParseDuration(getEnvWithDefault("SESSION_TTL", "30m"))
	if err != nil || cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be a positive duration")
	}

	// An explicitly empty HEALTH_ADDR disables the health server
	if addr, ok := os.LookupEnv("HEALTH_ADDR"); ok {
		cfg.HealthAddr = addr
	} else {
		cfg.HealthAddr = ":3000"
	}

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	log.Printf("Configuration loaded: %+v", cfg.Redacted())
	return cfg, nil
}

// Location returns the configured time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Redacted returns a copy that is safe to log
func (c *Config) Redacted() Config {
	logCfg := *c
	logCfg.BotToken = redact(logCfg.BotToken)
	logCfg.OpenAIAPIKey = redact(logCfg.OpenAIAPIKey)
	logCfg.DatabaseURL = redact(logCfg.DatabaseURL)
	return logCfg
}

func redact(secret string) string {
	if len(secret) > 8 {
		return secret[:8] + "...REDACTED..."
	}
	if secret != "" {
		return "...REDACTED..."
	}
	return ""
}

// getEnvWithDefault returns the value of the environment variable or the default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
