package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string
	HTTPPort         int

	ProviderBaseURL  string
	ProviderUser     string
	ProviderPassword string

	RefreshAt         string
	BackfillDays      int
	RefreshWindowDays int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ProviderBaseURL:  strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL")),
		ProviderUser:     os.Getenv("PROVIDER_USER"),
		ProviderPassword: os.Getenv("PROVIDER_PASSWORD"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.ProviderBaseURL == "" {
		log.Println("Warning: PROVIDER_BASE_URL not set, defaulting to http://localhost:8765")
		cfg.ProviderBaseURL = "http://localhost:8765"
	}
	if cfg.ProviderUser == "" {
		cfg.ProviderUser = "anonymous"
	}
	if cfg.ProviderPassword == "" {
		cfg.ProviderPassword = "123456"
	}

	cfg.HTTPPort = 8080
	if v := strings.TrimSpace(os.Getenv("HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	cfg.RefreshAt = "02:00"
	if v := strings.TrimSpace(os.Getenv("REFRESH_AT")); v != "" {
		if _, err := time.Parse("15:04", v); err == nil {
			cfg.RefreshAt = v
		} else {
			log.Printf("Warning: invalid REFRESH_AT=%q, defaulting to 02:00", v)
		}
	}

	cfg.BackfillDays = 365
	if v := strings.TrimSpace(os.Getenv("BACKFILL_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BackfillDays = n
		}
	}

	cfg.RefreshWindowDays = 30
	if v := strings.TrimSpace(os.Getenv("REFRESH_WINDOW_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RefreshWindowDays = n
		}
	}

	cfg.RetryMaxAttempts = 3
	if v := strings.TrimSpace(os.Getenv("RETRY_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryMaxAttempts = n
		}
	}

	cfg.RetryBaseDelay = 2 * time.Second
	if v := strings.TrimSpace(os.Getenv("RETRY_BASE_DELAY_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryBaseDelay = time.Duration(n) * time.Second
		}
	}

	return cfg
}
