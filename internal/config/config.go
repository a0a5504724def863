// Package config loads process configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string

	// AdminIDs gates /admin and /stats. Parsed from a comma-separated list
	// or a single integer.
	AdminIDs []int64

	DatabasePath string

	// VKAppID / VKRedirectURI are shown to users as OAuth-style credential
	// acquisition hints; the bot itself only consumes community tokens.
	VKAppID       string
	VKRedirectURI string

	LogLevel string

	PublishWorkers    int
	PublishRatePerSec int
	PollTimeout       time.Duration
}

// Load reads the environment (after best-effort .env loading) and validates
// the required settings. A missing bot token is fatal.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BotToken:      strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		DatabasePath:  strings.TrimSpace(os.Getenv("DATABASE_PATH")),
		VKAppID:       strings.TrimSpace(os.Getenv("VK_APP_ID")),
		VKRedirectURI: strings.TrimSpace(os.Getenv("VK_REDIRECT_URI")),
		LogLevel:      strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}
	if cfg.BotToken == "" {
		return Config{}, errors.New("BOT_TOKEN is required")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./postbot.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	ids, err := ParseAdminIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return Config{}, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	cfg.AdminIDs = ids

	cfg.PublishWorkers, err = intEnv("PUBLISH_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	cfg.PublishRatePerSec, err = intEnv("PUBLISH_RATE_PER_SEC", 10)
	if err != nil {
		return Config{}, err
	}

	cfg.PollTimeout = 10 * time.Second
	if v := strings.TrimSpace(os.Getenv("POLL_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("POLL_TIMEOUT: %w", err)
		}
		cfg.PollTimeout = d
	}

	return cfg, nil
}

// ParseAdminIDs accepts "1,2,3" or a bare "42"; whitespace and empty items
// are ignored.
func ParseAdminIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}

// IsAdmin reports whether the user id is in the configured admin list.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
