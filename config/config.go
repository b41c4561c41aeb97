package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port                int
	OpenAIKey           string // empty disables all vendor-dependent functionality
	DefaultInstructions string
	RealtimeURL         string
	RealtimeModel       string
	RedisURL            string
	RedisPassword       string
	MaxSessions         int
	SessionTimeout      time.Duration
	AllowedOrigins      []string
	StaticDir           string
}

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:                3001,
		DefaultInstructions: "You are a helpful, concise voice assistant. Keep responses brief and natural for voice conversation.",
		RealtimeURL:         "wss://api.openai.com/v1/realtime",
		RealtimeModel:       "gpt-4o-realtime-preview",
		RedisURL:            "localhost:6379",
		RedisPassword:       "",
		MaxSessions:         100,
		SessionTimeout:      30 * time.Minute,
		AllowedOrigins:      []string{"*"},
		StaticDir:           "./public",
	}

	// OPENAI_API_KEY is optional: without it the server still starts and
	// serves static assets, but every vendor-dependent request fails.
	config.OpenAIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if config.OpenAIKey == "" {
		log.Println("⚠️  OPENAI_API_KEY is missing. Vendor-dependent endpoints are disabled.")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: DEFAULT_INSTRUCTIONS
	if instructions := os.Getenv("DEFAULT_INSTRUCTIONS"); instructions != "" {
		config.DefaultInstructions = instructions
	}

	// Optional: REALTIME_URL (used by tests and proxies)
	if url := os.Getenv("REALTIME_URL"); url != "" {
		config.RealtimeURL = url
	}

	// Optional: REALTIME_MODEL
	if model := os.Getenv("REALTIME_MODEL"); model != "" {
		config.RealtimeModel = model
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: STATIC_DIR
	if staticDir := os.Getenv("STATIC_DIR"); staticDir != "" {
		config.StaticDir = staticDir
	}

	return config, nil
}
