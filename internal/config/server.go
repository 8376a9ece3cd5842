package config

import (
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database. Empty keeps conversations in memory.
	DatabaseURL string

	// Redis. Empty rate limits in process.
	RedisURL string

	// JWT
	JWTSecret string

	// Assistant. An empty GeminiAPIKey selects the echo assistant.
	GeminiAPIKey            string
	GeminiModel             string
	AssistantRequestsPerMin int
	HistoryContextLimit     int

	// Chat socket rate limiting
	ChatRateLimit  int
	ChatRateWindow time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                    getEnvOrDefault("PORT", "8000"),
		Env:                     getEnvOrDefault("ENV", "development"),
		LogLevel:                getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:             getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:                getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:               mustGetEnv("JWT_SECRET"),
		GeminiAPIKey:            getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:             getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		AssistantRequestsPerMin: getEnvAsIntOrDefault("ASSISTANT_REQUESTS_PER_MIN", 30),
		HistoryContextLimit:     getEnvAsIntOrDefault("HISTORY_CONTEXT_LIMIT", 50),
		ChatRateLimit:           getEnvAsIntOrDefault("CHAT_RATE_LIMIT", 20),
		ChatRateWindow:          time.Duration(getEnvAsIntOrDefault("CHAT_RATE_WINDOW_SECONDS", 60)) * time.Second,
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
