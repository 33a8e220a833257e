package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	JWTSecret    string
	AuthRequired bool

	// Monitoring
	IdleThreshold     time.Duration
	CheckInterval     time.Duration
	RetentionDays     int
	WebSocketEnabled  bool
	RateLimitPerMin   int
	MaxStoredSessions int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		AuthRequired: getEnvAsBoolOrDefault("AUTH_REQUIRED", false),

		IdleThreshold:     time.Duration(getEnvAsIntOrDefault("IDLE_THRESHOLD_SECONDS", 3)) * time.Second,
		CheckInterval:     time.Duration(getEnvAsIntOrDefault("ACTIVITY_CHECK_INTERVAL_MS", 100)) * time.Millisecond,
		RetentionDays:     getEnvAsIntOrDefault("ACTIVITY_LOG_RETENTION_DAYS", 30),
		WebSocketEnabled:  getEnvAsBoolOrDefault("WEBSOCKET_ENABLED", true),
		RateLimitPerMin:   getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 60),
		MaxStoredSessions: getEnvAsIntOrDefault("MAX_STORED_SESSIONS", 10000),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
