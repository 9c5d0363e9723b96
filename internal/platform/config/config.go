package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Tracker modes.
const (
	TrackerPoll   = "poll"
	TrackerStream = "stream"
)

// Config is the service configuration resolved from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration

	PollInterval   time.Duration
	TrackerMode    string
	TrailWindow    int
	JobFeedEnabled bool
	SharesEnabled  bool

	SessionIdleTTL time.Duration
	MaxSurfacePx   int
}

// FromEnv reads Config from the environment, applying defaults.
// An unknown TRACKER_MODE falls back to polling, and a non-positive
// MAX_SURFACE_PX to the default.
func FromEnv() Config {
	c := Config{
		Port:           GetEnv("PORT", "8080"),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		LogFormat:      GetEnv("LOG_FORMAT", "json"),
		BackendURL:     GetEnv("BACKEND_URL", "http://localhost:8000/api"),
		BackendAPIKey:  GetEnv("BACKEND_API_KEY", ""),
		BackendTimeout: GetEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		PollInterval:   GetEnvDuration("POLL_INTERVAL", 2*time.Second),
		TrackerMode:    strings.ToLower(GetEnv("TRACKER_MODE", TrackerPoll)),
		TrailWindow:    GetEnvInt("TRAIL_WINDOW", 30),
		JobFeedEnabled: GetEnvBool("JOB_FEED_ENABLED", true),
		SharesEnabled:  GetEnvBool("SHARES_ENABLED", true),
		SessionIdleTTL: GetEnvDuration("SESSION_IDLE_TTL", 2*time.Minute),
		MaxSurfacePx:   GetEnvInt("MAX_SURFACE_PX", 4096),
	}
	if c.TrackerMode != TrackerStream {
		c.TrackerMode = TrackerPoll
	}
	if c.MaxSurfacePx <= 0 {
		c.MaxSurfacePx = 4096
	}
	return c
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses values like "1500ms" or "2s". A bare integer is read
// as seconds. Invalid or non-positive values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n > 0 {
			return time.Duration(n) * time.Second
		}
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

// GetEnvBool accepts the forms understood by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
