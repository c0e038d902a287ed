package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	RoundMode     string
	TurnDuration  time.Duration
	SweepInterval time.Duration
	WriteQueue    int
	CORSOrigins   []string
	ExportEnabled bool
	ExportFile    string
	LogLevel      string
	LogJSON       bool
}

// Load reads a .env file if present, then the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	c.RoundMode = getenv("ROUND_MODE", "simultaneous")
	c.TurnDuration = time.Duration(getint("TURN_SECONDS", 40)) * time.Second
	c.SweepInterval = getduration("SWEEP_INTERVAL", 2*time.Second)
	c.WriteQueue = getint("WRITE_QUEUE", 1024)
	c.CORSOrigins = splitList(getenv("CORS_ORIGINS", "*"))
	c.ExportEnabled = getenv("EXPORT_ENABLED", "false") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./hueduel-results.txt")
	c.LogLevel = getenv("LOG_LEVEL", "info")
	c.LogJSON = getenv("LOG_JSON", "false") == "true"
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getduration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
