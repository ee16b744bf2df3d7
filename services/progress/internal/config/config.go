package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TickSubject is the JetStream subject carrying playback progress ticks.
const TickSubject = "progress.ticks"

// Config holds progress-service specific settings.
type Config struct {
	// CompletionThresholdPercent in (0,100]; the watched percentage at which
	// a lesson counts as completed.
	CompletionThresholdPercent float64
	// RedisDSN enables the lesson-set cache when non-empty.
	RedisDSN string
	// LessonSetTTL bounds staleness of cached course structure.
	LessonSetTTL time.Duration
	// WorkerBatchSize / WorkerBatchInterval tune the tick consumer.
	WorkerBatchSize     int
	WorkerBatchInterval time.Duration
}

// Load reads the service configuration from the environment.
func Load() Config {
	cfg := Config{
		CompletionThresholdPercent: envFloat("COMPLETION_THRESHOLD_PERCENT", 95),
		RedisDSN:                   strings.TrimSpace(os.Getenv("REDIS_DSN")),
		LessonSetTTL:               envDuration("LESSON_SET_CACHE_TTL", 5*time.Minute),
		WorkerBatchSize:            envInt("WORKER_BATCH_SIZE", 100),
		WorkerBatchInterval:        envDuration("WORKER_BATCH_INTERVAL", 2*time.Second),
	}
	if cfg.CompletionThresholdPercent <= 0 || cfg.CompletionThresholdPercent > 100 {
		cfg.CompletionThresholdPercent = 95
	}
	return cfg
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
