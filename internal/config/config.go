package config

import (
	"os"
	"strconv"
)

// Config is loaded from the environment once at startup; main loads .env
// beforehand via godotenv.
type Config struct {
	Addr   string
	DBPath string

	CollectorMode string
	UserAgent     string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string

	// RateLimitPerMinute is the shared request budget. Reddit documents
	// 60/min; the bucket is a knob rather than adaptive because the API does
	// not reliably advertise its limits.
	RateLimitPerMinute int
	// FacetParallelism bounds concurrent facets within one job.
	FacetParallelism int
}

func Load() Config {
	return Config{
		Addr:               getenv("TRENDIT_ADDR", ":8080"),
		DBPath:             getenv("TRENDIT_DB_PATH", "data/trendit.db"),
		CollectorMode:      getenv("COLLECTOR_MODE", "mock"),
		UserAgent:          os.Getenv("REDDIT_USER_AGENT"),
		ClientID:           os.Getenv("REDDIT_CLIENT_ID"),
		ClientSecret:       os.Getenv("REDDIT_CLIENT_SECRET"),
		Username:           os.Getenv("REDDIT_USERNAME"),
		Password:           os.Getenv("REDDIT_PASSWORD"),
		RateLimitPerMinute: getenvInt("RATE_LIMIT_PER_MINUTE", 60),
		FacetParallelism:   getenvInt("FACET_PARALLELISM", 1),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
