package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string

	// InfluxDB
	InfluxURL          string
	InfluxToken        string
	InfluxOrg          string
	InfluxBucket       string // market-data bucket (ohlc_* measurements)
	InfluxSymbolBucket string // symbol_management bucket

	// Vendor feed endpoints (lookup/history + level-1 quote ports)
	FeedHost      string
	FeedQuotePort int
	FeedHistPort  int

	// Live ingestion
	DefaultBackfillMinutes int
	LiveWorkers            int

	// Global daily ingestion job (Eastern time)
	ScheduleHour   int
	ScheduleMinute int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		InfluxURL:          getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:        mustEnv("INFLUX_TOKEN"),
		InfluxOrg:          getEnv("INFLUX_ORG", "markets"),
		InfluxBucket:       getEnv("INFLUX_BUCKET", "market_data"),
		InfluxSymbolBucket: getEnv("INFLUX_SYMBOL_BUCKET", "symbol_management"),

		FeedHost:      getEnv("FEED_HOST", "localhost"),
		FeedQuotePort: getEnvInt("FEED_QUOTE_PORT", 5009),
		FeedHistPort:  getEnvInt("FEED_HIST_PORT", 9100),

		DefaultBackfillMinutes: getEnvInt("DEFAULT_BACKFILL_MINUTES", 120),
		LiveWorkers:            getEnvInt("LIVE_WORKERS", 4),

		ScheduleHour:   getEnvInt("SCHEDULE_HOUR", 20),
		ScheduleMinute: getEnvInt("SCHEDULE_MINUTE", 1),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
