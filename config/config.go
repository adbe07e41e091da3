package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"ti-systemv1/internal/model"
)

// Config holds the feed simulator configuration loaded from environment
// variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	FeedAddr      string

	// Series specs (comma-separated SYMBOL[:BASE[:STEP]], e.g.
	// "WAVE_A:100,WAVE_B:2500:12")
	SeriesSpecs string

	// Sample cadence
	IntervalMs int

	// Seed for the walk generator; 0 means time-seeded
	Seed int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	intervalMs, _ := strconv.Atoi(getEnv("FEED_INTERVAL_MS", "250"))
	if intervalMs <= 0 {
		intervalMs = 250
	}
	seed, _ := strconv.ParseInt(getEnv("FEED_SEED", "0"), 10, 64)

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		FeedAddr:      getEnv("FEED_ADDR", ":9001"),

		// Default: three series at different levels
		SeriesSpecs: getEnv("FEED_SERIES", "WAVE_A:100,WAVE_B:2500,WAVE_C:40"),

		IntervalMs: intervalMs,
		Seed:       seed,
	}
}

// ParseSeries parses the SeriesSpecs string into series descriptors. STEP
// defaults to 0.5% of BASE when omitted.
func (c *Config) ParseSeries() []model.SeriesInfo {
	var series []model.SeriesInfo
	for _, part := range strings.Split(c.SeriesSpecs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.Split(part, ":")
		symbol := strings.TrimSpace(seg[0])
		if symbol == "" {
			log.Printf("[config] skipping invalid series spec: %q", part)
			continue
		}

		base := 100.0
		if len(seg) > 1 {
			v, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 32)
			if err != nil || v <= 0 {
				log.Printf("[config] skipping invalid series spec: %q", part)
				continue
			}
			base = v
		}

		step := base * 0.005
		if len(seg) > 2 {
			v, err := strconv.ParseFloat(strings.TrimSpace(seg[2]), 32)
			if err != nil || v <= 0 {
				log.Printf("[config] skipping invalid series spec: %q", part)
				continue
			}
			step = v
		}

		series = append(series, model.SeriesInfo{
			Symbol:      symbol,
			Description: "simulated random-walk series",
			Source:      "feedsim",
			BaseValue:   float32(base),
			StepLimit:   float32(step),
		})
	}
	return series
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
