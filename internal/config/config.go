// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the server reads at startup. Zero values
// are never used directly; Load applies defaults and clamps.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	DataDir  string `envconfig:"DATA_DIR" default:"server/data"`
	DBPath   string `envconfig:"DB_PATH"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`

	PageSize     int `envconfig:"STEAM_PAGE_SIZE" default:"30"`
	MaxAutoLimit int `envconfig:"STEAM_MAX_AUTO_LIMIT" default:"1200"`
	RateMs       int `envconfig:"STEAM_RATE_MS" default:"3000"`
	RateMinMs    int `envconfig:"STEAM_RATE_MIN_MS" default:"1200"`
	RateMaxMs    int `envconfig:"STEAM_RATE_MAX_MS" default:"12000"`

	SyncQueue       string `envconfig:"CATALOG_SYNC_QUEUE" default:"catalog-sync"`
	SyncConcurrency int    `envconfig:"CATALOG_SYNC_CONCURRENCY" default:"1"`

	FloatSourceURL string `envconfig:"SKIN_FLOAT_SOURCE_URL" default:"https://raw.githubusercontent.com/ByMykel/CSGO-API/main/public/api/en/skins.json"`

	BuyerToNetRate float64 `envconfig:"BUYER_TO_NET_RATE" default:"1.15"`
}

// Load reads the environment and normalises every value into its
// documented range.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.normalize()
	return c, nil
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	c := Config{
		Port:            8080,
		LogLevel:        "info",
		DataDir:         "server/data",
		RedisURL:        "redis://localhost:6379",
		PageSize:        30,
		MaxAutoLimit:    1200,
		RateMs:          3000,
		RateMinMs:       1200,
		RateMaxMs:       12000,
		SyncQueue:       "catalog-sync",
		SyncConcurrency: 1,
		FloatSourceURL:  "https://raw.githubusercontent.com/ByMykel/CSGO-API/main/public/api/en/skins.json",
		BuyerToNetRate:  1.15,
	}
	c.normalize()
	return c
}

func (c *Config) normalize() {
	c.PageSize = clampInt(c.PageSize, 20, 80)
	c.MaxAutoLimit = clampInt(c.MaxAutoLimit, 500, 5000)
	if c.RateMs < 800 {
		c.RateMs = 800
	}
	if c.RateMinMs < 800 {
		c.RateMinMs = 800
	}
	if c.RateMaxMs < c.RateMinMs+500 {
		c.RateMaxMs = c.RateMinMs + 500
	}
	if c.SyncConcurrency < 1 {
		c.SyncConcurrency = 1
	}
	if c.SyncQueue == "" {
		c.SyncQueue = "catalog-sync"
	}
	if c.BuyerToNetRate <= 1 {
		c.BuyerToNetRate = 1.15
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
