package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
	// RoomTTL is a Go duration string; rooms older than it are closed and
	// their subscribers revoked. Empty or "0" disables expiry.
	RoomTTL  string `yaml:"room_ttl"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Addr = ":8080"
	cfg.LogLevel = "info"
	cfg.RoomTTL = "24h"
	return cfg
}

// loadConfig reads the optional yaml file, then applies environment
// overrides so deployments can configure without a file at all.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Addr = getEnv("RELAY_ADDR", cfg.Addr)
	cfg.LogLevel = getEnv("RELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.RoomTTL = getEnv("RELAY_ROOM_TTL", cfg.RoomTTL)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
