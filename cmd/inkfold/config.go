package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML service configuration. Environment variables
// override file values, flags override both.
type fileConfig struct {
	Port          string `yaml:"port"`
	UploadDir     string `yaml:"upload_dir"`
	HistoryDB     string `yaml:"history_db"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Ceiling       int    `yaml:"ceiling"`
	EventBuffer   int    `yaml:"event_buffer"`
	AuthUser      string `yaml:"auth_user"`
	AuthPassHash  string `yaml:"auth_pass_hash"`

	// RateLimit caps submissions (POST /files, POST /convert) per client IP
	// per minute. 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Port:          "8080",
		UploadDir:     "uploads",
		HistoryDB:     "db/history.db",
		MaxConcurrent: 3,
		Ceiling:       3,
		EventBuffer:   500,
	}
}

// loadConfig reads path (if non-empty and present) over the defaults, then
// applies environment overrides.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Port = env("PORT", cfg.Port)
	cfg.UploadDir = env("UPLOAD_DIR", cfg.UploadDir)
	cfg.HistoryDB = env("HISTORY_DB", cfg.HistoryDB)
	cfg.AuthUser = env("AUTH_USER", cfg.AuthUser)
	cfg.AuthPassHash = env("AUTH_PASS_HASH", cfg.AuthPassHash)
	cfg.MaxConcurrent = envInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.Ceiling = envInt("CEILING", cfg.Ceiling)
	cfg.RateLimit = envInt("RATE_LIMIT", cfg.RateLimit)

	return cfg, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
