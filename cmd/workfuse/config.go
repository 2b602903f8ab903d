package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all workfuse runtime configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	Parallelism     int    `json:"parallelism"`
	LeaseTTL        string `json:"lease_ttl"`
	NodeTimeout     string `json:"node_timeout"`
	AIBaseURL       string `json:"ai_base_url"`
	AIAPIKey        string `json:"ai_api_key"`
	AIModel         string `json:"ai_model"`
	VaultPassphrase string `json:"vault_passphrase"`
	VaultSalt       string `json:"vault_salt"`
	Scheduler       bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(workfuseDir(), "workfuse.db"),
		LogLevel:    "info",
		Parallelism: 4,
		LeaseTTL:    "30s",
		NodeTimeout: "60s",
		AIBaseURL:   "https://api.openai.com/v1",
		AIModel:     "gpt-4o-mini",
		VaultSalt:   "workfuse-vault-v1",
		Scheduler:   true,
	}
}

func workfuseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".workfuse"
	}
	return filepath.Join(home, ".workfuse")
}

func settingsPath() string {
	return filepath.Join(workfuseDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WORKFUSE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WORKFUSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WORKFUSE_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Parallelism = n
		}
	}
	if v := os.Getenv("WORKFUSE_LEASE_TTL"); v != "" {
		cfg.LeaseTTL = v
	}
	if v := os.Getenv("WORKFUSE_NODE_TIMEOUT"); v != "" {
		cfg.NodeTimeout = v
	}
	if v := os.Getenv("WORKFUSE_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	if v := os.Getenv("WORKFUSE_AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("WORKFUSE_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("WORKFUSE_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("WORKFUSE_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("WORKFUSE_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

func (c Config) leaseTTL() time.Duration {
	if d, err := time.ParseDuration(c.LeaseTTL); err == nil {
		return d
	}
	return 30 * time.Second
}

func (c Config) nodeTimeout() time.Duration {
	if d, err := time.ParseDuration(c.NodeTimeout); err == nil {
		return d
	}
	return 60 * time.Second
}
