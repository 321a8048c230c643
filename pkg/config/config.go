// Package config loads engine configuration: process-level settings
// from environment variables and per-device tuning from a YAML profile.
package config

import "os"

// Config holds process-level settings.
type Config struct {
	LogLevel       string
	DeviceID       string
	PeerURL        string
	PairingSecret  string
	StorageBackend string // "sqlite" | "redis"
	StoragePath    string
	RedisAddr      string
	OTLPEndpoint   string
	ProfileDir     string
}

// Load reads configuration from environment variables with defaults
// suitable for a local loopback run.
func Load() *Config {
	return &Config{
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DeviceID:       getenv("DEVICE_ID", "wearsync-dev"),
		PeerURL:        os.Getenv("PEER_URL"),
		PairingSecret:  os.Getenv("PAIRING_SECRET"),
		StorageBackend: getenv("STORAGE_BACKEND", "sqlite"),
		StoragePath:    getenv("STORAGE_PATH", "wearsync.db"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		ProfileDir:     getenv("PROFILE_DIR", "profiles"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
