package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceProfile tunes the engine for one device class. Profiles live
// as profile_<name>.yaml files, e.g. profile_watch.yaml. Durations are
// stored as millisecond integers.
type DeviceProfile struct {
	Name                 string  `yaml:"name" json:"name"`
	SyncIntervalMs       int     `yaml:"sync_interval_ms" json:"sync_interval_ms"`
	BackoffBaseMs        int     `yaml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffMaxMs         int     `yaml:"backoff_max_ms" json:"backoff_max_ms"`
	RequestTimeoutMs     int     `yaml:"request_timeout_ms" json:"request_timeout_ms"`
	MaxRetries           int     `yaml:"max_retries" json:"max_retries"`
	HeartRateStalenessMs int     `yaml:"heart_rate_staleness_ms" json:"heart_rate_staleness_ms"`
	SensorRateLimit      float64 `yaml:"sensor_rate_limit" json:"sensor_rate_limit"`
	SensorRateBurst      int     `yaml:"sensor_rate_burst" json:"sensor_rate_burst"`
}

// DefaultProfile returns watch-class tuning used when no profile file
// exists.
func DefaultProfile() *DeviceProfile {
	return &DeviceProfile{
		Name:                 "watch",
		SyncIntervalMs:       60_000,
		BackoffBaseMs:        500,
		BackoffMaxMs:         30_000,
		RequestTimeoutMs:     10_000,
		MaxRetries:           3,
		HeartRateStalenessMs: 30_000,
		SensorRateLimit:      10,
		SensorRateBurst:      20,
	}
}

// SyncInterval returns the periodic sync cadence.
func (p *DeviceProfile) SyncInterval() time.Duration {
	return time.Duration(p.SyncIntervalMs) * time.Millisecond
}

// BackoffBase returns the first reconnect delay.
func (p *DeviceProfile) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the reconnect delay ceiling.
func (p *DeviceProfile) BackoffMax() time.Duration {
	return time.Duration(p.BackoffMaxMs) * time.Millisecond
}

// RequestTimeout returns the per-exchange deadline.
func (p *DeviceProfile) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMs) * time.Millisecond
}

// HeartRateStaleness returns the live-reading staleness window.
func (p *DeviceProfile) HeartRateStaleness() time.Duration {
	return time.Duration(p.HeartRateStalenessMs) * time.Millisecond
}

// LoadProfile loads the device profile YAML by name from profilesDir.
// Fields absent from the file keep their defaults.
func LoadProfile(profilesDir, name string) (*DeviceProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return profile, nil
}

// LoadProfileOrDefault loads the named profile, falling back to the
// built-in defaults when the file does not exist.
func LoadProfileOrDefault(profilesDir, name string) *DeviceProfile {
	p, err := LoadProfile(profilesDir, name)
	if err != nil {
		return DefaultProfile()
	}
	return p
}
