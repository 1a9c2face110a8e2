package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent-beacon/backend/internal/session"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Registry  RegistryConfig  `yaml:"registry"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BrokerConfig struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RegistryConfig struct {
	FreshnessThreshold time.Duration `yaml:"freshness_threshold"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	HistoryCapacity    int           `yaml:"history_capacity"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	MaskSessionIDs  bool     `yaml:"mask_session_ids"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8385,
			Host: "127.0.0.1",
		},
		Broker: BrokerConfig{
			URL:            "tcp://127.0.0.1:1883",
			ClientID:       "agent-beacon",
			ConnectTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			FreshnessThreshold: session.DefaultFreshnessThreshold,
			GracePeriod:        session.DefaultGracePeriod,
			DedupWindow:        session.DefaultDedupWindow,
			SweepInterval:      30 * time.Second,
			HistoryCapacity:    session.DefaultHistoryCapacity,
		},
		Broadcast: BroadcastConfig{
			Throttle:         250 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to built-in
// defaults when it doesn't. Any other read or parse error is still fatal.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaults(), nil
	}
	return cfg, err
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Registry.HistoryCapacity < 0 {
		return fmt.Errorf("registry.history_capacity must not be negative")
	}
	return nil
}

// Policy converts the registry section into the registry's policy knobs.
func (r RegistryConfig) Policy() session.Policy {
	return session.Policy{
		FreshnessThreshold: r.FreshnessThreshold,
		GracePeriod:        r.GracePeriod,
		DedupWindow:        r.DedupWindow,
		HistoryCapacity:    r.HistoryCapacity,
	}
}

// Filter converts the privacy section into a broadcast privacy filter.
func (p PrivacyConfig) Filter() session.PrivacyFilter {
	return session.PrivacyFilter{
		MaskWorkingDirs: p.MaskWorkingDirs,
		MaskSessionIDs:  p.MaskSessionIDs,
		AllowedPaths:    p.AllowedPaths,
		BlockedPaths:    p.BlockedPaths,
	}
}

// Diff returns human-readable descriptions of the settings that changed
// between two configs. Used to log what a live reload actually did.
func (c *Config) Diff(next *Config) []string {
	var changes []string

	add := func(field string, old, new interface{}) {
		changes = append(changes, fmt.Sprintf("%s: %v -> %v", field, old, new))
	}

	if c.Server.Port != next.Server.Port {
		add("server.port", c.Server.Port, next.Server.Port)
	}
	if c.Server.Host != next.Server.Host {
		add("server.host", c.Server.Host, next.Server.Host)
	}
	if c.Server.AuthToken != next.Server.AuthToken {
		changes = append(changes, "server.auth_token: changed")
	}
	if c.Broker.URL != next.Broker.URL {
		add("broker.url", c.Broker.URL, next.Broker.URL)
	}
	if c.Registry.FreshnessThreshold != next.Registry.FreshnessThreshold {
		add("registry.freshness_threshold", c.Registry.FreshnessThreshold, next.Registry.FreshnessThreshold)
	}
	if c.Registry.GracePeriod != next.Registry.GracePeriod {
		add("registry.grace_period", c.Registry.GracePeriod, next.Registry.GracePeriod)
	}
	if c.Registry.DedupWindow != next.Registry.DedupWindow {
		add("registry.dedup_window", c.Registry.DedupWindow, next.Registry.DedupWindow)
	}
	if c.Registry.SweepInterval != next.Registry.SweepInterval {
		add("registry.sweep_interval", c.Registry.SweepInterval, next.Registry.SweepInterval)
	}
	if c.Registry.HistoryCapacity != next.Registry.HistoryCapacity {
		add("registry.history_capacity", c.Registry.HistoryCapacity, next.Registry.HistoryCapacity)
	}
	if c.Broadcast.Throttle != next.Broadcast.Throttle {
		add("broadcast.throttle", c.Broadcast.Throttle, next.Broadcast.Throttle)
	}
	if c.Broadcast.SnapshotInterval != next.Broadcast.SnapshotInterval {
		add("broadcast.snapshot_interval", c.Broadcast.SnapshotInterval, next.Broadcast.SnapshotInterval)
	}
	if c.Privacy.MaskWorkingDirs != next.Privacy.MaskWorkingDirs {
		add("privacy.mask_working_dirs", c.Privacy.MaskWorkingDirs, next.Privacy.MaskWorkingDirs)
	}
	if c.Privacy.MaskSessionIDs != next.Privacy.MaskSessionIDs {
		add("privacy.mask_session_ids", c.Privacy.MaskSessionIDs, next.Privacy.MaskSessionIDs)
	}
	if !equalStrings(c.Privacy.AllowedPaths, next.Privacy.AllowedPaths) {
		add("privacy.allowed_paths", c.Privacy.AllowedPaths, next.Privacy.AllowedPaths)
	}
	if !equalStrings(c.Privacy.BlockedPaths, next.Privacy.BlockedPaths) {
		add("privacy.blocked_paths", c.Privacy.BlockedPaths, next.Privacy.BlockedPaths)
	}

	return changes
}

// GenerateToken returns a random hex token for ad-hoc auth when the
// config does not pin one.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
