package server

import (
	"fmt"
	"time"
)

// Config holds the probe server settings
type Config struct {
	UDP   UDPConfig   `yaml:"udp"`
	Stats StatsConfig `yaml:"stats"`
}

// UDPConfig holds UDP exchange settings
type UDPConfig struct {
	// PerPeer keys tracker state by peer address instead of sharing one
	// session across the whole socket
	PerPeer bool          `yaml:"per_peer"`
	PeerTTL time.Duration `yaml:"peer_ttl"`
}

// StatsConfig holds the IAT jitter window settings
type StatsConfig struct {
	MaxSamples int     `yaml:"max_samples"`
	MaxSpread  float64 `yaml:"max_spread"`
}

// MonitorConfig holds the live feed settings
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		UDP: UDPConfig{
			PerPeer: false,
			PeerTTL: time.Minute,
		},
		Stats: StatsConfig{
			MaxSamples: 1000,
			MaxSpread:  3,
		},
	}
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Stats.MaxSamples < 0 {
		return fmt.Errorf("max_samples cannot be negative")
	}
	if c.Stats.MaxSpread < 0 {
		return fmt.Errorf("max_spread cannot be negative")
	}
	if c.UDP.PeerTTL < 0 {
		return fmt.Errorf("peer_ttl cannot be negative")
	}
	if c.Stats.MaxSamples == 0 {
		c.Stats.MaxSamples = 1000
	}
	if c.Stats.MaxSpread == 0 {
		c.Stats.MaxSpread = 3
	}
	if c.UDP.PeerTTL == 0 {
		c.UDP.PeerTTL = time.Minute
	}
	if c.UDP.PeerTTL < time.Millisecond {
		return fmt.Errorf("peer_ttl must be at least 1ms, got %v", c.UDP.PeerTTL)
	}
	return nil
}
