package dispatch

import (
	"fmt"
	"os"
	"time"

	"github.com/iat-probe/internal/client"
	"github.com/iat-probe/internal/server"
	"gopkg.in/yaml.v3"
)

// Config holds the probe configuration
type Config struct {
	Server  server.Config        `yaml:"server"`
	Client  client.Config        `yaml:"client"`
	Monitor server.MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig        `yaml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: *server.DefaultConfig(),
		Client: *client.DefaultConfig(),
		Monitor: server.MonitorConfig{
			ListenAddr: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Custom unmarshaler for duration fields
	type rawConfig struct {
		Server struct {
			UDP struct {
				PerPeer bool   `yaml:"per_peer"`
				PeerTTL string `yaml:"peer_ttl"`
			} `yaml:"udp"`
			Stats server.StatsConfig `yaml:"stats"`
		} `yaml:"server"`
		Client struct {
			ConnectTimeout  string `yaml:"connect_timeout"`
			ResponseTimeout string `yaml:"response_timeout"`
			SendInterval    string `yaml:"send_interval"`
		} `yaml:"client"`
		Monitor server.MonitorConfig `yaml:"monitor"`
		Logging LoggingConfig        `yaml:"logging"`
	}

	var raw rawConfig
	raw.Server.Stats = config.Server.Stats
	raw.Logging = config.Logging
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Server.UDP.PerPeer = raw.Server.UDP.PerPeer
	config.Server.Stats = raw.Server.Stats
	config.Monitor = raw.Monitor
	config.Logging = raw.Logging

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"peer_ttl", raw.Server.UDP.PeerTTL, &config.Server.UDP.PeerTTL},
		{"connect_timeout", raw.Client.ConnectTimeout, &config.Client.ConnectTimeout},
		{"response_timeout", raw.Client.ResponseTimeout, &config.Client.ResponseTimeout},
		{"send_interval", raw.Client.SendInterval, &config.Client.SendInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	case "":
		c.Logging.Level = "info"
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
