package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Client.ResponseTimeout != 5*time.Second {
		t.Errorf("expected default response timeout 5s, got %v", config.Client.ResponseTimeout)
	}
	if config.Server.UDP.PerPeer {
		t.Error("expected shared UDP session by default")
	}
	if config.Monitor.ListenAddr != "" {
		t.Errorf("expected monitor disabled by default, got %s", config.Monitor.ListenAddr)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected default log level 'info', got %s", config.Logging.Level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty log level gets default",
			mutate:  func(c *Config) { c.Logging.Level = "" },
			wantErr: false,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "negative response timeout",
			mutate:  func(c *Config) { c.Client.ResponseTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative stats window",
			mutate:  func(c *Config) { c.Server.Stats.MaxSamples = -5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "iatprobe.yaml")

	configContent := `
server:
  udp:
    per_peer: true
    peer_ttl: "30s"
  stats:
    max_samples: 200

client:
  connect_timeout: "2s"
  response_timeout: "1500ms"
  send_interval: "10ms"

monitor:
  listen_addr: "127.0.0.1:9100"

logging:
  level: "debug"
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !config.Server.UDP.PerPeer {
		t.Error("expected per-peer UDP sessions")
	}
	if config.Server.UDP.PeerTTL != 30*time.Second {
		t.Errorf("expected peer TTL 30s, got %v", config.Server.UDP.PeerTTL)
	}
	if config.Server.Stats.MaxSamples != 200 {
		t.Errorf("expected max samples 200, got %d", config.Server.Stats.MaxSamples)
	}
	if config.Server.Stats.MaxSpread != 3 {
		t.Errorf("expected default max spread 3, got %v", config.Server.Stats.MaxSpread)
	}
	if config.Client.ConnectTimeout != 2*time.Second {
		t.Errorf("expected connect timeout 2s, got %v", config.Client.ConnectTimeout)
	}
	if config.Client.ResponseTimeout != 1500*time.Millisecond {
		t.Errorf("expected response timeout 1.5s, got %v", config.Client.ResponseTimeout)
	}
	if config.Client.SendInterval != 10*time.Millisecond {
		t.Errorf("expected send interval 10ms, got %v", config.Client.SendInterval)
	}
	if config.Monitor.ListenAddr != "127.0.0.1:9100" {
		t.Errorf("expected monitor addr '127.0.0.1:9100', got %s", config.Monitor.ListenAddr)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", config.Logging.Level)
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Client.ResponseTimeout != 5*time.Second {
		t.Errorf("expected defaults, got response timeout %v", config.Client.ResponseTimeout)
	}
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	err := os.WriteFile(configPath, []byte("monitor:\n  listen_addr: \":9100\"\n"), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if config.Server.UDP.PeerTTL != time.Minute {
		t.Errorf("expected default peer TTL, got %v", config.Server.UDP.PeerTTL)
	}
	if config.Server.Stats.MaxSamples != 1000 {
		t.Errorf("expected default max samples, got %d", config.Server.Stats.MaxSamples)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected default log level, got %s", config.Logging.Level)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("not: valid: yaml: content"), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = LoadConfig(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "duration.yaml")

	configContent := `
client:
  response_timeout: "five seconds"
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = LoadConfig(configPath)
	if err == nil {
		t.Error("expected error for invalid duration")
	}
}
