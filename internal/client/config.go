package client

import (
	"fmt"
	"time"
)

// Config holds the sender settings
type Config struct {
	// ConnectTimeout bounds the TCP connect
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ResponseTimeout bounds the final wait for acknowledgments
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	// SendInterval paces consecutive packets. Zero sends back to back.
	SendInterval time.Duration `yaml:"send_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:  10 * time.Second,
		ResponseTimeout: 5 * time.Second,
		SendInterval:    0,
	}
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout cannot be negative")
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("response_timeout cannot be negative")
	}
	if c.SendInterval < 0 {
		return fmt.Errorf("send_interval cannot be negative")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 5 * time.Second
	}
	return nil
}
