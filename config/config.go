// Package config loads viscacam settings from a YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete viscacam configuration
type Config struct {
	Camera CameraConfig `yaml:"camera"`
	Bridge BridgeConfig `yaml:"bridge"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// CameraConfig defines how sessions talk to cameras
type CameraConfig struct {
	Port       int           `yaml:"port"`        // Camera UDP port
	Model      string        `yaml:"model"`       // Command reference, e.g. "srg300"
	Timeout    time.Duration `yaml:"timeout"`     // Acknowledgement timeout per attempt
	ListenPort int           `yaml:"listen_port"` // Local reply port, defaults to Port
	MaxRetries int           `yaml:"max_retries"` // 0 retries forever, serve uses libvisca.DefaultDispatchRetries
	Backoff    time.Duration `yaml:"backoff"`     // Initial delay between retries
	Verbose    bool          `yaml:"verbose"`
}

// BridgeConfig defines the text command bridge
type BridgeConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HTTPConfig defines the HTTP control and metrics endpoint
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads configuration from a YAML file.
// Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Camera.Port == 0 {
		c.Camera.Port = 52381
	}
	if c.Camera.Model == "" {
		c.Camera.Model = "srg300"
	}
	if c.Camera.Timeout == 0 {
		c.Camera.Timeout = 200 * time.Millisecond
	}
	if c.Bridge.Address == "" {
		c.Bridge.Address = "127.0.0.1"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 9000
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"camera.port":        c.Camera.Port,
		"camera.listen_port": c.Camera.ListenPort,
		"bridge.port":        c.Bridge.Port,
		"http.port":          c.HTTP.Port,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.Camera.Timeout < 0 {
		return fmt.Errorf("camera.timeout must not be negative")
	}
	if c.Camera.MaxRetries < 0 {
		return fmt.Errorf("camera.max_retries must not be negative")
	}
	if c.Camera.Backoff < 0 {
		return fmt.Errorf("camera.backoff must not be negative")
	}
	return nil
}
