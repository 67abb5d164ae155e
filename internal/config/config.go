// Package config loads the server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Listen is the control-channel listen address, e.g. ":8554".
	Listen string `yaml:"listen"`
	// Address is the address advertised in SDP and control URLs.
	Address string `yaml:"address"`
}

type StreamConfig struct {
	// Path is the stream path clients must request.
	Path string `yaml:"path"`
	// MaxPayloadSize bounds one RTP payload in bytes.
	MaxPayloadSize int `yaml:"max_payload_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Listen: ":8554", Address: "127.0.0.1"},
		Stream:  StreamConfig{Path: "mjpeg/1", MaxPayloadSize: 1400},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and validates a YAML config file. Fields left empty in the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Stream.Path == "" {
		return fmt.Errorf("stream.path must not be empty")
	}
	if c.Stream.MaxPayloadSize < 64 || c.Stream.MaxPayloadSize > 65000 {
		return fmt.Errorf("invalid stream.max_payload_size %d (must be 64-65000)", c.Stream.MaxPayloadSize)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	return nil
}

// LogrusLevel maps the configured level onto logrus.
func (c *Config) LogrusLevel() log.Level {
	level, err := log.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		return log.InfoLevel
	}
	return level
}
