// Package server provides configuration helpers that define runtime defaults,
// file loading, and validation for the chat relay.
package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

// DefaultMaxMessageSize bounds a single inbound frame. Larger frames close the
// connection.
const DefaultMaxMessageSize = 1 << 20

// Config holds the server configuration settings.
type Config struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	HistoryLimit    int           `yaml:"history_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:            ":3000",
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  DefaultMaxMessageSize,
		HistoryLimit:    broker.DefaultHistoryLimit,
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig reads a YAML config file on top of the defaults. An empty path
// or a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	return cfg, nil
}

// SetPort applies a port value, accepting both "3000" and ":3000".
func (c *Config) SetPort(port string) {
	port = strings.TrimSpace(port)
	if port != "" && !strings.Contains(port, ":") {
		port = ":" + port
	}
	c.Port = port
}

// SetAllowedOrigins applies a comma separated origin list.
func (c *Config) SetAllowedOrigins(origins string) {
	c.AllowedOrigins = parseOrigins(origins)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.Port == "" {
		errs = errs.Append("port", fmt.Errorf("cannot be empty"))
	}

	if c.MaxMessageSize <= 0 {
		errs = errs.Append("max_message_size", fmt.Errorf("must be positive, got %d", c.MaxMessageSize))
	}

	if c.HistoryLimit <= 0 {
		errs = errs.Append("history_limit", fmt.Errorf("must be positive, got %d", c.HistoryLimit))
	}

	if c.ShutdownTimeout <= 0 {
		errs = errs.Append("shutdown_timeout", fmt.Errorf("must be positive, got %s", c.ShutdownTimeout))
	}

	if len(c.AllowedOrigins) == 0 {
		errs = errs.Append("allowed_origins", fmt.Errorf("at least one origin is required"))
	}
	for i, origin := range c.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			continue
		}
		if _, ok := normalizeOrigin(trimmed); !ok {
			errs = errs.Append(fmt.Sprintf("allowed_origins[%d]", i), fmt.Errorf("invalid origin %q", origin))
		}
	}

	return errs.ToError()
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
