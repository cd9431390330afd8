// Package config provides configuration management for the memory proxy server.
// It handles loading and parsing the YAML configuration file, applies environment
// overrides, and exposes defaulted accessors for the upstream provider, the memory
// backend, streaming behavior and ambient concerns such as logging and metrics.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the listen port used when none is configured.
	DefaultPort = 8000
	// DefaultBaseURL is the provider used when no base URL is configured.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface to bind; empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the listen port.
	Port int `yaml:"port" json:"port"`

	// Debug enables gin debug mode and debug logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LogLevel is one of debug, info, warn, error or quiet.
	LogLevel string `yaml:"log-level" json:"log-level"`

	// LoggingToFile writes logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotated log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// Upstream describes the LLM provider requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Memory selects and configures the long-term-memory backend.
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Streaming configures the chat-completion streaming relay.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoadConfig reads the YAML configuration file at path. A missing file is an error.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional reads the configuration at path. When optional is true, a missing
// or unparseable file yields the default configuration instead of an error.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) == "" {
		if !optional {
			return nil, errors.New("config path is empty")
		}
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional {
			if !errors.Is(err, os.ErrNotExist) {
				log.WithError(err).Warnf("failed to read config %s, using defaults", path)
			}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			if optional {
				log.WithError(errUnmarshal).Warnf("failed to parse config %s, using defaults", path)
				cfg = &Config{}
				cfg.applyDefaults()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to parse config file: %w", errUnmarshal)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
		if c.Debug {
			c.LogLevel = "debug"
		}
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = "logs"
	}
	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	if c.Memory.Backend == "" {
		c.Memory.Backend = MemoryBackendMCP
	}
}

// ApplyEnv overlays environment variables on top of the file configuration.
// lookup is normally os.LookupEnv; blank values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if c == nil || lookup == nil {
		return
	}
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if v, ok := get("LLM_PROVIDER_URL"); ok {
		c.Upstream.BaseURL = v
	}
	if v, ok := get("UPSTREAM_PROXY_URL"); ok {
		c.Upstream.ProxyURL = v
	}
	if v, ok := get("COGNEE_MCP_URL"); ok {
		c.Memory.MCPURL = v
	}
	if v, ok := get("COGNEE_CLI_PATH"); ok {
		c.Memory.CLIPath = v
	}
	if v, ok := get("MEMORY_BACKEND"); ok {
		c.Memory.Backend = strings.ToLower(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		} else {
			log.Warnf("ignoring invalid PORT value %q", v)
		}
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
