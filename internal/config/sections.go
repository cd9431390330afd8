package config

import (
	"strings"
	"time"
)

const (
	// MemoryBackendMCP talks to the memory service over an MCP SSE session.
	MemoryBackendMCP = "mcp"
	// MemoryBackendCLI shells out to the memory service's command-line client.
	MemoryBackendCLI = "cli"
	// MemoryBackendNone disables memory retrieval entirely.
	MemoryBackendNone = "none"

	defaultMCPURL        = "http://127.0.0.1:9998/sse"
	defaultSearchType    = "GRAPH_COMPLETION"
	defaultTimeoutSecond = 60
)

// UpstreamConfig describes the LLM provider.
type UpstreamConfig struct {
	// BaseURL is the provider base, e.g. https://openrouter.ai/api/v1.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// TimeoutSeconds bounds each upstream call up to response headers.
	// nil means default (60).
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`

	// ProxyURL is an optional http, https or socks5 proxy for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`
}

// MemoryConfig selects the memory backend.
type MemoryConfig struct {
	// Enabled toggles memory injection. nil means default (true).
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Backend is one of mcp, cli or none.
	Backend string `yaml:"backend" json:"backend"`

	// MCPURL is the SSE endpoint of the memory MCP server.
	MCPURL string `yaml:"mcp-url" json:"mcp-url"`

	// SearchType is passed as the search_type tool argument.
	SearchType string `yaml:"search-type" json:"search-type"`

	// CLIPath is the project directory passed to `uv --directory` for the cli backend.
	CLIPath string `yaml:"cli-path" json:"cli-path"`

	// TimeoutSeconds bounds a single memory search. nil means default (60); 0 disables.
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// StreamingConfig holds chat-completion streaming behavior.
type StreamingConfig struct {
	// DeferStatus waits for upstream headers before committing the streaming response,
	// so a non-2xx upstream status reaches the caller instead of a 200.
	DeferStatus bool `yaml:"defer-status" json:"defer-status"`

	// ChunkSize is the relay read buffer in bytes. nil means default (4096).
	ChunkSize *int `yaml:"chunk-size,omitempty" json:"chunk-size,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ResolvedBaseURL returns the provider base without a trailing slash, falling back to DefaultBaseURL.
func (c *UpstreamConfig) ResolvedBaseURL() string {
	if c == nil {
		return DefaultBaseURL
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// IsDefaultBaseURL reports whether no provider was configured.
func (c *UpstreamConfig) IsDefaultBaseURL() bool {
	return c == nil || strings.TrimSpace(c.BaseURL) == ""
}

// Timeout returns the upstream timeout, defaulting to 60 seconds.
func (c *UpstreamConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutSeconds == nil || *c.TimeoutSeconds <= 0 {
		return defaultTimeoutSecond * time.Second
	}
	return time.Duration(*c.TimeoutSeconds) * time.Second
}

// IsEnabled returns whether memory injection is enabled, defaulting to true.
func (c *MemoryConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	if c.Backend == MemoryBackendNone {
		return false
	}
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ResolvedMCPURL returns the MCP SSE endpoint, defaulting to the local memory server.
func (c *MemoryConfig) ResolvedMCPURL() string {
	if c == nil || strings.TrimSpace(c.MCPURL) == "" {
		return defaultMCPURL
	}
	return strings.TrimSpace(c.MCPURL)
}

// ResolvedSearchType returns the search type, defaulting to GRAPH_COMPLETION.
func (c *MemoryConfig) ResolvedSearchType() string {
	if c == nil || strings.TrimSpace(c.SearchType) == "" {
		return defaultSearchType
	}
	return strings.TrimSpace(c.SearchType)
}

// SearchTimeout returns the per-search budget; zero means unbounded.
func (c *MemoryConfig) SearchTimeout() time.Duration {
	if c == nil || c.TimeoutSeconds == nil {
		return defaultTimeoutSecond * time.Second
	}
	if *c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(*c.TimeoutSeconds) * time.Second
}

// GetChunkSize returns the relay buffer size, defaulting to 4096.
func (c *StreamingConfig) GetChunkSize() int {
	if c == nil || c.ChunkSize == nil || *c.ChunkSize <= 0 {
		return 4096
	}
	return *c.ChunkSize
}
