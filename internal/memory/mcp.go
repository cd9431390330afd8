package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"
)

const (
	searchToolName   = "search"
	mcpClientName    = "memproxy"
	mcpClientVersion = "1.0.0"
)

type toolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPClient searches memories through the `search` tool of an MCP server reached over SSE.
// A client that failed to connect stays usable and reports every search as empty.
type MCPClient struct {
	url        string
	searchType string

	mu     sync.RWMutex
	caller toolCaller
}

// NewMCPClient returns an unconnected client for the SSE endpoint at url.
func NewMCPClient(url, searchType string) *MCPClient {
	return &MCPClient{url: url, searchType: searchType}
}

// Connect opens the SSE session and performs the MCP handshake.
func (m *MCPClient) Connect(ctx context.Context) error {
	c, err := client.NewSSEMCPClient(m.url)
	if err != nil {
		return fmt.Errorf("memory: create mcp client: %w", err)
	}
	if err = c.Start(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("memory: start mcp transport: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: mcpClientName, Version: mcpClientVersion}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	result, err := c.Initialize(ctx, initRequest)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("memory: mcp initialize: %w", err)
	}
	log.WithFields(log.Fields{
		"url":    m.url,
		"server": result.ServerInfo.Name,
	}).Info("memory: connected to mcp server")

	m.setCaller(c)
	return nil
}

func (m *MCPClient) setCaller(c toolCaller) {
	m.mu.Lock()
	previous := m.caller
	m.caller = c
	m.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
}

// Connected reports whether a session is open.
func (m *MCPClient) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caller != nil
}

// Search implements Client.
func (m *MCPClient) Search(ctx context.Context, query string) (string, bool) {
	m.mu.RLock()
	caller := m.caller
	m.mu.RUnlock()
	if caller == nil {
		log.Debug("memory: mcp session unavailable, skipping search")
		return "", false
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = searchToolName
	request.Params.Arguments = map[string]any{
		"search_query": query,
		"search_type":  m.searchType,
	}

	result, err := caller.CallTool(ctx, request)
	if err != nil {
		log.WithError(err).Error("memory: mcp search failed")
		return "", false
	}
	if result == nil {
		return "", false
	}
	if result.IsError {
		log.Warn("memory: mcp search tool reported an error")
		return "", false
	}

	items := make([]Content, 0, len(result.Content))
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			items = append(items, Content{Type: c.Type, Text: c.Text})
		case *mcp.TextContent:
			items = append(items, Content{Type: c.Type, Text: c.Text})
		}
	}

	text, ok := Normalize(items)
	if !ok {
		log.Info("memory: no relevant memories found")
		return "", false
	}
	log.WithField("chars", len(text)).Debugf("memory: retrieved %s", truncateForLog(RedactText(text), 200))
	return text, true
}

// Close ends the SSE session.
func (m *MCPClient) Close() error {
	m.mu.Lock()
	caller := m.caller
	m.caller = nil
	m.mu.Unlock()
	if caller == nil {
		return nil
	}
	return caller.Close()
}

func truncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
