package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"toolfleet/internal/api"
	"toolfleet/pkg/logging"
)

// MCPClient talks to a worker that serves MCP over streamable HTTP. The MCP
// session is established lazily and dropped after any transport failure so
// the next call reconnects.
type MCPClient struct {
	url     string
	name    string
	version string

	mu     sync.Mutex
	client *client.Client
}

// NewMCPClient creates a client for the MCP endpoint at url.
func NewMCPClient(url, clientName, clientVersion string) *MCPClient {
	return &MCPClient{
		url:     url,
		name:    clientName,
		version: clientVersion,
	}
}

func (c *MCPClient) session(ctx context.Context) (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to create StreamableHTTP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: c.name, Version: c.version}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	initResult, err := mcpClient.Initialize(ctx, req)
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("MCPClient", "Connected to %s (server %s %s)", c.url,
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	c.client = mcpClient
	return mcpClient, nil
}

func (c *MCPClient) reset(failed *client.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == failed && failed != nil {
		failed.Close()
		c.client = nil
	}
}

// Health implements Client.
func (c *MCPClient) Health(ctx context.Context) error {
	cl, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := cl.Ping(ctx); err != nil {
		c.reset(cl)
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// ListTools implements Client.
func (c *MCPClient) ListTools(ctx context.Context) ([]api.ToolInfo, error) {
	cl, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	result, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.reset(cl)
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]api.ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		info := api.ToolInfo{Name: tool.Name, Description: tool.Description}
		if raw, err := json.Marshal(tool); err == nil {
			var schema struct {
				InputSchema json.RawMessage `json:"inputSchema"`
			}
			if json.Unmarshal(raw, &schema) == nil {
				info.InputSchema = schema.InputSchema
			}
		}
		tools = append(tools, info)
	}
	return tools, nil
}

// CallTool implements Client.
func (c *MCPClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (*CallResult, error) {
	cl, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var arguments map[string]interface{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("MCP tool arguments must be a JSON object: %w", err)
		}
	}

	var req mcp.CallToolRequest
	req.Params.Name = tool
	req.Params.Arguments = arguments

	result, err := cl.CallTool(ctx, req)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, fmt.Errorf("%w %q: %v", ErrUnknownTool, tool, err)
		}
		if ctx.Err() == nil {
			c.reset(cl)
		}
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	if result.IsError {
		return &CallResult{Success: false, Error: joinText(result.Content)}, nil
	}

	payload, err := resultPayload(result)
	if err != nil {
		return nil, err
	}
	return &CallResult{Success: true, Result: payload}, nil
}

// Close implements Client.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// resultPayload prefers structured content, then a single text block, then
// the raw content list.
func resultPayload(result *mcp.CallToolResult) (json.RawMessage, error) {
	if result.StructuredContent != nil {
		return json.Marshal(result.StructuredContent)
	}
	if len(result.Content) == 1 {
		if text, ok := textOf(result.Content[0]); ok {
			return json.Marshal(text)
		}
	}
	return json.Marshal(result.Content)
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if text, ok := textOf(item); ok {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

func textOf(item mcp.Content) (string, bool) {
	switch v := item.(type) {
	case mcp.TextContent:
		return v.Text, true
	case *mcp.TextContent:
		return v.Text, true
	default:
		return "", false
	}
}
