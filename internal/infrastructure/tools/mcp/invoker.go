// Package mcp executes registered external tools over the Model Context
// Protocol. Each configured server is dialed once at startup; tool ids are
// "server/tool", with the server part optional when only one server is
// registered.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

type toolCaller interface {
	CallTool(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error)
}

type Invoker struct {
	servers map[string]toolCaller
}

// Dial connects and initializes a streamable HTTP client per configured
// server. A server that cannot be reached fails startup rather than
// surfacing later as a mid-run tool error.
func Dial(ctx context.Context, servers map[string]string) (*Invoker, error) {
	inv := &Invoker{servers: make(map[string]toolCaller, len(servers))}
	for name, endpoint := range servers {
		c, err := client.NewStreamableHttpClient(endpoint)
		if err != nil {
			return nil, fmt.Errorf("create mcp client %s: %w", name, err)
		}
		if err := c.Start(ctx); err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "mcp_dial",
				fmt.Errorf("start mcp client %s: %w", name, err))
		}

		initReq := mcpproto.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcpproto.Implementation{Name: "ragmesh", Version: "1.0.0"}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "mcp_dial",
				fmt.Errorf("initialize mcp client %s: %w", name, err))
		}
		inv.servers[name] = c
	}
	return inv, nil
}

// NewWithCaller registers an already-connected caller under a server name.
func NewWithCaller(name string, caller toolCaller) *Invoker {
	return &Invoker{servers: map[string]toolCaller{name: caller}}
}

func (i *Invoker) Invoke(ctx context.Context, toolID, input string) (string, error) {
	caller, tool, err := i.resolve(toolID)
	if err != nil {
		return "", err
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = decodeArguments(input)

	result, err := caller.CallTool(ctx, req)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "mcp_call", err)
	}

	text := textContent(result)
	if result.IsError {
		return "", domain.WrapError(domain.ErrInvalidInput, "mcp_call",
			fmt.Errorf("tool %s failed: %s", toolID, text))
	}
	return text, nil
}

func (i *Invoker) resolve(toolID string) (toolCaller, string, error) {
	if server, tool, ok := strings.Cut(toolID, "/"); ok {
		caller, found := i.servers[server]
		if !found {
			return nil, "", domain.WrapError(domain.ErrNotFound, "mcp_resolve",
				fmt.Errorf("unknown mcp server %q", server))
		}
		return caller, tool, nil
	}
	if len(i.servers) == 1 {
		for _, caller := range i.servers {
			return caller, toolID, nil
		}
	}
	return nil, "", domain.WrapError(domain.ErrInvalidInput, "mcp_resolve",
		fmt.Errorf("tool id %q must be server/tool", toolID))
}

// decodeArguments passes model-generated JSON objects through as structured
// arguments and wraps anything else as a single input field.
func decodeArguments(input string) map[string]any {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
			return args
		}
	}
	return map[string]any{"input": input}
}

func textContent(result *mcpproto.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcpproto.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
