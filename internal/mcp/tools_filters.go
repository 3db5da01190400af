package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/kseek/internal/engine"
)

// FiltersArgument defines list_filters parameters. The tool takes none.
type FiltersArgument struct{}

// FiltersHandler handles the list_filters MCP tool.
type FiltersHandler struct {
	service *engine.Service
}

// NewFiltersHandler creates a new filters handler.
func NewFiltersHandler(service *engine.Service) *FiltersHandler {
	return &FiltersHandler{service: service}
}

// Handle lists the plugin filters queries can call.
func (h *FiltersHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args FiltersArgument) (*mcp.CallToolResult, any, error) {
	filters, err := h.service.Filters()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list filters: %s", err)), nil, nil
	}

	dir := h.service.Settings().FiltersDir
	if len(filters) == 0 {
		return textResult(fmt.Sprintf("No search filters installed in %s", dir)), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d search filters in %s:\n\n", len(filters), dir)
	for _, f := range filters {
		state := "not loaded"
		if f.Loaded {
			state = "loaded"
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", f.Name, state)
	}
	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *FiltersHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_filters",
		Description: "List the WebAssembly search filters that queries can call as name(param, ...)",
	}
}

// RegisterFiltersTool registers the list_filters tool with an MCP server.
func RegisterFiltersTool(server *mcp.Server, service *engine.Service) {
	handler := NewFiltersHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
