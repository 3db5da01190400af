package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/kseek/internal/engine"
)

// ExportsArgument defines search_exports parameters.
type ExportsArgument struct {
	Query string `json:"query" jsonschema_description:"Full-text query over exported record keys and values"`
	Topic string `json:"topic,omitempty" jsonschema_description:"Filter by topic name"`
}

// ExportsHandler handles the search_exports MCP tool.
type ExportsHandler struct {
	service *engine.Service
}

// NewExportsHandler creates a new exports handler.
func NewExportsHandler(service *engine.Service) *ExportsHandler {
	return &ExportsHandler{service: service}
}

// Handle runs a full-text search over the export index.
func (h *ExportsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ExportsArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	records, total, err := h.service.FindExports(ctx, args.Query, args.Topic, h.service.Settings().Search.MaxResults)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}
	if total == 0 {
		return textResult(fmt.Sprintf("No exported records found for query: %s", args.Query)), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d exported records for '%s':\n\n", total, args.Query)
	for i := range records {
		writeRecord(&sb, i+1, &records[i].Record)
		fmt.Fprintf(&sb, "**Matched by**: %s\n\n", records[i].SearchQuery)
	}
	if total > uint64(len(records)) {
		fmt.Fprintf(&sb, "... and %d more results\n", total-uint64(len(records)))
	}
	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ExportsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_exports",
		Description: "Full-text search over records exported by previous searches",
	}
}

// RegisterExportsTool registers the search_exports tool with an MCP server.
func RegisterExportsTool(server *mcp.Server, service *engine.Service) {
	handler := NewExportsHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
