package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/engine"
	"github.com/sha1n/kseek/internal/filter"
	"github.com/sha1n/kseek/internal/pipeline"
	"github.com/sha1n/kseek/internal/query"
)

const (
	// DefaultSearchTimeout bounds a search run through MCP.
	DefaultSearchTimeout = 30 * time.Second

	// MaxSearchTimeout is the longest timeout a caller may ask for.
	MaxSearchTimeout = 10 * time.Minute

	// maxValueLength truncates record values in tool output.
	maxValueLength = 2000
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query          string `json:"query" jsonschema_description:"kseek query, e.g. value.status == 'failed' from end - 1000 limit 20"`
	Source         string `json:"source,omitempty" jsonschema_description:"Record source: kafka (default), export or archive"`
	Archive        string `json:"archive,omitempty" jsonschema_description:"Archive file to search when source is archive"`
	Export         bool   `json:"export,omitempty" jsonschema_description:"Store the matches in the export index"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema_description:"Search timeout in seconds (default 30)"`
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	service *engine.Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *engine.Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

// Handle runs the search and returns formatted results. Kafka searches end at
// the offsets seen when they started so that the call always returns.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout(args.TimeoutSeconds))
	defer cancel()

	result, err := h.service.Search(ctx, engine.Request{
		Query:     args.Query,
		Source:    engine.SourceKind(args.Source),
		Archive:   args.Archive,
		Export:    args.Export,
		StopAtEnd: true,
	})
	if err != nil {
		return errorResult(describeError(err)), nil, nil
	}

	return h.formatResults(result), nil, nil
}

func searchTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultSearchTimeout
	}
	return min(time.Duration(seconds)*time.Second, MaxSearchTimeout)
}

func describeError(err error) string {
	var syntaxErr *query.SyntaxError
	var filterErr *filter.FilterError
	var sourceErr *pipeline.SourceError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("Invalid query: %s\n%s", syntaxErr.Error(), syntaxErr.Pointer())
	case errors.As(err, &filterErr):
		return fmt.Sprintf("Invalid query: %s", filterErr.Error())
	case errors.As(err, &sourceErr):
		return fmt.Sprintf("Search failed: %s", sourceErr.Error())
	default:
		return fmt.Sprintf("Search failed: %s", err)
	}
}

// formatResults formats search results for MCP response.
func (h *SearchHandler) formatResults(result *engine.Result) *mcp.CallToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search %s: %s\n", result.State, result.Query)
	fmt.Fprintf(&sb, "Read %d of %d records, %d matched", result.Stats.Read, result.Stats.TotalToRead, result.Stats.Matched)
	if result.Exported > 0 {
		fmt.Fprintf(&sb, ", %d exported", result.Exported)
	}
	sb.WriteString("\n\n")

	if len(result.Records) == 0 {
		sb.WriteString("No matching records found\n")
		return textResult(sb.String())
	}

	records := result.Records
	maxResults := h.service.Settings().Search.MaxResults
	if maxResults > 0 && len(records) > maxResults {
		records = records[:maxResults]
	}
	for i := range records {
		writeRecord(&sb, i+1, &records[i])
	}

	if result.Stats.Matched > uint64(len(records)) {
		fmt.Fprintf(&sb, "... and %d more results\n", result.Stats.Matched-uint64(len(records)))
	}

	return textResult(sb.String())
}

func writeRecord(sb *strings.Builder, n int, rec *domain.Record) {
	fmt.Fprintf(sb, "### %d. %s\n", n, rec.ID())
	if ts, ok := rec.Time(); ok {
		fmt.Fprintf(sb, "**Timestamp**: %s\n", ts.Format(time.RFC3339Nano))
	}
	if key := rec.KeyString(); key != "" {
		fmt.Fprintf(sb, "**Key**: %s\n", key)
	}
	for _, header := range rec.Headers {
		fmt.Fprintf(sb, "**Header** %s: %s\n", header.Key, header.Value)
	}

	sb.WriteString("```\n")
	sb.WriteString(truncate(rec.ValueString(), maxValueLength))
	sb.WriteString("\n```\n\n")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "search_records",
		Description: "Search Kafka records with a kseek query. " +
			"Queries combine comparisons on topic, partition, offset, timestamp, key, value, value.<json path> and header.<name> " +
			"with and, or, not, plugin filter calls, and the clauses 'from begin|end|end - n|<offset>|<timestamp>', 'limit n' and 'order by <field> [asc|desc]'.",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *engine.Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
