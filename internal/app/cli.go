package app

import "github.com/spf13/pflag"

// Output formats of the search command
const (
	FormatPlain = "plain"
	FormatJSON  = "json"
)

// RegisterFlags registers the settings shared by every command on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("workspace", "w", "", "Workspace directory (default ~/.config/kseek)")
	flags.String("filters-dir", "", "Directory of WebAssembly search filters (default <workspace>/filters)")
	flags.String("history-file", "", "Query history file (default <workspace>/history.json)")
	flags.String("export-dir", "", "Export index directory (default <workspace>/export)")
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn or error")

	flags.StringSliceP("kafka-brokers", "b", nil, "Kafka seed brokers (comma-separated)")
	flags.StringSliceP("kafka-topics", "T", nil, "Kafka topics to search (comma-separated)")
	flags.String("kafka-client-id", "", "Kafka client id")
	flags.Bool("kafka-stop-at-end", false, "Stop searching at the end offsets seen when the search starts")

	flags.Int("consumer-buffer-capacity", 0, "Maximum records per micro-batch")
	flags.Int("consumer-timeout-in-ms", 0, "Micro-batch gathering timeout in milliseconds")

	flags.Duration("search-sort-interval", 0, "Interval between result re-sorts of ordered searches")
	flags.Duration("search-filter-timeout", 0, "Timeout of a single search filter call")
	flags.Int("search-max-results", 0, "Maximum records returned by MCP tools")
	flags.Int("search-results-buffer", 0, "Number of most recent matches kept by a search")
	flags.Int("search-history-size", 0, "Number of queries kept in the history")
}

// RegisterServeFlags registers the MCP server flags on the given FlagSet
func RegisterServeFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.String("auth-basic-password-hash", "", "Basic auth bcrypt password hash")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}

// RegisterSearchFlags registers the search command flags on the given FlagSet
func RegisterSearchFlags(flags *pflag.FlagSet) {
	flags.StringP("format", "f", FormatPlain, "Output format: plain or json")
	flags.BoolP("export", "e", false, "Store every match in the export index")
	flags.String("archive", "", "Search an export archive file instead of Kafka")
	flags.Bool("replay", false, "Search the export index instead of Kafka")
	flags.Bool("last", false, "Run the most recent query of the history")
}
