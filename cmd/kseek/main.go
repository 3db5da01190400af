package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sha1n/kseek/internal/app"
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "kseek"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(ctx context.Context, version, build, programName string, args []string) error {
	params := app.DefaultCommandParams(os.Stdout)

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Search Kafka records with a query language",
		Long:         "kseek searches Kafka topics, exported records and archives with a small query language, headless or as an MCP server",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	app.RegisterFlags(rootCmd.PersistentFlags())

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a query and print the matching records",
		Example: `  kseek search -b localhost:9092 -T orders "value.status == 'failed' from end - 1000"
  kseek search --archive orders.ndjson.zst "key starts with 'eu-' order by timestamp desc"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSearch(cmd.Context(), params, cmd.Flags(), args)
		},
	}
	app.RegisterSearchFlags(searchCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWithDeps(cmd.Context(), app.DefaultRunParams(), cmd.Flags(), version)
		},
	}
	app.RegisterServeFlags(serveCmd.Flags())

	filtersCmd := &cobra.Command{
		Use:   "filters",
		Short: "List the installed search filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ListFilters(cmd.Context(), params, cmd.Flags())
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Check a filter module and install it in the filters directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ImportFilter(cmd.Context(), params, cmd.Flags(), args[0])
		},
	}
	importCmd.Flags().StringP("name", "n", "", "Filter name (default: the file name without extension)")
	importCmd.Flags().Bool("force", false, "Replace an installed filter of the same name")
	filtersCmd.AddCommand(importCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the query history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, _ := cmd.Flags().GetBool("clear")
			return app.ShowHistory(cmd.Context(), params, cmd.Flags(), reset)
		},
	}
	historyCmd.Flags().Bool("clear", false, "Forget every query")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Manage exported records",
	}
	exportCmd.AddCommand(
		&cobra.Command{
			Use:   "dump <file>",
			Short: "Write every exported record to a compressed archive",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.DumpExports(cmd.Context(), params, cmd.Flags(), args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every exported record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.ClearExports(cmd.Context(), params, cmd.Flags())
			},
		},
	)
	findCmd := &cobra.Command{
		Use:   "find <text>",
		Short: "Full-text search over exported records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.FindExports(cmd.Context(), params, cmd.Flags(), strings.Join(args, " "))
		},
	}
	findCmd.Flags().String("topic", "", "Only records of this topic")
	findCmd.Flags().Int("limit", 20, "Maximum records to print (0 prints all)")
	exportCmd.AddCommand(findCmd)

	hashCmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to use as auth-basic-password-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.PrintPasswordHash(cmd.OutOrStdout(), args[0])
		},
	}

	rootCmd.AddCommand(searchCmd, serveCmd, filtersCmd, historyCmd, exportCmd, hashCmd)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}
