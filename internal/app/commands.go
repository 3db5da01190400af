package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sha1n/kseek/internal/auth"
	"github.com/sha1n/kseek/internal/buffer"
	"github.com/sha1n/kseek/internal/config"
	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/engine"
	"github.com/sha1n/kseek/internal/query"
	"github.com/spf13/pflag"
)

// ErrNoQuery is returned when the search command gets no query text.
var ErrNoQuery = errors.New("no query given")

// CommandParams contains dependencies of the local commands
type CommandParams struct {
	LoadSettings func(*pflag.FlagSet) (*config.Settings, error)
	NewService   func(*config.Settings, *slog.Logger) (*engine.Service, error)
	Out          io.Writer
}

// DefaultCommandParams returns production dependencies writing to out
func DefaultCommandParams(out io.Writer) CommandParams {
	return CommandParams{
		LoadSettings: config.LoadSettingsWithFlags,
		NewService: func(settings *config.Settings, logger *slog.Logger) (*engine.Service, error) {
			return engine.NewService(settings, logger)
		},
		Out: out,
	}
}

// withService loads settings, opens the search service and runs fn with it.
func (p CommandParams) withService(ctx context.Context, flags *pflag.FlagSet, fn func(*engine.Service) error) error {
	settings, err := p.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, err := config.ParseLogLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := ConfigureLogging(settings.LogLevel)

	svc, err := p.NewService(settings, logger)
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			logger.Error("Failed to close search service", "error", err)
		}
	}()

	return fn(svc)
}

// RunSearch runs a headless search and prints every match to Out.
// Ordered searches print the buffered results once the search ends.
func RunSearch(ctx context.Context, params CommandParams, flags *pflag.FlagSet, args []string) error {
	format, _ := flags.GetString("format")
	if format != FormatPlain && format != FormatJSON {
		return fmt.Errorf("format must be '%s' or '%s', got: %s", FormatPlain, FormatJSON, format)
	}
	exportMatches, _ := flags.GetBool("export")
	archive, _ := flags.GetString("archive")
	replay, _ := flags.GetBool("replay")
	last, _ := flags.GetBool("last")
	if archive != "" && replay {
		return errors.New("--archive and --replay cannot be combined")
	}

	return params.withService(ctx, flags, func(svc *engine.Service) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if last {
			query, ok := svc.LastQuery()
			if !ok {
				return errors.New("query history is empty")
			}
			text = query
		}
		if text == "" {
			return ErrNoQuery
		}

		vq, err := svc.Prepare(ctx, text)
		if err != nil {
			return describeQueryError(err)
		}

		printer := newPrinter(params.Out, format)
		req := engine.Request{
			Query:      text,
			Prepared:   vq,
			Export:     exportMatches,
			StopAtEnd:  svc.Settings().Kafka.StopAtEnd,
			OnProgress: func(stats buffer.Stats) {
				slog.Debug("Search progress", "read", stats.Read, "total", stats.TotalToRead, "matched", stats.Matched)
			},
		}
		switch {
		case archive != "":
			req.Source, req.Archive = engine.SourceArchive, archive
		case replay:
			req.Source = engine.SourceExport
		default:
			req.Source = engine.SourceKafka
		}
		if vq.Order() == nil {
			req.OnMatch = printer.print
		}

		result, err := svc.Search(ctx, req)
		if err != nil {
			return describeQueryError(err)
		}
		if vq.Order() != nil {
			for _, rec := range result.Records {
				printer.print(rec)
			}
		}

		slog.Info("Search summary",
			"search_id", result.SearchID,
			"query", result.Query,
			"start", result.Start,
			"state", result.State.String(),
			"read", result.Stats.Read,
			"matched", result.Stats.Matched,
			"exported", result.Exported,
		)
		return printer.err
	})
}

func describeQueryError(err error) error {
	var syntaxErr *query.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w\n%s", err, syntaxErr.Pointer())
	}
	return err
}

// printer writes records in the selected format. The first write error is
// kept and later records are dropped.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	format string
	enc    *json.Encoder
	err    error
}

func newPrinter(out io.Writer, format string) *printer {
	return &printer{out: out, format: format, enc: json.NewEncoder(out)}
}

func (p *printer) print(rec domain.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if p.format == FormatJSON {
		p.err = p.enc.Encode(rec)
		return
	}
	_, p.err = fmt.Fprintln(p.out, formatPlain(&rec))
}

// formatPlain renders a record as a single tab separated line.
func formatPlain(rec *domain.Record) string {
	ts := "-"
	if t, ok := rec.Time(); ok {
		ts = t.Format(time.RFC3339Nano)
	}
	key := rec.KeyString()
	if key == "" {
		key = "-"
	}
	return strings.Join([]string{rec.ID(), ts, key, rec.ValueString()}, "\t")
}

// ListFilters prints the installed search filters.
func ListFilters(ctx context.Context, params CommandParams, flags *pflag.FlagSet) error {
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		filters, err := svc.Filters()
		if err != nil {
			return err
		}
		if len(filters) == 0 {
			_, err := fmt.Fprintf(params.Out, "No search filters installed in %s\n", svc.Settings().FiltersDir)
			return err
		}
		for _, f := range filters {
			if _, err := fmt.Fprintf(params.Out, "%s\t%s\n", f.Name, f.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportFilter installs the filter module at src and prints how to call it.
func ImportFilter(ctx context.Context, params CommandParams, flags *pflag.FlagSet, src string) error {
	name, _ := flags.GetString("name")
	force, _ := flags.GetBool("force")
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		info, err := svc.ImportFilter(ctx, src, name, force)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(params.Out, "Imported %s to %s\nUse it as: from beginning offset > 50 && %s(...)\n", info.Name, info.Path, info.Name)
		return err
	})
}

// ShowHistory prints the query history, most recent last. With reset set it
// forgets every query instead.
func ShowHistory(ctx context.Context, params CommandParams, flags *pflag.FlagSet, reset bool) error {
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		if reset {
			return svc.ClearHistory(ctx)
		}
		for _, entry := range svc.History() {
			line := fmt.Sprintf("%s\t%d\t%s", entry.LastRun.Format(time.DateTime), entry.Runs, entry.Query)
			if _, err := fmt.Fprintln(params.Out, line); err != nil {
				return err
			}
		}
		return nil
	})
}

// DumpExports writes the export index to an archive file.
func DumpExports(ctx context.Context, params CommandParams, flags *pflag.FlagSet, path string) error {
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		n, err := svc.DumpExports(ctx, path)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(params.Out, "Wrote %d records to %s\n", n, path)
		return err
	})
}

// FindExports prints the exported records matching a full-text query.
func FindExports(ctx context.Context, params CommandParams, flags *pflag.FlagSet, text string) error {
	topic, _ := flags.GetString("topic")
	limit, _ := flags.GetInt("limit")
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		records, total, err := svc.FindExports(ctx, text, topic, limit)
		if err != nil {
			return err
		}
		for i := range records {
			if _, err := fmt.Fprintln(params.Out, formatPlain(&records[i].Record)); err != nil {
				return err
			}
		}
		slog.Info("Export search finished", "query", text, "total", total, "shown", len(records))
		return nil
	})
}

// ClearExports removes every exported record.
func ClearExports(ctx context.Context, params CommandParams, flags *pflag.FlagSet) error {
	return params.withService(ctx, flags, func(svc *engine.Service) error {
		return svc.ClearExports()
	})
}

// PrintPasswordHash prints the bcrypt hash of password for auth.basic.password_hash.
func PrintPasswordHash(out io.Writer, password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
