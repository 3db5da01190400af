// Package engine wires the query language, the filter registry, the record
// sources and the search pipeline into the operations exposed by the CLI and
// the MCP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sha1n/kseek/internal/buffer"
	"github.com/sha1n/kseek/internal/config"
	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/export"
	"github.com/sha1n/kseek/internal/filter"
	"github.com/sha1n/kseek/internal/history"
	"github.com/sha1n/kseek/internal/pipeline"
	"github.com/sha1n/kseek/internal/search"
	"github.com/sha1n/kseek/internal/source"
)

// SourceKind selects where a search reads records from.
type SourceKind string

const (
	SourceKafka   SourceKind = "kafka"
	SourceExport  SourceKind = "export"
	SourceArchive SourceKind = "archive"
)

// Request describes one search.
type Request struct {
	Query string
	// Prepared is a query already validated by Prepare. When set it is run
	// as is and Query is ignored.
	Prepared *search.ValidQuery
	Source   SourceKind
	// Archive is the archive file searched with SourceArchive.
	Archive string
	// Export stores every match in the export index.
	Export bool
	// StopAtEnd ends a Kafka search at the end offsets seen when it started.
	StopAtEnd bool
	// OnMatch receives every match as it is found.
	OnMatch func(domain.Record)
	// OnProgress receives stats updates. Updates published faster than they
	// are consumed are coalesced, but the final stats are always delivered.
	OnProgress func(buffer.Stats)
}

// Result summarizes a finished search.
type Result struct {
	SearchID string
	Query    string
	Start    string
	State    pipeline.State
	Stats    buffer.Stats
	Records  []domain.Record
	Exported int
}

// FilterInfo describes a filter module found in the filters directory.
type FilterInfo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Loaded bool   `json:"loaded"`
}

// Service runs searches and owns the state shared between them.
type Service struct {
	settings *config.Settings
	logger   *slog.Logger
	filters  *filter.Registry
	searcher *search.Searcher
	sources  func(ctx context.Context, req Request) (source.Source, error)

	mu      sync.Mutex
	history *history.History
	exports *export.Store
}

// Option configures a Service.
type Option func(*Service)

// WithRuntime replaces the filter runtime.
func WithRuntime(runtime filter.Runtime) Option {
	return func(s *Service) {
		s.filters = filter.NewRegistry(s.settings.FiltersDir, runtime, s.logger)
	}
}

// WithSourceFactory replaces how record sources are opened.
func WithSourceFactory(fn func(ctx context.Context, req Request) (source.Source, error)) Option {
	return func(s *Service) {
		s.sources = fn
	}
}

// NewService creates a service. A nil logger uses slog.Default().
func NewService(settings *config.Settings, logger *slog.Logger, opts ...Option) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	hist, err := history.Load(settings.HistoryFile, settings.Search.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to load query history: %w", err)
	}

	s := &Service{
		settings: settings,
		logger:   logger,
		history:  hist,
	}
	s.filters = filter.NewRegistry(settings.FiltersDir, filter.NewExtismRuntime(settings.Search.FilterTimeout, logger), logger)
	s.sources = s.openSource
	for _, opt := range opts {
		opt(s)
	}
	s.searcher = search.NewSearcher(s.filters)
	return s, nil
}

// Settings returns the service settings.
func (s *Service) Settings() *config.Settings {
	return s.settings
}

// Prepare validates query text without running it.
func (s *Service) Prepare(ctx context.Context, text string) (*search.ValidQuery, error) {
	return s.searcher.Prepare(ctx, text)
}

// Search validates and runs a query until the source is exhausted, the
// limit is reached or ctx ends. It returns a *query.SyntaxError or a
// *filter.FilterError without reading any record when the query is invalid.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	vq := req.Prepared
	if vq == nil {
		var err error
		if vq, err = s.searcher.Prepare(ctx, req.Query); err != nil {
			return nil, err
		}
	}
	s.remember(ctx, vq.Text())

	src, err := s.sources(ctx, req)
	if err != nil {
		return nil, &pipeline.SourceError{Err: err}
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("Failed to close record source", "error", err)
		}
	}()

	onMatch := req.OnMatch
	var exporter *export.Exporter
	if req.Export {
		store, err := s.exportStore()
		if err != nil {
			return nil, err
		}
		exporter = export.NewExporter(store, vq.Text())
		onMatch = chain(onMatch, func(rec domain.Record) {
			if err := exporter.Export(rec); err != nil {
				s.logger.Error("Failed to export record", "record", rec.ID(), "error", err)
			}
		})
	}

	buf := buffer.New(s.settings.Search.ResultsBuffer)
	if req.OnProgress != nil {
		updates, unsubscribe := buf.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for stats := range updates {
				req.OnProgress(stats)
			}
		}()
		defer func() {
			unsubscribe()
			<-done
		}()
	}
	orchestrator := pipeline.New(src, buf, pipeline.Config{
		BatchSize:    s.settings.Consumer.BufferCapacity,
		BatchTimeout: s.settings.Consumer.BatchTimeout(),
		SortInterval: s.settings.Search.SortInterval,
		OnMatch:      onMatch,
	}, s.logger)

	id, err := orchestrator.Start(ctx, vq)
	if err != nil {
		return nil, err
	}
	state, err := orchestrator.Wait()

	result := &Result{
		SearchID: id,
		Query:    vq.String(),
		Start:    describeStart(vq.StartPosition()),
		State:    state,
		Stats:    buf.Stats(),
		Records:  buf.Snapshot(),
	}
	if exporter != nil {
		if ferr := exporter.Flush(); ferr != nil {
			s.logger.Error("Failed to export records", "error", ferr)
		}
		result.Exported = exporter.Written()
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func chain(fns ...func(domain.Record)) func(domain.Record) {
	return func(rec domain.Record) {
		for _, fn := range fns {
			if fn != nil {
				fn(rec)
			}
		}
	}
}

func describeStart(start *search.FromDescriptor) string {
	if start == nil {
		return "default"
	}
	return start.String()
}

// openSource opens the record source of a request.
func (s *Service) openSource(ctx context.Context, req Request) (source.Source, error) {
	switch req.Source {
	case SourceKafka, "":
		if err := config.ValidateKafkaSettings(&s.settings.Kafka); err != nil {
			return nil, err
		}
		return source.NewKafka(source.KafkaConfig{
			Brokers:   s.settings.Kafka.Brokers,
			Topics:    s.settings.Kafka.Topics,
			ClientID:  s.settings.Kafka.ClientID,
			PollSize:  s.settings.Consumer.BufferCapacity,
			StopAtEnd: req.StopAtEnd,
		}, s.logger), nil
	case SourceExport:
		store, err := s.exportStore()
		if err != nil {
			return nil, err
		}
		return source.NewReplay(ctx, store)
	case SourceArchive:
		if req.Archive == "" {
			return nil, errors.New("no archive file given")
		}
		return source.NewReplay(ctx, export.ArchiveFile(req.Archive))
	default:
		return nil, fmt.Errorf("unknown record source: %s", req.Source)
	}
}

// remember adds a query to the history and saves it. The stored file is
// reloaded under a lock so queries run by other kseek processes are kept.
func (s *Service) remember(ctx context.Context, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist, err := history.Update(ctx, s.settings.HistoryFile, s.settings.Search.HistorySize, func(h *history.History) error {
		return h.Add(query, time.Now())
	})
	if err != nil {
		if !errors.Is(err, history.ErrEmptyQuery) {
			s.logger.Warn("Failed to record query", "error", err)
		}
		return
	}
	s.history = hist
}

// History returns the remembered queries, oldest first.
func (s *Service) History() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.List()
}

// LastQuery returns the most recently run query.
func (s *Service) LastQuery() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.history.Last()
	return entry.Query, ok
}

// ClearHistory forgets every query.
func (s *Service) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist, err := history.Update(ctx, s.settings.HistoryFile, s.settings.Search.HistorySize, func(h *history.History) error {
		h.Clear()
		return nil
	})
	if err != nil {
		return err
	}
	s.history = hist
	return nil
}

// ImportFilter validates the module at src and installs it in the filters
// directory, under name or the file name when name is empty.
func (s *Service) ImportFilter(ctx context.Context, src, name string, force bool) (FilterInfo, error) {
	path, err := s.filters.Import(ctx, src, name, force)
	if err != nil {
		return FilterInfo{}, err
	}
	return FilterInfo{Name: filter.ImportName(src, name), Path: path}, nil
}

// Filters lists the filter modules in the filters directory.
func (s *Service) Filters() ([]FilterInfo, error) {
	names, err := s.filters.Available()
	if err != nil {
		return nil, fmt.Errorf("failed to list search filters: %w", err)
	}
	loaded := make(map[string]bool)
	for _, name := range s.filters.Loaded() {
		loaded[name] = true
	}

	infos := make([]FilterInfo, len(names))
	for i, name := range names {
		infos[i] = FilterInfo{Name: name, Path: s.filters.ModulePath(name), Loaded: loaded[name]}
	}
	return infos, nil
}

// exportStore opens the export index on first use.
func (s *Service) exportStore() (*export.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exports != nil {
		return s.exports, nil
	}
	store, err := export.Open(s.settings.ExportDir)
	if err != nil {
		return nil, err
	}
	s.exports = store
	return store, nil
}

// FindExports runs a full-text search over exported records.
func (s *Service) FindExports(ctx context.Context, text, topic string, limit int) ([]domain.ExportedRecord, uint64, error) {
	store, err := s.exportStore()
	if err != nil {
		return nil, 0, err
	}
	return store.Find(ctx, text, topic, limit)
}

// DumpExports writes every exported record to an archive file and returns
// the number of records written.
func (s *Service) DumpExports(ctx context.Context, path string) (int, error) {
	if !export.Exists(s.settings.ExportDir) {
		return 0, fmt.Errorf("no exported records in %s", s.settings.ExportDir)
	}
	store, err := s.exportStore()
	if err != nil {
		return 0, err
	}
	records, err := store.Records(ctx)
	if err != nil {
		return 0, err
	}
	if err := export.WriteArchiveFile(path, records); err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return len(records), nil
}

// ClearExports removes every exported record.
func (s *Service) ClearExports() error {
	store, err := s.exportStore()
	if err != nil {
		return err
	}
	return store.Clear()
}

// Close releases the filter modules and the export index.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.filters.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close search filters: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exports != nil {
		if err := s.exports.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close export index: %w", err))
		}
		s.exports = nil
	}
	return errors.Join(errs...)
}
