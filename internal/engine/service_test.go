package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sha1n/kseek/internal/buffer"
	"github.com/sha1n/kseek/internal/config"
	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/export"
	"github.com/sha1n/kseek/internal/filter"
	"github.com/sha1n/kseek/internal/pipeline"
	"github.com/sha1n/kseek/internal/query"
	"github.com/sha1n/kseek/internal/source"
)

type fakeModule struct{}

// Call matches records whose input mentions "vip".
func (fakeModule) Call(_ context.Context, function string, input []byte) ([]byte, error) {
	if function == filter.ParseParametersFunction {
		return nil, nil
	}
	if bytes.Contains(input, []byte("vip")) {
		return []byte(`{"match":true}`), nil
	}
	return []byte(`{"match":false}`), nil
}

func (fakeModule) HasFunction(string) bool { return true }

func (fakeModule) Close(context.Context) error { return nil }

type fakeRuntime struct{}

func (fakeRuntime) Load(context.Context, string, string) (filter.Module, error) {
	return fakeModule{}, nil
}

// countingModule counts parameter validations.
type countingModule struct {
	fakeModule
	validations *atomic.Int32
}

func (m countingModule) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	if function == filter.ParseParametersFunction {
		m.validations.Add(1)
	}
	return m.fakeModule.Call(ctx, function, input)
}

type countingRuntime struct {
	validations *atomic.Int32
}

func (r countingRuntime) Load(context.Context, string, string) (filter.Module, error) {
	return countingModule{validations: r.validations}, nil
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	workspace := t.TempDir()
	return &config.Settings{
		Workspace:   workspace,
		FiltersDir:  filepath.Join(workspace, "filters"),
		HistoryFile: filepath.Join(workspace, "history.json"),
		ExportDir:   filepath.Join(workspace, "export"),
		LogLevel:    "info",
		Consumer:    config.ConsumerSettings{BufferCapacity: 100, TimeoutInMs: 5},
		Search: config.SearchSettings{
			SortInterval:  50 * time.Millisecond,
			FilterTimeout: time.Second,
			MaxResults:    100,
			ResultsBuffer: 500,
			HistorySize:   10,
		},
	}
}

func testRecords() []domain.Record {
	var records []domain.Record
	for i := range 20 {
		value := "regular customer"
		if i%5 == 0 {
			value = "vip customer"
		}
		records = append(records, domain.Record{
			Topic:     "orders",
			Partition: int32(i % 2),
			Offset:    int64(i),
			Timestamp: domain.Millis(int64(1000 * i)),
			Value:     domain.DecodeData([]byte(value)),
		})
	}
	return records
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	settings := testSettings(t)
	if err := os.MkdirAll(settings.FiltersDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(settings.FiltersDir, "vip.wasm"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	opts = append([]Option{
		WithRuntime(fakeRuntime{}),
		WithSourceFactory(func(context.Context, Request) (source.Source, error) {
			return source.NewMemory(testRecords()), nil
		}),
	}, opts...)
	svc, err := NewService(settings, nil, opts...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestNewService_NilSettings(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Error("expected error for nil settings")
	}
}

func TestNewService_CorruptHistory(t *testing.T) {
	settings := testSettings(t)
	if err := os.WriteFile(settings.HistoryFile, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewService(settings, nil); err == nil {
		t.Error("expected error for a corrupt history file")
	}
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		offsets []int64
		state   pipeline.State
	}{
		{"value", "value contains 'vip' from beginning", []int64{0, 5, 10, 15}, pipeline.StateCompleted},
		{"filter", "vip() from beginning", []int64{0, 5, 10, 15}, pipeline.StateCompleted},
		{"limit", "partition == 1 from beginning limit 3", []int64{1, 3, 5}, pipeline.StateCancelled},
		{"order", "offset < 3 from beginning order by offset desc", []int64{2, 1, 0}, pipeline.StateCompleted},
		{"none", "key == 'missing' from beginning", nil, pipeline.StateCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)

			var mu sync.Mutex
			var streamed int
			result, err := svc.Search(context.Background(), Request{
				Query: tt.query,
				OnMatch: func(domain.Record) {
					mu.Lock()
					streamed++
					mu.Unlock()
				},
			})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if result.State != tt.state {
				t.Errorf("State = %v, want %v", result.State, tt.state)
			}
			if len(result.Records) != len(tt.offsets) {
				t.Fatalf("got %d records, want %d", len(result.Records), len(tt.offsets))
			}
			for i, want := range tt.offsets {
				if result.Records[i].Offset != want {
					t.Errorf("record %d offset = %d, want %d", i, result.Records[i].Offset, want)
				}
			}
			if int(result.Stats.Matched) != len(tt.offsets) || streamed != len(tt.offsets) {
				t.Errorf("Matched = %d, streamed = %d, want %d", result.Stats.Matched, streamed, len(tt.offsets))
			}
			if result.SearchID == "" {
				t.Error("expected a search id")
			}
		})
	}
}

func TestSearch_Progress(t *testing.T) {
	svc := newTestService(t)

	var updates int
	var last buffer.Stats
	result, err := svc.Search(context.Background(), Request{
		Query: "value contains 'vip' from beginning",
		OnProgress: func(stats buffer.Stats) {
			updates++
			last = stats
		},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if updates == 0 {
		t.Fatal("expected progress updates")
	}
	if last != result.Stats {
		t.Errorf("last progress = %+v, want final stats %+v", last, result.Stats)
	}
}

func TestSearch_Prepared(t *testing.T) {
	var validations atomic.Int32
	svc := newTestService(t, WithRuntime(countingRuntime{validations: &validations}))
	ctx := context.Background()

	vq, err := svc.Prepare(ctx, "vip() from beginning")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if got := validations.Load(); got != 1 {
		t.Fatalf("Prepare() validated parameters %d times, want 1", got)
	}

	result, err := svc.Search(ctx, Request{Query: "ignored", Prepared: vq})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := validations.Load(); got != 1 {
		t.Errorf("Search() validated a prepared query again, %d validations", got)
	}
	if len(result.Records) != 4 {
		t.Errorf("got %d records, want 4", len(result.Records))
	}
	if last, ok := svc.LastQuery(); !ok || last != "vip() from beginning" {
		t.Errorf("LastQuery() = %q, %v", last, ok)
	}
}

func TestSearch_InvalidQuery(t *testing.T) {
	opened := false
	svc := newTestService(t, WithSourceFactory(func(context.Context, Request) (source.Source, error) {
		opened = true
		return source.NewMemory(nil), nil
	}))

	_, err := svc.Search(context.Background(), Request{Query: "value =="})
	var syntaxErr *query.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Errorf("expected *query.SyntaxError, got %v", err)
	}

	_, err = svc.Search(context.Background(), Request{Query: "missing()"})
	var filterErr *filter.FilterError
	if !errors.As(err, &filterErr) {
		t.Errorf("expected *filter.FilterError, got %v", err)
	}
	if opened {
		t.Error("source must not be opened for an invalid query")
	}
	if len(svc.History()) != 0 {
		t.Error("invalid queries must not be remembered")
	}
}

func TestSearch_SourceError(t *testing.T) {
	svc := newTestService(t, WithSourceFactory(func(context.Context, Request) (source.Source, error) {
		return nil, errors.New("broker down")
	}))

	_, err := svc.Search(context.Background(), Request{Query: "offset > 1"})
	var sourceErr *pipeline.SourceError
	if !errors.As(err, &sourceErr) {
		t.Errorf("expected *pipeline.SourceError, got %v", err)
	}
}

func TestSearch_History(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, q := range []string{"offset > 1 from beginning", "offset > 2 from beginning", "offset > 1 from beginning"} {
		if _, err := svc.Search(ctx, Request{Query: q}); err != nil {
			t.Fatalf("Search(%q) error = %v", q, err)
		}
	}

	entries := svc.History()
	if len(entries) != 2 {
		t.Fatalf("got %d history entries, want 2", len(entries))
	}
	if entries[1].Query != "offset > 1 from beginning" || entries[1].Runs != 2 {
		t.Errorf("last entry = %+v", entries[1])
	}

	reloaded, err := NewService(svc.Settings(), nil, WithRuntime(fakeRuntime{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.History()) != 2 {
		t.Error("history was not saved")
	}

	if err := svc.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	if len(svc.History()) != 0 {
		t.Error("history was not cleared")
	}
}

func TestSearch_HistorySharedBetweenServices(t *testing.T) {
	first := newTestService(t)
	second, err := NewService(first.Settings(), nil, WithRuntime(fakeRuntime{}), WithSourceFactory(func(context.Context, Request) (source.Source, error) {
		return source.NewMemory(testRecords()), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := first.Search(ctx, Request{Query: "offset > 1 from beginning"}); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Search(ctx, Request{Query: "offset > 2 from beginning"}); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Search(ctx, Request{Query: "offset > 3 from beginning"}); err != nil {
		t.Fatal(err)
	}

	if got := len(first.History()); got != 3 {
		t.Errorf("got %d history entries, want 3", got)
	}
	last, ok := first.LastQuery()
	if !ok || last != "offset > 3 from beginning" {
		t.Errorf("LastQuery() = %q, %v", last, ok)
	}
}

func TestSearch_ExportAndReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Search(ctx, Request{Query: "value contains 'vip' from beginning", Export: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Exported != 4 {
		t.Fatalf("Exported = %d, want 4", result.Exported)
	}

	found, total, err := svc.FindExports(ctx, "vip", "", 10)
	if err != nil {
		t.Fatalf("FindExports() error = %v", err)
	}
	if total != 4 || len(found) != 4 {
		t.Errorf("FindExports() = %d records, total %d, want 4", len(found), total)
	}
	if found[0].SearchQuery != "value contains 'vip' from beginning" {
		t.Errorf("SearchQuery = %q", found[0].SearchQuery)
	}

	archive := filepath.Join(t.TempDir(), "vip"+export.ArchiveExtension)
	n, err := svc.DumpExports(ctx, archive)
	if err != nil || n != 4 {
		t.Fatalf("DumpExports() = %d, %v", n, err)
	}

	replay := newTestService(t)
	replay.sources = replay.openSource
	result, err = replay.Search(ctx, Request{Query: "offset >= 10", Source: SourceArchive, Archive: archive})
	if err != nil {
		t.Fatalf("archive Search() error = %v", err)
	}
	if result.State != pipeline.StateCompleted || len(result.Records) != 2 {
		t.Errorf("archive search = %v with %d records, want completed with 2", result.State, len(result.Records))
	}

	if err := svc.ClearExports(); err != nil {
		t.Fatalf("ClearExports() error = %v", err)
	}
	if _, total, _ := svc.FindExports(ctx, "vip", "", 10); total != 0 {
		t.Errorf("total after clear = %d, want 0", total)
	}
}

func TestDumpExports_NoIndex(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.DumpExports(context.Background(), filepath.Join(t.TempDir(), "out.ndjson.zst")); err == nil {
		t.Error("expected error without an export index")
	}
}

func TestOpenSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"kafka without brokers", Request{Source: SourceKafka}, true},
		{"default without brokers", Request{}, true},
		{"archive without file", Request{Source: SourceArchive}, true},
		{"missing archive", Request{Source: SourceArchive, Archive: filepath.Join(t.TempDir(), "none")}, true},
		{"empty export", Request{Source: SourceExport}, false},
		{"unknown", Request{Source: "ftp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := svc.openSource(ctx, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if src != nil {
				_ = src.Close()
			}
		})
	}

	svc.settings.Kafka = config.KafkaSettings{Brokers: []string{"localhost:9092"}, Topics: []string{"orders"}}
	src, err := svc.openSource(ctx, Request{Source: SourceKafka, StopAtEnd: true})
	if err != nil {
		t.Fatalf("openSource(kafka) error = %v", err)
	}
	if _, ok := src.(*source.Kafka); !ok {
		t.Errorf("expected *source.Kafka, got %T", src)
	}
	_ = src.Close()
}

func TestFilters(t *testing.T) {
	svc := newTestService(t)

	filters, err := svc.Filters()
	if err != nil {
		t.Fatalf("Filters() error = %v", err)
	}
	if len(filters) != 1 || filters[0].Name != "vip" || filters[0].Loaded {
		t.Fatalf("Filters() = %+v", filters)
	}

	if _, err := svc.Prepare(context.Background(), "vip()"); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	filters, _ = svc.Filters()
	if !filters[0].Loaded {
		t.Error("expected filter to be loaded after use")
	}
}

func TestImportFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "gold.wasm")
	if err := os.WriteFile(src, []byte("module"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := svc.ImportFilter(ctx, src, "", false)
	if err != nil {
		t.Fatalf("ImportFilter() error = %v", err)
	}
	if info.Name != "gold" || info.Path != filepath.Join(svc.Settings().FiltersDir, "gold.wasm") {
		t.Errorf("ImportFilter() = %+v", info)
	}
	if _, err := svc.Prepare(ctx, "gold() from beginning"); err != nil {
		t.Errorf("imported filter should resolve, got %v", err)
	}

	if _, err := svc.ImportFilter(ctx, src, "vip", false); !errors.Is(err, filter.ErrFilterExists) {
		t.Errorf("ImportFilter() over an existing filter = %v, want ErrFilterExists", err)
	}
	if _, err := svc.ImportFilter(ctx, src, "vip", true); err != nil {
		t.Errorf("ImportFilter(force) error = %v", err)
	}
}
