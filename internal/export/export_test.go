package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sha1n/kseek/internal/domain"
)

// closeStore is a helper to close a store in tests and fail on error
func closeStore(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Errorf("Failed to close store: %v", err)
	}
}

func sampleRecord(offset int64, value string, ts *int64) domain.Record {
	return domain.Record{
		Topic:     "orders",
		Partition: 0,
		Offset:    offset,
		Timestamp: ts,
		Key:       domain.DecodeData([]byte("key-" + value)),
		Value:     domain.DecodeData([]byte(value)),
	}
}

func exportedOffsets(records []domain.ExportedRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Offset
	}
	return out
}

func TestOpen_CreatesIndex(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Fatal("Exists() before Open should be false")
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)

	if !Exists(dir) {
		t.Error("Exists() after Open should be true")
	}
	if s.Path() != filepath.Join(dir, IndexName) {
		t.Errorf("Path() = %s", s.Path())
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestExporter_WritesRecordsInOrderWithDeltas(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)

	e := NewExporter(s, "value contains \"paid\"")
	inputs := []domain.Record{
		sampleRecord(30, `{"status":"paid"}`, domain.Millis(1000)),
		sampleRecord(10, "paid in full", domain.Millis(1500)),
		sampleRecord(20, "paid late", nil),
		sampleRecord(40, "paid again", domain.Millis(4000)),
	}
	for _, r := range inputs {
		if err := e.Export(r); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if e.Written() != 4 {
		t.Errorf("Written() = %d, want 4", e.Written())
	}

	got, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if offsets := exportedOffsets(got); !reflect.DeepEqual(offsets, []int64{30, 10, 20, 40}) {
		t.Fatalf("export order = %v", offsets)
	}

	deltas := [][2]int64{{0, 0}, {500, 500}, {0, 0}, {3000, 2500}}
	for i, r := range got {
		if r.AbsoluteDeltaMs != deltas[i][0] || r.RelativeDeltaMs != deltas[i][1] {
			t.Errorf("record %d deltas = %d/%d, want %v", i, r.AbsoluteDeltaMs, r.RelativeDeltaMs, deltas[i])
		}
		if r.SearchQuery != `value contains "paid"` {
			t.Errorf("record %d SearchQuery = %q", i, r.SearchQuery)
		}
		if r.Sequence != uint64(i+1) {
			t.Errorf("record %d Sequence = %d", i, r.Sequence)
		}
	}
	if got[0].Value.Kind != domain.DataJSON || got[1].Value.Kind != domain.DataString {
		t.Errorf("value kinds = %v, %v", got[0].Value.Kind, got[1].Value.Kind)
	}
	if got[2].Timestamp != nil || got[2].DateTime != "" {
		t.Errorf("record without timestamp = %+v", got[2])
	}
}

func TestStore_SequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.Add([]domain.ExportedRecord{{Record: sampleRecord(1, "a", nil)}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	closeStore(t, s)

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer closeStore(t, s)
	if _, err := s.Add([]domain.ExportedRecord{{Record: sampleRecord(2, "b", nil)}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(got) != 2 || got[1].Sequence != 2 {
		t.Errorf("records = %+v", got)
	}
}

func TestStore_ManyRecordsArePaged(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)

	records := make([]domain.ExportedRecord, PageSize+MaxBatchSize+7)
	for i := range records {
		records[i] = domain.ExportedRecord{Record: sampleRecord(int64(i), "v", nil)}
	}
	n, err := s.Add(records)
	if err != nil || n != len(records) {
		t.Fatalf("Add() = %d, %v", n, err)
	}

	got, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("Records() returned %d, want %d", len(got), len(records))
	}
	for i, r := range got {
		if r.Offset != int64(i) {
			t.Fatalf("record %d has offset %d", i, r.Offset)
		}
	}
}

func TestStore_Find(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)

	other := sampleRecord(3, "payment failed", nil)
	other.Topic = "payments"
	_, err = s.Add([]domain.ExportedRecord{
		{Record: sampleRecord(1, "payment accepted", nil)},
		{Record: sampleRecord(2, "order shipped", nil)},
		{Record: other},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	tests := []struct {
		name  string
		text  string
		topic string
		limit int
		want  []int64
		total uint64
	}{
		{"all topics", "payment", "", 0, []int64{1, 3}, 2},
		{"one topic", "payment", "payments", 0, []int64{3}, 1},
		{"limited", "payment", "", 1, []int64{1}, 2},
		{"single hit", "shipped", "", 0, []int64{2}, 1},
		{"no match", "refund", "", 0, []int64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.Find(context.Background(), tt.text, tt.topic, tt.limit)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if offsets := exportedOffsets(got); !reflect.DeepEqual(offsets, tt.want) {
				t.Errorf("Find() = %v, want %v", offsets, tt.want)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
		})
	}
}

func TestStore_Clear(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)

	_, _ = s.Add([]domain.ExportedRecord{{Record: sampleRecord(1, "a", nil)}})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() after Clear = %d", n)
	}
}

func TestStore_EachStopsOnError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeStore(t, s)
	_, _ = s.Add([]domain.ExportedRecord{
		{Record: sampleRecord(1, "a", nil)},
		{Record: sampleRecord(2, "b", nil)},
	})

	stop := errors.New("stop")
	calls := 0
	err = s.Each(context.Background(), func(domain.ExportedRecord) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Each() = %v after %d calls", err, calls)
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	records := []domain.ExportedRecord{
		{Record: sampleRecord(1, `{"a":[1,2]}`, domain.Millis(1000)), SearchQuery: "q", Sequence: 1},
		{Record: sampleRecord(2, "plain", nil), Sequence: 2},
	}
	records[0].Headers = []domain.Header{{Key: "h", Value: "v"}}

	var buf bytes.Buffer
	if err := WriteArchive(&buf, records); err != nil {
		t.Fatalf("WriteArchive() error = %v", err)
	}
	got, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive() error = %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("ReadArchive() = %+v, want %+v", got, records)
	}
}

func TestArchiveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump"+ArchiveExtension)
	records := []domain.ExportedRecord{{Record: sampleRecord(5, "x", nil), Sequence: 1}}
	if err := WriteArchiveFile(path, records); err != nil {
		t.Fatalf("WriteArchiveFile() error = %v", err)
	}

	got, err := ArchiveFile(path).Records(context.Background())
	if err != nil || len(got) != 1 || got[0].Offset != 5 {
		t.Errorf("Records() = %+v, %v", got, err)
	}

	if _, err := ArchiveFile(filepath.Join(t.TempDir(), "missing")).Records(context.Background()); err == nil {
		t.Error("Records() for a missing archive should fail")
	}
}

func TestReadArchive_Corrupt(t *testing.T) {
	if _, err := ReadArchive(bytes.NewReader([]byte("not zstd"))); err == nil {
		t.Error("ReadArchive() of garbage should fail")
	}
}
