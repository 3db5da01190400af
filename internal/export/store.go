// Package export persists matched records so they can be reviewed, searched
// and replayed after a search ends.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/kseek/internal/domain"
)

const (
	// IndexName is the directory name of the export index.
	IndexName = "export.bleve"

	// MaxBatchSize is the maximum number of documents per batch
	MaxBatchSize = 100

	// PageSize is the number of documents read per page.
	PageSize = 500
)

// Store is a bleve index of exported records.
type Store struct {
	path  string
	index bleve.Index

	mu   sync.Mutex
	next uint64
}

// CreateIndexMapping creates the Bleve index mapping for exported records.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Key and value - analyzed for full-text search
	for _, name := range []string{domain.RecordFieldKey, domain.RecordFieldValue} {
		textField := bleve.NewTextFieldMapping()
		textField.Analyzer = standard.Name
		textField.Store = false
		docMapping.AddFieldMappingsAt(name, textField)
	}

	// Topic and query - keyword
	for _, name := range []string{domain.RecordFieldTopic, domain.RecordFieldSearchQuery} {
		keywordField := bleve.NewTextFieldMapping()
		keywordField.Analyzer = keyword.Name
		keywordField.Store = true
		docMapping.AddFieldMappingsAt(name, keywordField)
	}

	for _, name := range []string{
		domain.RecordFieldPartition,
		domain.RecordFieldOffset,
		domain.RecordFieldTimestamp,
		domain.RecordFieldSequence,
	} {
		numericField := bleve.NewNumericFieldMapping()
		numericField.Store = true
		docMapping.AddFieldMappingsAt(name, numericField)
	}

	// Source - the full record, stored but not indexed
	sourceField := bleve.NewTextFieldMapping()
	sourceField.Index = false
	sourceField.Store = true
	docMapping.AddFieldMappingsAt(domain.RecordFieldSource, sourceField)

	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.RecordFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Open opens the export index under dir, creating it when missing.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, IndexName)

	index, err := bleve.Open(path)
	if err != nil {
		index, err = bleve.New(path, CreateIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create export index: %w", err)
		}
	}

	s := &Store{path: path, index: index}
	last, err := s.lastSequence()
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	s.next = last + 1
	return s, nil
}

// Exists reports whether an export index exists under dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, IndexName))
	return err == nil
}

// Path returns the index directory.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) lastSequence() (uint64, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, 0, false)
	req.SortBy([]string{"-" + domain.RecordFieldSequence})
	req.Fields = []string{domain.RecordFieldSequence}

	res, err := s.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to read export sequence: %w", err)
	}
	if len(res.Hits) == 0 {
		return 0, nil
	}
	seq, _ := res.Hits[0].Fields[domain.RecordFieldSequence].(float64)
	return uint64(seq), nil
}

func toDocument(rec *domain.ExportedRecord) (map[string]any, error) {
	source, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		domain.RecordFieldID:          rec.ID(),
		domain.RecordFieldTopic:       rec.Topic,
		domain.RecordFieldPartition:   float64(rec.Partition),
		domain.RecordFieldOffset:      float64(rec.Offset),
		domain.RecordFieldKey:         rec.KeyString(),
		domain.RecordFieldValue:       rec.ValueString(),
		domain.RecordFieldSearchQuery: rec.SearchQuery,
		domain.RecordFieldSequence:    float64(rec.Sequence),
		domain.RecordFieldSource:      string(source),
	}
	if rec.Timestamp != nil {
		doc[domain.RecordFieldTimestamp] = float64(*rec.Timestamp)
	}
	return doc, nil
}

// Add stores records in batches, assigning each its export sequence number.
// A record exported again replaces its previous copy.
func (s *Store) Add(records []domain.ExportedRecord) (count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	batchSize := 0
	for i := range records {
		rec := &records[i]
		rec.Sequence = s.next
		doc, err := toDocument(rec)
		if err != nil {
			return count, fmt.Errorf("failed to encode record %s: %w", rec.ID(), err)
		}
		if err := batch.Index(rec.ID(), doc); err != nil {
			return count, fmt.Errorf("failed to index record %s: %w", rec.ID(), err)
		}
		s.next++
		batchSize++

		if batchSize >= MaxBatchSize {
			if err := s.index.Batch(batch); err != nil {
				return count, fmt.Errorf("batch index failed: %w", err)
			}
			count += batchSize
			batch = s.index.NewBatch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := s.index.Batch(batch); err != nil {
			return count, fmt.Errorf("final batch index failed: %w", err)
		}
		count += batchSize
	}
	return count, nil
}

// Count returns the number of exported records.
func (s *Store) Count() (uint64, error) {
	return s.index.DocCount()
}

// Records returns every exported record in export order.
func (s *Store) Records(ctx context.Context) ([]domain.ExportedRecord, error) {
	var out []domain.ExportedRecord
	err := s.Each(ctx, func(rec domain.ExportedRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Each calls fn for every exported record in export order, stopping at the
// first error.
func (s *Store) Each(ctx context.Context, fn func(domain.ExportedRecord) error) error {
	return s.page(ctx, bleve.NewMatchAllQuery(), 0, fn)
}

// Find runs a full-text search over record keys and values, optionally
// restricted to one topic, and returns up to limit records in export order
// along with the total number of hits.
func (s *Store) Find(ctx context.Context, text, topic string, limit int) ([]domain.ExportedRecord, uint64, error) {
	keyQuery := bleve.NewMatchQuery(text)
	keyQuery.SetField(domain.RecordFieldKey)
	valueQuery := bleve.NewMatchQuery(text)
	valueQuery.SetField(domain.RecordFieldValue)

	must := []query.Query{bleve.NewDisjunctionQuery(keyQuery, valueQuery)}
	if topic != "" {
		topicQuery := bleve.NewTermQuery(topic)
		topicQuery.SetField(domain.RecordFieldTopic)
		must = append(must, topicQuery)
	}

	var out []domain.ExportedRecord
	var total uint64
	q := bleve.NewConjunctionQuery(must...)
	err := s.page(ctx, q, limit, func(rec domain.ExportedRecord) error {
		out = append(out, rec)
		return nil
	}, func(t uint64) { total = t })
	return out, total, err
}

// page walks the hits of q sorted by sequence. A limit of zero reads all hits.
func (s *Store) page(ctx context.Context, q query.Query, limit int, fn func(domain.ExportedRecord) error, onTotal ...func(uint64)) error {
	from := 0
	for {
		size := PageSize
		if limit > 0 {
			size = min(size, limit-from)
			if size <= 0 {
				return nil
			}
		}

		req := bleve.NewSearchRequestOptions(q, size, from, false)
		req.SortBy([]string{domain.RecordFieldSequence})
		req.Fields = []string{domain.RecordFieldSource}

		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to read exported records: %w", err)
		}
		if from == 0 {
			for _, f := range onTotal {
				f(res.Total)
			}
		}

		for _, hit := range res.Hits {
			source, _ := hit.Fields[domain.RecordFieldSource].(string)
			var rec domain.ExportedRecord
			if err := json.Unmarshal([]byte(source), &rec); err != nil {
				return fmt.Errorf("failed to decode exported record %s: %w", hit.ID, err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}

		from += len(res.Hits)
		if len(res.Hits) < size || uint64(from) >= res.Total {
			return nil
		}
	}
}

// Clear removes every exported record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("failed to close export index: %w", err)
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove export index: %w", err)
	}
	index, err := bleve.New(s.path, CreateIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create export index: %w", err)
	}
	s.index = index
	s.next = 1
	return nil
}

// Close closes the index.
func (s *Store) Close() error {
	return s.index.Close()
}
