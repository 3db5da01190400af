package export

import (
	"sync"

	"github.com/sha1n/kseek/internal/domain"
)

// Exporter collects the matches of one search and writes them to a Store
// with their time deltas.
type Exporter struct {
	store       *Store
	searchQuery string

	mu      sync.Mutex
	deltas  domain.Deltas
	pending []domain.ExportedRecord
	written int
}

// NewExporter creates an exporter for the matches of searchQuery.
func NewExporter(store *Store, searchQuery string) *Exporter {
	return &Exporter{store: store, searchQuery: searchQuery}
}

// Export queues rec, writing a batch to the store when full.
func (e *Exporter) Export(rec domain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exported := domain.ExportedRecord{Record: rec, SearchQuery: e.searchQuery}
	e.deltas.Apply(&exported)
	e.pending = append(e.pending, exported)
	if len(e.pending) >= MaxBatchSize {
		return e.flushLocked()
	}
	return nil
}

// Flush writes the queued records.
func (e *Exporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Exporter) flushLocked() error {
	if len(e.pending) == 0 {
		return nil
	}
	n, err := e.store.Add(e.pending)
	e.written += n
	e.pending = e.pending[:0]
	return err
}

// Written returns the number of records written to the store.
func (e *Exporter) Written() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}
