package buffer

import (
	"cmp"
	"strings"
	"sync"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/query"
)

// Stats is a snapshot of the progress of a search.
type Stats struct {
	// Read is the number of records consumed from the source.
	Read uint64 `json:"read"`
	// Matched is the number of records that satisfied the query.
	Matched uint64 `json:"matched"`
	// TotalToRead is the estimated number of records the search will consume.
	TotalToRead uint64 `json:"total_to_read"`
	// BufferSize is the number of records currently held.
	BufferSize int `json:"buffer_size"`
}

// Buffer keeps the most recent matched records of a search along with its
// counters. All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	ring    *Ring[domain.Record]
	read    uint64
	matched uint64
	total   uint64

	// generation changes on every push or read; sorting is skipped when
	// neither the generation nor the order changed since the last sort.
	generation uint64
	sortedAt   uint64
	sortedBy   *query.OrderBy

	metrics *Broadcaster[Stats]
}

// New creates a buffer holding up to capacity records.
func New(capacity int) *Buffer {
	return &Buffer{
		ring:    NewRing[domain.Record](capacity),
		metrics: NewBroadcaster[Stats](),
	}
}

// Push stores a matched record, evicting the oldest when full, and returns
// the number of matched records so far.
func (b *Buffer) Push(rec domain.Record) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Push(rec)
	b.matched++
	b.generation++
	return b.matched
}

// NewRecordRead counts a record consumed from the source.
func (b *Buffer) NewRecordRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.read++
	b.generation++
}

// SetTotalToRead records the estimated number of records to consume.
func (b *Buffer) SetTotalToRead(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = n
}

// Sort orders the records by the given field. It reports whether the buffer
// was reordered; repeated calls without an intervening push or read are no-ops.
func (b *Buffer) Sort(order query.OrderBy) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sortedBy != nil && *b.sortedBy == order && b.sortedAt == b.generation {
		return false
	}
	b.ring.SortStableFunc(compareBy(order))
	b.sortedAt = b.generation
	b.sortedBy = &order
	return true
}

// compareBy returns the comparison for order. Records without a timestamp
// sort before records with one.
func compareBy(order query.OrderBy) func(a, b domain.Record) int {
	var fn func(a, b domain.Record) int
	switch order.Symbol {
	case query.SymbolTimestamp:
		fn = func(a, b domain.Record) int {
			switch {
			case a.Timestamp == nil && b.Timestamp == nil:
				return 0
			case a.Timestamp == nil:
				return -1
			case b.Timestamp == nil:
				return 1
			}
			return cmp.Compare(*a.Timestamp, *b.Timestamp)
		}
	case query.SymbolKey:
		fn = func(a, b domain.Record) int { return strings.Compare(a.KeyString(), b.KeyString()) }
	case query.SymbolValue:
		fn = func(a, b domain.Record) int { return strings.Compare(a.ValueString(), b.ValueString()) }
	case query.SymbolTopic:
		fn = func(a, b domain.Record) int { return strings.Compare(a.Topic, b.Topic) }
	case query.SymbolPartition:
		fn = func(a, b domain.Record) int { return cmp.Compare(a.Partition, b.Partition) }
	case query.SymbolOffset:
		fn = func(a, b domain.Record) int { return cmp.Compare(a.Offset, b.Offset) }
	case query.SymbolSize:
		fn = func(a, b domain.Record) int { return cmp.Compare(a.Size, b.Size) }
	default:
		fn = func(domain.Record, domain.Record) int { return 0 }
	}
	if order.Descending {
		return func(a, b domain.Record) int { return fn(b, a) }
	}
	return fn
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Buffer) statsLocked() Stats {
	return Stats{
		Read:        b.read,
		Matched:     b.matched,
		TotalToRead: b.total,
		BufferSize:  b.ring.Len(),
	}
}

// DispatchMetrics publishes the current stats to subscribers without blocking.
func (b *Buffer) DispatchMetrics() {
	b.metrics.Publish(b.Stats())
}

// Subscribe returns a channel of stats updates and a function to stop receiving them.
func (b *Buffer) Subscribe() (<-chan Stats, func()) {
	return b.metrics.Subscribe()
}

// Reset drops every record and zeroes the counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.ring.Reset()
	b.read = 0
	b.matched = 0
	b.total = 0
	b.generation = 0
	b.sortedAt = 0
	b.sortedBy = nil
	b.mu.Unlock()
	b.DispatchMetrics()
}

// Len returns the number of records held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

// Capacity returns the maximum number of records held.
func (b *Buffer) Capacity() int {
	return b.ring.Cap()
}

// Get returns the i-th record in buffer order.
func (b *Buffer) Get(i int) (domain.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.At(i)
}

// Snapshot copies the records in buffer order.
func (b *Buffer) Snapshot() []domain.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Slice()
}
