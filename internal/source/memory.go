package source

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/search"
)

// ErrNotAssigned is returned by Next before Assign.
var ErrNotAssigned = errors.New("source is not assigned")

// Memory serves a fixed set of records, for replaying exports and archives.
// Records are delivered in the order given. Having no live tail, a Memory
// source starts from the beginning when no position is given.
type Memory struct {
	records []domain.Record

	mu       sync.Mutex
	assigned bool
	selected []domain.Record
	next     int
}

// NewMemory creates a source over records.
func NewMemory(records []domain.Record) *Memory {
	return &Memory{records: records}
}

// Assign selects the records at or after start, per partition.
func (m *Memory) Assign(_ context.Context, start *search.FromDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = selectFrom(m.records, start)
	m.next = 0
	m.assigned = true
	return nil
}

func selectFrom(records []domain.Record, start *search.FromDescriptor) []domain.Record {
	if start == nil {
		return slices.Clone(records)
	}

	switch start.Kind {
	case search.PositionBeginning:
		return slices.Clone(records)
	case search.PositionEnd:
		return nil
	case search.PositionEndMinus:
		// keep the last n records of every partition
		remaining := make(map[string]int64)
		for _, r := range records {
			remaining[partitionKey(r)]++
		}
		var out []domain.Record
		for _, r := range records {
			key := partitionKey(r)
			if remaining[key] <= start.Value {
				out = append(out, r)
			}
			remaining[key]--
		}
		return out
	case search.PositionOffset:
		var out []domain.Record
		for _, r := range records {
			if r.Offset >= start.Value {
				out = append(out, r)
			}
		}
		return out
	default:
		var out []domain.Record
		for _, r := range records {
			if r.Timestamp != nil && *r.Timestamp >= start.Value {
				out = append(out, r)
			}
		}
		return out
	}
}

func partitionKey(r domain.Record) string {
	return domain.RecordID(r.Topic, r.Partition, 0)
}

// Next returns the next selected record, io.EOF when all were delivered.
func (m *Memory) Next(ctx context.Context) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.assigned {
		return domain.Record{}, ErrNotAssigned
	}
	if m.next >= len(m.selected) {
		return domain.Record{}, io.EOF
	}
	rec := m.selected[m.next]
	m.next++
	return rec, nil
}

// EstimateTotal returns the number of selected records.
func (m *Memory) EstimateTotal(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.selected)), nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
