package source

import (
	"context"
	"fmt"

	"github.com/sha1n/kseek/internal/domain"
)

// ExportReader lists previously exported records in export order.
type ExportReader interface {
	Records(ctx context.Context) ([]domain.ExportedRecord, error)
}

// NewReplay loads every record of an export so it can be searched again.
func NewReplay(ctx context.Context, exports ExportReader) (*Memory, error) {
	exported, err := exports.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read exported records: %w", err)
	}
	records := make([]domain.Record, len(exported))
	for i, e := range exported {
		records[i] = e.Record
	}
	return NewMemory(records), nil
}
