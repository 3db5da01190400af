// Package source provides the record sources a search consumes from.
package source

import (
	"context"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/search"
)

// Source delivers decoded records from a starting position.
type Source interface {
	// Assign positions the source. A nil start selects the source default.
	Assign(ctx context.Context, start *search.FromDescriptor) error

	// Next blocks until a record is available. It returns io.EOF once the
	// source is exhausted and the context error when ctx ends first; a
	// record is never consumed by a call that returns an error.
	Next(ctx context.Context) (domain.Record, error)

	// EstimateTotal estimates how many records Next will deliver from the
	// assigned position. Zero means unknown.
	EstimateTotal(ctx context.Context) (uint64, error)

	Close() error
}
