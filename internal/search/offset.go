package search

import (
	"fmt"
	"math"

	"github.com/sha1n/kseek/internal/query"
)

// TimestampPreRoll is subtracted from inclusive timestamp bounds so that a
// consumer seeking by time does not miss records on the boundary.
const TimestampPreRoll int64 = 1000

// PositionKind is the kind of a FromDescriptor.
type PositionKind int

const (
	PositionBeginning PositionKind = iota
	PositionEnd
	PositionEndMinus
	PositionOffset
	PositionTimestamp
)

// FromDescriptor tells a record source where to start consuming.
type FromDescriptor struct {
	Kind PositionKind
	// Value is the distance from the end, the offset or the epoch milliseconds.
	Value int64
}

func (d FromDescriptor) String() string {
	switch d.Kind {
	case PositionBeginning:
		return "beginning"
	case PositionEnd:
		return "end"
	case PositionEndMinus:
		return fmt.Sprintf("end - %d", d.Value)
	case PositionOffset:
		return fmt.Sprintf("offset %d", d.Value)
	default:
		return fmt.Sprintf("timestamp %d", d.Value)
	}
}

// StartPosition derives where consumption should begin. An explicit from
// clause always wins. Without one, comparisons joined by and at the top of
// the expression may imply a start: offset bounds are preferred over
// timestamp bounds and the largest bound of a kind wins. Comparisons under
// or and not never imply a start. A nil result leaves the choice to the source.
func StartPosition(q query.Query) *FromDescriptor {
	if q.From != nil {
		return fromClause(*q.From)
	}

	var offset, timestamp *int64
	for _, e := range conjuncts(q.Expr) {
		kind, bound, ok := lowerBound(e)
		if !ok {
			continue
		}
		switch kind {
		case PositionOffset:
			if offset == nil || bound > *offset {
				offset = &bound
			}
		case PositionTimestamp:
			if timestamp == nil || bound > *timestamp {
				timestamp = &bound
			}
		}
	}

	switch {
	case offset != nil:
		return &FromDescriptor{Kind: PositionOffset, Value: *offset}
	case timestamp != nil:
		return &FromDescriptor{Kind: PositionTimestamp, Value: *timestamp}
	}
	return nil
}

func fromClause(f query.From) *FromDescriptor {
	switch f.Kind {
	case query.FromBeginning:
		return &FromDescriptor{Kind: PositionBeginning}
	case query.FromEnd:
		return &FromDescriptor{Kind: PositionEnd}
	case query.FromEndMinus:
		return &FromDescriptor{Kind: PositionEndMinus, Value: f.N}
	case query.FromOffset:
		return &FromDescriptor{Kind: PositionOffset, Value: f.N}
	default:
		return &FromDescriptor{Kind: PositionTimestamp, Value: f.Time.UnixMilli()}
	}
}

// conjuncts flattens the top-level and chain of e.
func conjuncts(e query.Expr) []query.Expr {
	if b, ok := e.(query.Binary); ok && b.Op == query.OpAnd {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	if e == nil {
		return nil
	}
	return []query.Expr{e}
}

// lowerBound returns the start implied by a single comparison.
func lowerBound(e query.Expr) (PositionKind, int64, bool) {
	switch n := e.(type) {
	case query.Comparison:
		switch n.Symbol {
		case query.SymbolOffset:
			switch n.Op {
			case query.OpEqual, query.OpGreaterOrEqual:
				return PositionOffset, n.Value.Num, true
			case query.OpGreater:
				// no offset follows math.MaxInt64; starting there reads nothing
				return PositionOffset, min(n.Value.Num, math.MaxInt64-1) + 1, true
			}
		case query.SymbolTimestamp:
			switch n.Op {
			case query.OpEqual, query.OpGreaterOrEqual:
				return PositionTimestamp, n.Value.Millis() - TimestampPreRoll, true
			case query.OpGreater:
				return PositionTimestamp, n.Value.Millis(), true
			}
		}
	case query.Between:
		switch n.Symbol {
		case query.SymbolOffset:
			return PositionOffset, n.Low.Num, true
		case query.SymbolTimestamp:
			return PositionTimestamp, n.Low.Millis() - TimestampPreRoll, true
		}
	}
	return 0, 0, false
}
