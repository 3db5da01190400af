package search

import (
	"context"
	"strings"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/query"
	"github.com/valyala/fastjson"
)

// FilterInvoker runs a plugin filter against a record. params is the JSON
// array of the call parameters. Failures are reported by the invoker and
// surface here as a non-match.
type FilterInvoker interface {
	Invoke(ctx context.Context, name string, params []byte, rec *domain.Record) bool
}

// Evaluator decides whether a record satisfies an expression. It holds no
// per-record state and is safe for concurrent use.
type Evaluator struct {
	filters FilterInvoker
	parsers fastjson.ParserPool
}

// NewEvaluator creates an evaluator. filters may be nil, in which case every
// filter call is a non-match.
func NewEvaluator(filters FilterInvoker) *Evaluator {
	return &Evaluator{filters: filters}
}

// Matches evaluates expr against rec. A nil expression matches every record.
func (e *Evaluator) Matches(ctx context.Context, expr query.Expr, rec *domain.Record) bool {
	if expr == nil {
		return true
	}
	ev := evaluation{ctx: ctx, evaluator: e, rec: rec}
	defer ev.release()
	return ev.eval(expr)
}

// evaluation carries the state of a single Matches call: the record value is
// parsed at most once however many JSON paths the expression references.
type evaluation struct {
	ctx       context.Context
	evaluator *Evaluator
	rec       *domain.Record

	parser *fastjson.Parser
	value  *fastjson.Value
	parsed bool
}

func (ev *evaluation) release() {
	if ev.parser != nil {
		ev.evaluator.parsers.Put(ev.parser)
	}
}

func (ev *evaluation) eval(expr query.Expr) bool {
	switch n := expr.(type) {
	case query.Binary:
		if n.Op == query.OpAnd {
			return ev.eval(n.Left) && ev.eval(n.Right)
		}
		return ev.eval(n.Left) || ev.eval(n.Right)
	case query.Not:
		return !ev.eval(n.Expr)
	case query.Comparison:
		return ev.compare(n)
	case query.Between:
		return ev.between(n)
	case query.FilterCall:
		if ev.evaluator.filters == nil {
			return false
		}
		return ev.evaluator.filters.Invoke(ev.ctx, n.Name, EncodeParams(n.Params), ev.rec)
	default:
		return false
	}
}

func (ev *evaluation) compare(c query.Comparison) bool {
	rec := ev.rec
	switch c.Symbol {
	case query.SymbolOffset:
		return compareInt(rec.Offset, c.Op, c.Value.Num)
	case query.SymbolPartition:
		return compareInt(int64(rec.Partition), c.Op, c.Value.Num)
	case query.SymbolSize:
		return compareInt(int64(rec.Size), c.Op, c.Value.Num)
	case query.SymbolTimestamp:
		if rec.Timestamp == nil {
			return false
		}
		return compareInt(*rec.Timestamp, c.Op, c.Value.Millis())
	case query.SymbolTopic:
		return compareText(rec.Topic, c.Op, c.Value.Str)
	case query.SymbolKey:
		return compareText(rec.KeyString(), c.Op, c.Value.Str)
	case query.SymbolHeader:
		v, ok := rec.Header(c.Path)
		if !ok {
			return false
		}
		return compareText(v, c.Op, c.Value.Str)
	case query.SymbolValue:
		if c.Path == "" {
			return compareText(rec.ValueString(), c.Op, c.Value.Str)
		}
		v, ok := ev.jsonPath(c.Path)
		if !ok {
			return false
		}
		return compareText(v, c.Op, c.Value.Str)
	}
	return false
}

func (ev *evaluation) between(b query.Between) bool {
	var field int64
	switch b.Symbol {
	case query.SymbolOffset:
		field = ev.rec.Offset
	case query.SymbolPartition:
		field = int64(ev.rec.Partition)
	case query.SymbolSize:
		field = int64(ev.rec.Size)
	case query.SymbolTimestamp:
		if ev.rec.Timestamp == nil {
			return false
		}
		return *ev.rec.Timestamp >= b.Low.Millis() && *ev.rec.Timestamp <= b.High.Millis()
	default:
		return false
	}
	return field >= b.Low.Num && field <= b.High.Num
}

// jsonPath resolves a dotted path in the record value and stringifies the
// leaf: strings unquoted, anything else as compact JSON.
func (ev *evaluation) jsonPath(path string) (string, bool) {
	if !ev.parsed {
		ev.parsed = true
		if !ev.rec.Value.IsJSON() {
			return "", false
		}
		ev.parser = ev.evaluator.parsers.Get()
		v, err := ev.parser.Parse(ev.rec.ValueString())
		if err != nil {
			return "", false
		}
		ev.value = v
	}
	if ev.value == nil {
		return "", false
	}

	leaf := ev.value.Get(strings.Split(path, ".")...)
	if leaf == nil {
		return "", false
	}
	if leaf.Type() == fastjson.TypeString {
		return string(leaf.GetStringBytes()), true
	}
	return leaf.String(), true
}

func compareInt(field int64, op query.Operator, lit int64) bool {
	switch op {
	case query.OpEqual:
		return field == lit
	case query.OpNotEqual:
		return field != lit
	case query.OpGreater:
		return field > lit
	case query.OpGreaterOrEqual:
		return field >= lit
	case query.OpLower:
		return field < lit
	case query.OpLowerOrEqual:
		return field <= lit
	}
	return false
}

func compareText(field string, op query.Operator, lit string) bool {
	switch op {
	case query.OpEqual:
		return field == lit
	case query.OpNotEqual:
		return field != lit
	case query.OpContains:
		return strings.Contains(field, lit)
	case query.OpStartsWith:
		return strings.HasPrefix(field, lit)
	}
	return false
}
