package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/query"
	"github.com/valyala/fastjson"
)

// ErrNoFilterRegistry is returned when a query calls a filter but the
// searcher was created without a registry.
var ErrNoFilterRegistry = errors.New("no search filter registry configured")

// FilterRegistry resolves and runs plugin filters.
type FilterRegistry interface {
	FilterInvoker
	// Resolve loads the named filter and validates its parameters, given as a JSON array.
	Resolve(ctx context.Context, name string, params []byte) error
}

// Searcher turns query text into validated queries.
type Searcher struct {
	filters   FilterRegistry
	evaluator *Evaluator
	now       func() time.Time
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithClock sets the clock relative timestamps resolve against.
func WithClock(now func() time.Time) Option {
	return func(s *Searcher) {
		s.now = now
	}
}

// NewSearcher creates a searcher. filters may be nil when plugin filters are
// not available.
func NewSearcher(filters FilterRegistry, opts ...Option) *Searcher {
	s := &Searcher{filters: filters, evaluator: NewEvaluator(filters), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare parses text and resolves every filter it calls. It returns a
// *query.SyntaxError for malformed text and the registry error for a filter
// that cannot be loaded or rejects its parameters.
func (s *Searcher) Prepare(ctx context.Context, text string) (*ValidQuery, error) {
	q, err := query.ParseAt(text, s.now())
	if err != nil {
		return nil, err
	}

	for _, call := range query.Filters(q.Expr) {
		if s.filters == nil {
			return nil, fmt.Errorf("search filter '%s': %w", call.Name, ErrNoFilterRegistry)
		}
		if err := s.filters.Resolve(ctx, call.Name, EncodeParams(call.Params)); err != nil {
			return nil, err
		}
	}

	return &ValidQuery{
		text:      text,
		query:     q,
		start:     StartPosition(q),
		evaluator: s.evaluator,
	}, nil
}

// EncodeParams renders filter parameters as a JSON array.
func EncodeParams(params []query.Literal) []byte {
	var a fastjson.Arena
	arr := a.NewArray()
	for i, p := range params {
		if p.Kind == query.LiteralNumber {
			arr.SetArrayItem(i, a.NewNumberString(strconv.FormatInt(p.Num, 10)))
		} else {
			arr.SetArrayItem(i, a.NewString(p.Str))
		}
	}
	return arr.MarshalTo(nil)
}

// ValidQuery is a parsed query whose filters have all been resolved.
type ValidQuery struct {
	text      string
	query     query.Query
	start     *FromDescriptor
	evaluator *Evaluator
}

// Text returns the query as typed.
func (v *ValidQuery) Text() string {
	return v.text
}

// Query returns the parsed query.
func (v *ValidQuery) Query() query.Query {
	return v.query
}

// StartPosition returns where consumption should begin, nil for the source default.
func (v *ValidQuery) StartPosition() *FromDescriptor {
	return v.start
}

// Limit returns the maximum number of matches, 0 when unlimited.
func (v *ValidQuery) Limit() int {
	return v.query.Limit
}

// Order returns the requested buffer ordering, nil when absent.
func (v *ValidQuery) Order() *query.OrderBy {
	return v.query.Order
}

// Matches evaluates the query expression against rec.
func (v *ValidQuery) Matches(ctx context.Context, rec *domain.Record) bool {
	return v.evaluator.Matches(ctx, v.query.Expr, rec)
}

func (v *ValidQuery) String() string {
	return v.query.String()
}
