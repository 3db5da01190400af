package query

import "time"

// Query is the parsed form of a search query. The zero value matches every
// record, starts from the source default position and has no limit.
type Query struct {
	// Expr is the filter expression, nil when the query has none.
	Expr Expr
	// From is the explicit start position, nil when absent.
	From *From
	// Limit is the maximum number of matches, 0 means unlimited.
	Limit int
	// Order is the requested ordering of the buffer, nil when absent.
	Order *OrderBy
}

// HasLimit reports whether the query carries a LIMIT clause.
func (q Query) HasLimit() bool {
	return q.Limit > 0
}

// Expr is the interface implemented by all expression nodes.
type Expr interface {
	expr() // marker method
}

// LogicalOp is the operator of a Binary expression.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
)

// Binary represents a binary logical expression (and, or).
type Binary struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

func (Binary) expr() {}

// Not negates its inner expression.
type Not struct {
	Expr Expr
}

func (Not) expr() {}

// Comparison compares a record field with a literal.
type Comparison struct {
	Symbol Symbol
	// Path is the JSON path for SymbolValue or the header name for SymbolHeader.
	Path  string
	Op    Operator
	Value Literal
}

func (Comparison) expr() {}

// Between is an inclusive range comparison.
type Between struct {
	Symbol Symbol
	Low    Literal
	High   Literal
}

func (Between) expr() {}

// FilterCall invokes a plugin filter by name.
type FilterCall struct {
	Name   string
	Params []Literal
}

func (FilterCall) expr() {}

// Symbol names a record field.
type Symbol int

const (
	SymbolTopic Symbol = iota
	SymbolKey
	SymbolValue
	SymbolHeader
	SymbolOffset
	SymbolPartition
	SymbolSize
	SymbolTimestamp
)

var symbolNames = [...]string{
	SymbolTopic:     "topic",
	SymbolKey:       "key",
	SymbolValue:     "value",
	SymbolHeader:    "header",
	SymbolOffset:    "offset",
	SymbolPartition: "partition",
	SymbolSize:      "size",
	SymbolTimestamp: "timestamp",
}

func (s Symbol) String() string {
	return symbolNames[s]
}

// IsNumeric reports whether the symbol compares as an integer.
func (s Symbol) IsNumeric() bool {
	return s == SymbolOffset || s == SymbolPartition || s == SymbolSize
}

// IsText reports whether the symbol compares as a string.
func (s Symbol) IsText() bool {
	return s == SymbolTopic || s == SymbolKey || s == SymbolValue || s == SymbolHeader
}

// symbolAliases maps every accepted spelling to its symbol.
var symbolAliases = map[string]Symbol{
	"topic": SymbolTopic, "t": SymbolTopic,
	"key": SymbolKey, "k": SymbolKey,
	"value": SymbolValue, "v": SymbolValue,
	"header": SymbolHeader, "headers": SymbolHeader, "h": SymbolHeader,
	"offset": SymbolOffset, "o": SymbolOffset,
	"partition": SymbolPartition, "p": SymbolPartition,
	"size": SymbolSize, "si": SymbolSize,
	"timestamp": SymbolTimestamp, "ts": SymbolTimestamp,
}

// Operator is a comparison operator.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreater
	OpGreaterOrEqual
	OpLower
	OpLowerOrEqual
	OpContains
	OpStartsWith
)

var operatorNames = [...]string{
	OpEqual:          "==",
	OpNotEqual:       "!=",
	OpGreater:        ">",
	OpGreaterOrEqual: ">=",
	OpLower:          "<",
	OpLowerOrEqual:   "<=",
	OpContains:       "contains",
	OpStartsWith:     "starts with",
}

func (o Operator) String() string {
	return operatorNames[o]
}

// IsOrdering reports whether the operator is one of == != > >= < <=.
func (o Operator) IsOrdering() bool {
	return o <= OpLowerOrEqual
}

// LiteralKind is the type of a Literal.
type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralTime
)

// Literal is a constant operand. Time literals keep the text they were
// written with so that the query prints back the way it was typed.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  int64
	Time time.Time
}

// String builds a string literal.
func String(s string) Literal {
	return Literal{Kind: LiteralString, Str: s}
}

// Number builds a number literal.
func Number(n int64) Literal {
	return Literal{Kind: LiteralNumber, Num: n}
}

// Millis returns the literal as epoch milliseconds. Only meaningful for
// time literals and number literals used as timestamps.
func (l Literal) Millis() int64 {
	if l.Kind == LiteralTime {
		return l.Time.UnixMilli()
	}
	return l.Num
}

// FromKind is the kind of an explicit start position.
type FromKind int

const (
	FromBeginning FromKind = iota
	FromEnd
	FromEndMinus
	FromOffset
	FromTimestamp
)

// From is an explicit start position.
type From struct {
	Kind FromKind
	// N is the distance from the end for FromEndMinus and the offset for FromOffset.
	N int64
	// Time is set for FromTimestamp, Text holds the literal it was parsed from.
	Time time.Time
	Text string
}

// OrderBy orders the buffer by a record field.
type OrderBy struct {
	Symbol     Symbol
	Descending bool
}
