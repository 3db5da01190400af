package query

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, input string) Query {
	t.Helper()
	q, err := ParseAt(input, fixedNow)
	if err != nil {
		t.Fatalf("ParseAt(%q) failed: %v", input, err)
	}
	return q
}

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"offset == 42", []TokenType{TokenIdent, TokenOp, TokenNumber, TokenEOF}},
		{`key != "a"`, []TokenType{TokenIdent, TokenOp, TokenString, TokenEOF}},
		{"a && b || !c", []TokenType{TokenIdent, TokenAndAnd, TokenIdent, TokenOrOr, TokenBang, TokenIdent, TokenEOF}},
		{"f(1, 'x')", []TokenType{TokenIdent, TokenLParen, TokenNumber, TokenComma, TokenString, TokenRParen, TokenEOF}},
		{"end - 10", []TokenType{TokenIdent, TokenMinus, TokenNumber, TokenEOF}},
		{"end-10", []TokenType{TokenIdent, TokenMinus, TokenNumber, TokenEOF}},
		{"header.content-type", []TokenType{TokenIdent, TokenEOF}},
		{"size >= 1_000", []TokenType{TokenIdent, TokenOp, TokenNumber, TokenEOF}},
		{"value =~ 'x'", []TokenType{TokenIdent, TokenOp, TokenString, TokenEOF}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lexer := NewLexer(tt.input)
			for i, expected := range tt.expected {
				tok := lexer.NextToken()
				if tok.Type != expected {
					t.Errorf("token %d: expected %v, got %v (%q)", i, expected, tok.Type, tok.Value)
				}
			}
		})
	}
}

func TestLexer_NumberUnderscores(t *testing.T) {
	tok := NewLexer("1_000_000").NextToken()
	if tok.Type != TokenNumber || tok.Value != "1000000" {
		t.Errorf("got %v %q, want number 1000000", tok.Type, tok.Value)
	}
}

func TestLexer_StringEscapes(t *testing.T) {
	tok := NewLexer(`"say \"hi\" \\ bye"`).NextToken()
	if tok.Type != TokenString || tok.Value != `say "hi" \ bye` {
		t.Errorf("got %v %q", tok.Type, tok.Value)
	}
}

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		q := mustParse(t, input)
		if !reflect.DeepEqual(q, Query{}) {
			t.Errorf("ParseAt(%q) = %+v, want zero query", input, q)
		}
	}
}

func TestParse_Expressions(t *testing.T) {
	tests := []struct {
		input string
		want  Expr
	}{
		{
			input: "offset == 42",
			want:  Comparison{Symbol: SymbolOffset, Op: OpEqual, Value: Number(42)},
		},
		{
			input: "o >= 1_000",
			want:  Comparison{Symbol: SymbolOffset, Op: OpGreaterOrEqual, Value: Number(1000)},
		},
		{
			input: `value.myInteger == "42"`,
			want:  Comparison{Symbol: SymbolValue, Path: "myInteger", Op: OpEqual, Value: String("42")},
		},
		{
			input: `v contains 'error'`,
			want:  Comparison{Symbol: SymbolValue, Op: OpContains, Value: String("error")},
		},
		{
			input: `key includes "a"`,
			want:  Comparison{Symbol: SymbolKey, Op: OpContains, Value: String("a")},
		},
		{
			input: `k ~= "a"`,
			want:  Comparison{Symbol: SymbolKey, Op: OpContains, Value: String("a")},
		},
		{
			input: `topic starts with "orders"`,
			want:  Comparison{Symbol: SymbolTopic, Op: OpStartsWith, Value: String("orders")},
		},
		{
			input: `header.content-type == "json"`,
			want:  Comparison{Symbol: SymbolHeader, Path: "content-type", Op: OpEqual, Value: String("json")},
		},
		{
			input: "partition between 1 and 3",
			want:  Between{Symbol: SymbolPartition, Low: Number(1), High: Number(3)},
		},
		{
			input: "a() or b() and c()",
			want: Binary{Op: OpOr,
				Left:  FilterCall{Name: "a"},
				Right: Binary{Op: OpAnd, Left: FilterCall{Name: "b"}, Right: FilterCall{Name: "c"}},
			},
		},
		{
			input: "(a() || b()) && !c()",
			want: Binary{Op: OpAnd,
				Left:  Binary{Op: OpOr, Left: FilterCall{Name: "a"}, Right: FilterCall{Name: "b"}},
				Right: Not{Expr: FilterCall{Name: "c"}},
			},
		},
		{
			input: "NOT (p == 1) AND p == 2",
			want: Binary{Op: OpAnd,
				Left:  Not{Expr: Comparison{Symbol: SymbolPartition, Op: OpEqual, Value: Number(1)}},
				Right: Comparison{Symbol: SymbolPartition, Op: OpEqual, Value: Number(2)},
			},
		},
		{
			input: `my_filter(10, "value")`,
			want:  FilterCall{Name: "my_filter", Params: []Literal{Number(10), String("value")}},
		},
		{
			input: "offset > 1 partition == 0",
			want: Binary{Op: OpAnd,
				Left:  Comparison{Symbol: SymbolOffset, Op: OpGreater, Value: Number(1)},
				Right: Comparison{Symbol: SymbolPartition, Op: OpEqual, Value: Number(0)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q := mustParse(t, tt.input)
			if !reflect.DeepEqual(q.Expr, tt.want) {
				t.Errorf("Expr = %#v\nwant %#v", q.Expr, tt.want)
			}
		})
	}
}

func TestParse_Timestamps(t *testing.T) {
	q := mustParse(t, `timestamp > "2 hours ago"`)
	cmp, ok := q.Expr.(Comparison)
	if !ok {
		t.Fatalf("Expr = %T, want Comparison", q.Expr)
	}
	if cmp.Value.Kind != LiteralTime {
		t.Fatalf("literal kind = %v, want time", cmp.Value.Kind)
	}
	if !cmp.Value.Time.Equal(fixedNow.Add(-2 * time.Hour)) {
		t.Errorf("Time = %v, want %v", cmp.Value.Time, fixedNow.Add(-2*time.Hour))
	}

	q = mustParse(t, `ts between "2024-01-01T00:00:00Z" and "2024-01-02T00:00:00Z"`)
	between, ok := q.Expr.(Between)
	if !ok {
		t.Fatalf("Expr = %T, want Between", q.Expr)
	}
	if between.Low.Millis() != time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("Low = %v", between.Low.Time)
	}

	q = mustParse(t, "timestamp >= 1700000000000")
	if got := q.Expr.(Comparison).Value; got.Kind != LiteralNumber || got.Millis() != 1700000000000 {
		t.Errorf("epoch literal = %+v", got)
	}
}

func TestParse_Clauses(t *testing.T) {
	tests := []struct {
		input     string
		wantFrom  *From
		wantLimit int
		wantOrder *OrderBy
	}{
		{input: "from begin", wantFrom: &From{Kind: FromBeginning}},
		{input: "FROM BEGINNING", wantFrom: &From{Kind: FromBeginning}},
		{input: "from end", wantFrom: &From{Kind: FromEnd}},
		{input: "from end - 10", wantFrom: &From{Kind: FromEndMinus, N: 10}},
		{input: "from 1_000", wantFrom: &From{Kind: FromOffset, N: 1000}},
		{
			input:    `from "1 day ago"`,
			wantFrom: &From{Kind: FromTimestamp, Time: fixedNow.AddDate(0, 0, -1), Text: "1 day ago"},
		},
		{input: "limit 10", wantLimit: 10},
		{input: "order by timestamp desc", wantOrder: &OrderBy{Symbol: SymbolTimestamp, Descending: true}},
		{input: "order by key", wantOrder: &OrderBy{Symbol: SymbolKey}},
		{input: "limit 5 from begin limit 7 from end", wantFrom: &From{Kind: FromEnd}, wantLimit: 7},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q := mustParse(t, tt.input)
			if !reflect.DeepEqual(q.From, tt.wantFrom) {
				t.Errorf("From = %+v, want %+v", q.From, tt.wantFrom)
			}
			if q.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", q.Limit, tt.wantLimit)
			}
			if !reflect.DeepEqual(q.Order, tt.wantOrder) {
				t.Errorf("Order = %+v, want %+v", q.Order, tt.wantOrder)
			}
			if q.Expr != nil {
				t.Errorf("Expr = %#v, want nil", q.Expr)
			}
		})
	}
}

func TestParse_ClausesWithExpression(t *testing.T) {
	q := mustParse(t, `from begin my_filter() limit 10`)
	if q.From == nil || q.From.Kind != FromBeginning {
		t.Errorf("From = %+v", q.From)
	}
	if q.Limit != 10 {
		t.Errorf("Limit = %d", q.Limit)
	}
	if !reflect.DeepEqual(q.Expr, FilterCall{Name: "my_filter"}) {
		t.Errorf("Expr = %#v", q.Expr)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input   string
		wantPos int
		wantMsg string
	}{
		{input: "offset ==", wantPos: 9, wantMsg: "expected string or number"},
		{input: "offset == 'abc'", wantPos: 10, wantMsg: "offset expects a number"},
		{input: "key == 42", wantPos: 7, wantMsg: "key expects a string"},
		{input: "topic > 'a'", wantPos: 6, wantMsg: "not supported for topic"},
		{input: "offset contains 1", wantPos: 7, wantMsg: "not supported for offset"},
		{input: "key between 'a' and 'b'", wantPos: 4, wantMsg: "not supported for key"},
		{input: "unknown == 1", wantPos: 0, wantMsg: "unknown field"},
		{input: "header == 'x'", wantPos: 0, wantMsg: "header name expected"},
		{input: "offset.x == 1", wantPos: 0, wantMsg: "has no sub-fields"},
		{input: "(offset == 1", wantPos: 12, wantMsg: "expected ')'"},
		{input: "key == 'abc", wantPos: 7, wantMsg: "unterminated string"},
		{input: "limit 0", wantPos: 6, wantMsg: "limit must be"},
		{input: "limit x", wantPos: 6, wantMsg: "expected number"},
		{input: "from somewhere", wantPos: 5, wantMsg: "expected 'begin'"},
		{input: "timestamp > 'yesterday-ish'", wantPos: 12, wantMsg: "invalid timestamp"},
		{input: "offset == 1__0", wantPos: 10, wantMsg: "malformed number"},
		{input: "order by header.x", wantPos: 9, wantMsg: "cannot order by"},
		{input: "f(1,)", wantPos: 4, wantMsg: "expected string or number"},
		{input: "offset == 1 and", wantPos: 15, wantMsg: "expected expression"},
		{input: "key starts 'x'", wantPos: 11, wantMsg: "expected 'with'"},
		{input: "offset == 99999999999999999999", wantPos: 10, wantMsg: "out of range"},
		{input: "offset @ 1", wantPos: 7, wantMsg: "unexpected character"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseAt(tt.input, fixedNow)
			if err == nil {
				t.Fatal("expected error")
			}
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Fatalf("error %v is %T, want *SyntaxError", err, err)
			}
			if syntaxErr.Pos != tt.wantPos {
				t.Errorf("Pos = %d, want %d (%v)", syntaxErr.Pos, tt.wantPos, err)
			}
			if !strings.Contains(syntaxErr.Msg, tt.wantMsg) {
				t.Errorf("Msg = %q, want it to contain %q", syntaxErr.Msg, tt.wantMsg)
			}
		})
	}
}

func TestSyntaxError_Pointer(t *testing.T) {
	err := &SyntaxError{Input: "offset ==", Pos: 9, Msg: "x"}
	want := "offset ==\n         ^"
	if got := err.Pointer(); got != want {
		t.Errorf("Pointer() = %q, want %q", got, want)
	}
}

func TestParse_Deterministic(t *testing.T) {
	inputs := []string{
		`from end - 10 value.a.b == "x" and (offset > 3 || !my_filter(1, "a")) limit 5 order by offset desc`,
		`timestamp between "3 days ago" and "1 hour ago"`,
		`key == 'k' key == 'j'`,
	}
	for _, input := range inputs {
		a := mustParse(t, input)
		b := mustParse(t, input)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("ParseAt(%q) is not deterministic:\n%#v\n%#v", input, a, b)
		}
	}
}

func TestQuery_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"offset == 42",
		"from begin my_filter()",
		`from end - 10 value.a.b == "x" and (offset > 3 || !my_filter(1, "a")) limit 5 order by offset desc`,
		`(a() or b()) and (c() or d())`,
		`a() and (b() and c())`,
		`!(a() and b())`,
		`!!a()`,
		`key == "quote \" and \\ backslash"`,
		`t starts with "orders" h.trace-id != "x" o between 1 and 9`,
		`timestamp between "3 days ago" and "1 hour ago"`,
		`timestamp >= 1700000000000 from "2024-01-01"`,
		`p == 0 or p == 1 p == 2`,
		`from 100 order by size`,
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			q := mustParse(t, input)
			printed := q.String()
			again, err := ParseAt(printed, fixedNow)
			if err != nil {
				t.Fatalf("re-parsing %q failed: %v", printed, err)
			}
			if !reflect.DeepEqual(q, again) {
				t.Errorf("round trip mismatch for %q (printed %q):\n%#v\n%#v", input, printed, q, again)
			}
		})
	}
}

func TestQuery_StringCanonical(t *testing.T) {
	q := mustParse(t, "o>=1_000 && k =~ 'x' from begin")
	want := `offset >= 1000 and key contains "x" from beginning`
	if got := q.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFilters(t *testing.T) {
	q := mustParse(t, `a(1) and (b() or !c("x"))`)
	calls := Filters(q.Expr)
	var names []string
	for _, c := range calls {
		names = append(names, c.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("Filters() names = %v", names)
	}
}
