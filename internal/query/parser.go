package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parser parses query text into a Query.
type Parser struct {
	input   string
	lexer   *Lexer
	current Token
	now     time.Time
}

// Parse parses the input. Relative timestamps resolve against the current time.
func Parse(input string) (Query, error) {
	return ParseAt(input, time.Now())
}

// ParseAt parses the input resolving relative timestamps against now. The
// same input and clock always yield equal queries.
func ParseAt(input string, now time.Time) (Query, error) {
	p := &Parser{input: input, lexer: NewLexer(input), now: now}
	p.advance()

	var q Query
	for p.current.Type != TokenEOF {
		if err := p.parseClause(&q); err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

// peek returns the token after the current one without consuming it.
func (p *Parser) peek() Token {
	l := *p.lexer
	return l.NextToken()
}

func (p *Parser) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Input: p.input, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// unexpected reports the current token as unexpected, or the lexical error it carries.
func (p *Parser) unexpected(want string) error {
	if p.current.Type == TokenIllegal {
		return p.errorf(p.current.Pos, "%s", p.current.Value)
	}
	return p.errorf(p.current.Pos, "expected %s, found %s", want, p.current.describe())
}

func (p *Parser) isKeyword(words ...string) bool {
	return isKeyword(p.current, words...)
}

func isKeyword(tok Token, words ...string) bool {
	if tok.Type != TokenIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(tok.Value, w) {
			return true
		}
	}
	return false
}

// parseClause parses one clause and folds it into q. Expression clauses are
// combined with and; for the other clauses the last occurrence wins.
func (p *Parser) parseClause(q *Query) error {
	next := p.peek()
	switch {
	case p.isKeyword("from") && next.Type != TokenLParen:
		from, err := p.parseFrom()
		if err != nil {
			return err
		}
		q.From = from
		return nil

	case p.isKeyword("limit") && next.Type != TokenLParen:
		limit, err := p.parseLimit()
		if err != nil {
			return err
		}
		q.Limit = limit
		return nil

	case p.isKeyword("order") && isKeyword(next, "by"):
		order, err := p.parseOrder()
		if err != nil {
			return err
		}
		q.Order = order
		return nil
	}

	e, err := p.parseOr()
	if err != nil {
		return err
	}
	if q.Expr == nil {
		q.Expr = e
	} else {
		q.Expr = Binary{Op: OpAnd, Left: q.Expr, Right: e}
	}
	return nil
}

// parseOr handles or expressions (lowest precedence).
func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOrOr || p.isKeyword("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpOr, Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles and expressions.
func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenAndAnd || p.isKeyword("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpAnd, Left: left, Right: right}
	}

	return left, nil
}

// parseNot handles negation, which binds tighter than and.
func (p *Parser) parseNot() (Expr, error) {
	if p.current.Type == TokenBang || (p.isKeyword("not") && p.peek().Type != TokenLParen) || p.isNotGroup() {
		p.advance()
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{Expr: e}, nil
	}
	return p.parsePrimary()
}

// isNotGroup distinguishes "not (...)" from a filter named not.
func (p *Parser) isNotGroup() bool {
	if !p.isKeyword("not") {
		return false
	}
	l := *p.lexer
	if l.NextToken().Type != TokenLParen {
		return false
	}
	// "not(" followed by an expression start is a negated group.
	switch l.NextToken().Type {
	case TokenLParen, TokenBang, TokenIdent:
		return true
	}
	return false
}

// parsePrimary handles parenthesized expressions, filter calls and comparisons.
func (p *Parser) parsePrimary() (Expr, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.unexpected("')'")
		}
		p.advance()
		return e, nil

	case TokenIdent:
		if p.peek().Type == TokenLParen {
			return p.parseFilterCall()
		}
		return p.parseComparison()

	default:
		return nil, p.unexpected("expression")
	}
}

func (p *Parser) parseFilterCall() (Expr, error) {
	call := FilterCall{Name: p.current.Value}
	p.advance() // name
	p.advance() // (

	if p.current.Type == TokenRParen {
		p.advance()
		return call, nil
	}
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		call.Params = append(call.Params, lit)

		switch p.current.Type {
		case TokenComma:
			p.advance()
		case TokenRParen:
			p.advance()
			return call, nil
		default:
			return nil, p.unexpected("',' or ')'")
		}
	}
}

// parseSymbol parses a field reference such as offset, value.user.id or header.trace-id.
func (p *Parser) parseSymbol() (Symbol, string, error) {
	tok := p.current
	base, path, dotted := strings.Cut(tok.Value, ".")
	sym, ok := symbolAliases[strings.ToLower(base)]
	if !ok {
		return 0, "", p.errorf(tok.Pos, "unknown field %s", quote(tok.Value))
	}
	switch {
	case sym == SymbolHeader && path == "":
		return 0, "", p.errorf(tok.Pos, "header name expected, e.g. header.content-type")
	case sym == SymbolValue && dotted && path == "":
		return 0, "", p.errorf(tok.Pos, "empty JSON path after %s", quote(tok.Value))
	case sym != SymbolHeader && sym != SymbolValue && dotted:
		return 0, "", p.errorf(tok.Pos, "field %s has no sub-fields", quote(base))
	}
	p.advance()
	return sym, path, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	sym, path, err := p.parseSymbol()
	if err != nil {
		return nil, err
	}

	opTok := p.current
	if p.isKeyword("between") {
		p.advance()
		return p.parseBetween(sym, opTok)
	}

	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}
	if !operatorAllowed(sym, op) {
		return nil, p.errorf(opTok.Pos, "operator %s is not supported for %s", quote(op.String()), sym)
	}

	lit, err := p.parseOperand(sym)
	if err != nil {
		return nil, err
	}
	return Comparison{Symbol: sym, Path: path, Op: op, Value: lit}, nil
}

func (p *Parser) parseBetween(sym Symbol, opTok Token) (Expr, error) {
	if !sym.IsNumeric() && sym != SymbolTimestamp {
		return nil, p.errorf(opTok.Pos, "operator 'between' is not supported for %s", sym)
	}
	low, err := p.parseOperand(sym)
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("and") {
		return nil, p.unexpected("'and'")
	}
	p.advance()
	high, err := p.parseOperand(sym)
	if err != nil {
		return nil, err
	}
	return Between{Symbol: sym, Low: low, High: high}, nil
}

var operatorTokens = map[string]Operator{
	"==": OpEqual,
	"!=": OpNotEqual,
	">":  OpGreater,
	">=": OpGreaterOrEqual,
	"<":  OpLower,
	"<=": OpLowerOrEqual,
	"=~": OpContains,
	"~=": OpContains,
}

func (p *Parser) parseOperator() (Operator, error) {
	if p.current.Type == TokenOp {
		op := operatorTokens[p.current.Value]
		p.advance()
		return op, nil
	}
	switch {
	case p.isKeyword("contains", "contain", "includes", "include"):
		p.advance()
		return OpContains, nil
	case p.isKeyword("starts"):
		p.advance()
		if !p.isKeyword("with") {
			return 0, p.unexpected("'with'")
		}
		p.advance()
		return OpStartsWith, nil
	}
	return 0, p.unexpected("operator")
}

func operatorAllowed(sym Symbol, op Operator) bool {
	if sym.IsText() {
		return op == OpEqual || op == OpNotEqual || op == OpContains || op == OpStartsWith
	}
	return op.IsOrdering()
}

// parseOperand parses a literal and checks it against the type of sym.
func (p *Parser) parseOperand(sym Symbol) (Literal, error) {
	tok := p.current
	lit, err := p.parseLiteral()
	if err != nil {
		return Literal{}, err
	}

	switch {
	case sym.IsNumeric():
		if lit.Kind != LiteralNumber {
			return Literal{}, p.errorf(tok.Pos, "%s expects a number, found %s", sym, tok.describe())
		}
	case sym.IsText():
		if lit.Kind != LiteralString {
			return Literal{}, p.errorf(tok.Pos, "%s expects a string, found %s", sym, tok.describe())
		}
	case sym == SymbolTimestamp:
		if lit.Kind == LiteralString {
			t, err := ParseTime(lit.Str, p.now)
			if err != nil {
				return Literal{}, p.errorf(tok.Pos, "%v", err)
			}
			return Literal{Kind: LiteralTime, Str: lit.Str, Time: t}, nil
		}
	}
	return lit, nil
}

func (p *Parser) parseLiteral() (Literal, error) {
	switch p.current.Type {
	case TokenString:
		lit := String(p.current.Value)
		p.advance()
		return lit, nil
	case TokenNumber:
		n, err := p.parseNumber()
		if err != nil {
			return Literal{}, err
		}
		return Number(n), nil
	default:
		return Literal{}, p.unexpected("string or number")
	}
}

func (p *Parser) parseNumber() (int64, error) {
	if p.current.Type != TokenNumber {
		return 0, p.unexpected("number")
	}
	n, err := strconv.ParseInt(p.current.Value, 10, 64)
	if err != nil {
		return 0, p.errorf(p.current.Pos, "number %s is out of range", p.current.Value)
	}
	p.advance()
	return n, nil
}

func (p *Parser) parseFrom() (*From, error) {
	p.advance() // from

	switch {
	case p.isKeyword("begin", "beginning"):
		p.advance()
		return &From{Kind: FromBeginning}, nil

	case p.isKeyword("end"):
		p.advance()
		if p.current.Type != TokenMinus {
			return &From{Kind: FromEnd}, nil
		}
		p.advance()
		n, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		return &From{Kind: FromEndMinus, N: n}, nil

	case p.current.Type == TokenNumber:
		n, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		return &From{Kind: FromOffset, N: n}, nil

	case p.current.Type == TokenString:
		tok := p.current
		t, err := ParseTime(tok.Value, p.now)
		if err != nil {
			return nil, p.errorf(tok.Pos, "%v", err)
		}
		p.advance()
		return &From{Kind: FromTimestamp, Time: t, Text: tok.Value}, nil
	}
	return nil, p.unexpected("'begin', 'end', 'end - n', an offset or a timestamp")
}

func (p *Parser) parseLimit() (int, error) {
	p.advance() // limit
	tok := p.current
	n, err := p.parseNumber()
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > int64(^uint32(0)>>1) {
		return 0, p.errorf(tok.Pos, "limit must be between 1 and %d", ^uint32(0)>>1)
	}
	return int(n), nil
}

func (p *Parser) parseOrder() (*OrderBy, error) {
	p.advance() // order
	p.advance() // by

	if p.current.Type != TokenIdent {
		return nil, p.unexpected("field")
	}
	tok := p.current
	sym, path, err := p.parseSymbol()
	if err != nil {
		return nil, err
	}
	if sym == SymbolHeader || path != "" {
		return nil, p.errorf(tok.Pos, "cannot order by %s", quote(tok.Value))
	}

	order := &OrderBy{Symbol: sym}
	switch {
	case p.isKeyword("desc"):
		order.Descending = true
		p.advance()
	case p.isKeyword("asc"):
		p.advance()
	}
	return order, nil
}
