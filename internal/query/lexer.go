package query

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenComma
	TokenMinus
	TokenBang
	TokenAndAnd // &&
	TokenOrOr   // ||
	TokenOp     // == != > >= < <= ~= =~
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "end of input",
	TokenIllegal: "illegal token",
	TokenIdent:   "identifier",
	TokenString:  "string",
	TokenNumber:  "number",
	TokenLParen:  "'('",
	TokenRParen:  "')'",
	TokenComma:   "','",
	TokenMinus:   "'-'",
	TokenBang:    "'!'",
	TokenAndAnd:  "'&&'",
	TokenOrOr:    "'||'",
	TokenOp:      "operator",
}

func (t TokenType) String() string {
	return tokenNames[t]
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   int // byte offset of the first character
}

func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return "string " + quote(t.Value)
	default:
		return "'" + t.Value + "'"
	}
}

// Lexer tokenizes query input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token from the input. Lexical errors are
// reported as TokenIllegal with the message in Value.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}
	case ',':
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: start}
	case '-':
		l.pos++
		return Token{Type: TokenMinus, Value: "-", Pos: start}
	case '"', '\'':
		return l.readString(ch)
	case '&':
		if l.peek(1) == '&' {
			l.pos += 2
			return Token{Type: TokenAndAnd, Value: "&&", Pos: start}
		}
	case '|':
		if l.peek(1) == '|' {
			l.pos += 2
			return Token{Type: TokenOrOr, Value: "||", Pos: start}
		}
	case '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Type: TokenOp, Value: "!=", Pos: start}
		}
		l.pos++
		return Token{Type: TokenBang, Value: "!", Pos: start}
	case '=':
		switch l.peek(1) {
		case '=', '~':
			l.pos += 2
			return Token{Type: TokenOp, Value: l.input[start:l.pos], Pos: start}
		}
	case '~':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Type: TokenOp, Value: "~=", Pos: start}
		}
	case '>', '<':
		l.pos++
		if l.peek(0) == '=' {
			l.pos++
		}
		return Token{Type: TokenOp, Value: l.input[start:l.pos], Pos: start}
	}

	if isDigit(ch) {
		return l.readNumber()
	}
	if isIdentStart(ch) {
		return l.readIdent()
	}

	l.pos++
	return Token{Type: TokenIllegal, Value: "unexpected character " + quote(string(ch)), Pos: start}
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

// readString reads a single or double quoted string. A backslash escapes the
// following character.
func (l *Lexer) readString(delim byte) Token {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == delim:
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return Token{Type: TokenIllegal, Value: "unterminated string", Pos: start}
}

// readNumber reads digits with optional single underscores between digit groups.
func (l *Lexer) readNumber() Token {
	start := l.pos
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '_') {
		l.pos++
	}
	raw := l.input[start:l.pos]
	if strings.HasSuffix(raw, "_") || strings.Contains(raw, "__") {
		return Token{Type: TokenIllegal, Value: "malformed number " + quote(raw), Pos: start}
	}
	if l.pos < len(l.input) && isIdentStart(l.input[l.pos]) {
		return Token{Type: TokenIllegal, Value: "malformed number " + quote(raw+string(l.input[l.pos])), Pos: start}
	}
	return Token{Type: TokenNumber, Value: strings.ReplaceAll(raw, "_", ""), Pos: start}
}

// readIdent reads an identifier. Dotted identifiers (value.path, header.name)
// may also contain '-' after the first dot.
func (l *Lexer) readIdent() Token {
	start := l.pos
	dotted := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' {
			dotted = true
		} else if !isIdentChar(ch) && !(dotted && ch == '-') {
			break
		}
		l.pos++
	}
	return Token{Type: TokenIdent, Value: l.input[start:l.pos], Pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
