package query

import (
	"strconv"
	"strings"
)

// String prints the query in canonical form. Parsing the result yields a
// query equal to q.
func (q Query) String() string {
	var parts []string
	if q.Expr != nil {
		parts = append(parts, FormatExpr(q.Expr))
	}
	if q.From != nil {
		parts = append(parts, q.From.String())
	}
	if q.Limit > 0 {
		parts = append(parts, "limit "+strconv.Itoa(q.Limit))
	}
	if q.Order != nil {
		parts = append(parts, q.Order.String())
	}
	return strings.Join(parts, " ")
}

func (f From) String() string {
	switch f.Kind {
	case FromBeginning:
		return "from beginning"
	case FromEnd:
		return "from end"
	case FromEndMinus:
		return "from end - " + strconv.FormatInt(f.N, 10)
	case FromOffset:
		return "from " + strconv.FormatInt(f.N, 10)
	default:
		return "from " + quote(f.Text)
	}
}

func (o OrderBy) String() string {
	if o.Descending {
		return "order by " + o.Symbol.String() + " desc"
	}
	return "order by " + o.Symbol.String() + " asc"
}

func (l Literal) String() string {
	if l.Kind == LiteralNumber {
		return strconv.FormatInt(l.Num, 10)
	}
	return quote(l.Str)
}

// FormatExpr prints an expression, adding the parentheses its structure needs.
func FormatExpr(e Expr) string {
	switch n := e.(type) {
	case Binary:
		prec := precedence(n)
		op := " and "
		if n.Op == OpOr {
			op = " or "
		}
		return operand(n.Left, prec, false) + op + operand(n.Right, prec, true)
	case Not:
		return "!" + operand(n.Expr, precedence(n), false)
	case Comparison:
		return fieldName(n.Symbol, n.Path) + " " + n.Op.String() + " " + n.Value.String()
	case Between:
		return n.Symbol.String() + " between " + n.Low.String() + " and " + n.High.String()
	case FilterCall:
		params := make([]string, len(n.Params))
		for i, lit := range n.Params {
			params[i] = lit.String()
		}
		return n.Name + "(" + strings.Join(params, ", ") + ")"
	default:
		return ""
	}
}

func precedence(e Expr) int {
	switch n := e.(type) {
	case Binary:
		if n.Op == OpOr {
			return 1
		}
		return 2
	case Not:
		return 3
	default:
		return 4
	}
}

// operand wraps a child expression in parentheses when printing it bare
// would change how it parses. Binary operators associate to the left.
func operand(e Expr, parent int, right bool) string {
	s := FormatExpr(e)
	p := precedence(e)
	if p < parent || (right && p == parent && p < 3) {
		return "(" + s + ")"
	}
	return s
}

func fieldName(sym Symbol, path string) string {
	if path == "" {
		return sym.String()
	}
	return sym.String() + "." + path
}

func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// Filters returns the filter calls of the expression in evaluation order.
func Filters(e Expr) []FilterCall {
	var calls []FilterCall
	Walk(e, func(n Expr) {
		if call, ok := n.(FilterCall); ok {
			calls = append(calls, call)
		}
	})
	return calls
}

// Walk visits e and its descendants depth-first, left to right.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Not:
		Walk(n.Expr, fn)
	}
}
