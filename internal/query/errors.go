package query

import (
	"fmt"
	"strings"
)

// SyntaxError reports a query that does not conform to the grammar or
// violates a type rule. Pos is the byte offset where the problem was found.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// Pointer renders the input with a caret under the failing position.
func (e *SyntaxError) Pointer() string {
	pos := min(e.Pos, len(e.Input))
	return e.Input + "\n" + strings.Repeat(" ", pos) + "^"
}
