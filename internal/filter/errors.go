package filter

import (
	"errors"
	"fmt"
)

var (
	// ErrFilterNotFound indicates there is no module file for the filter.
	ErrFilterNotFound = errors.New("filter module not found")

	// ErrInvalidParameters indicates the filter rejected its call parameters.
	ErrInvalidParameters = errors.New("invalid filter parameters")

	// ErrMissingFunction indicates a module lacks a function of the filter ABI.
	ErrMissingFunction = errors.New("missing filter function")

	// ErrFilterExists indicates an import would overwrite an installed filter.
	ErrFilterExists = errors.New("filter already installed")
)

// FilterError reports a filter that could not be loaded or that rejected
// its parameters. It names the filter and the module path it was expected at.
type FilterError struct {
	Name string
	Path string
	Err  error
}

func (e *FilterError) Error() string {
	if errors.Is(e.Err, ErrInvalidParameters) || errors.Is(e.Err, ErrMissingFunction) {
		return fmt.Sprintf("search filter '%s' (%s): %v", e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("cannot find search filter '%s' in %s: %v", e.Name, e.Path, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}
