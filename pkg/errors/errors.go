// Package errors carries the small wrapping helper used to attach call-site
// context to errors as they travel up the stack.
package errors

import "fmt"

// Wrap prefixes err with context while keeping the original reachable through
// errors.Is and errors.As. A nil err stays nil, so call sites can wrap
// unconditionally on the return path.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
