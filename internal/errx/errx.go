// Package errx provides small helpers for building sentinel-wrapped errors
// that remain matchable with errors.Is while carrying call-site context.
package errx

import "fmt"

// Wrap attaches cause to sentinel so that errors.Is matches both.
func Wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With formats additional context after sentinel. format may contain its
// own %w verbs to fold further causes into the chain.
func With(sentinel error, format string, args ...interface{}) error {
	all := make([]interface{}, 0, len(args)+1)
	all = append(all, sentinel)
	all = append(all, args...)
	return fmt.Errorf("%w"+format, all...)
}
