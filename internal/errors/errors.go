package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session agent
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnsupported    = errors.New("unsupported operation")
	ErrNotConfigured  = errors.New("not configured")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
