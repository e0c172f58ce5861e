package breakpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSettings wraps every settings validation failure.
	ErrInvalidSettings = errors.New("invalid breakpoint settings")
	// ErrBreakpointSet wraps agent rejections of an install or update.
	ErrBreakpointSet = errors.New("breakpoint set error")
	// ErrBreakpointRemove wraps agent rejections of a removal.
	ErrBreakpointRemove = errors.New("breakpoint remove error")
)

// ValidationError describes why settings were rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidSettings, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSettings
}

// SetError is an agent-side failure to install a breakpoint.
type SetError struct {
	ID    uint32
	Cause error
}

func (e *SetError) Error() string {
	return fmt.Sprintf("%v: breakpoint %d: %v", ErrBreakpointSet, e.ID, e.Cause)
}

func (e *SetError) Is(target error) bool {
	return target == ErrBreakpointSet
}

func (e *SetError) Unwrap() error {
	return e.Cause
}
