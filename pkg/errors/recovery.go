package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a value returned by recover into a fatal internal
// error. The stack trace is kept in details and never rendered to clients.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
