package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a value returned by recover() into a fatal
// ErrInternal carrying the goroutine stack. A nil value yields nil.
func RecoverPanic(r interface{}) error {
	var cause error
	switch v := r.(type) {
	case nil:
		return nil
	case error:
		cause = fmt.Errorf("panic: %w", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.WithCause(cause).WithDetails(map[string]interface{}{
		"panic":       true,
		"stack_trace": string(debug.Stack()),
	}).AsFatal()
}
