package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Recover converts a panic in the calling function into an UnexpectedFailure
// stored in *errp. It must be deferred directly:
//
//	defer errors.Recover(&err)
//
// Work already written to disk is left in place; only the remaining batch
// processing is abandoned.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}

	*errp = NewUnexpectedError(fmt.Sprintf("batch aborted: %s", panicSite()), cause)
}

// panicSite returns the first stack frame outside the runtime and this package
func panicSite() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "/internal/errors.") {
			return fmt.Sprintf("%s:%d", frame.File, frame.Line)
		}
		if !more {
			return "unknown location"
		}
	}
}
