package allocator

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory indicates a request that the remaining space (or free list) cannot satisfy.
	// It is always recoverable: shrink the request, free something or propagate.
	ErrOutOfMemory = errors.New("allocator: out of memory")

	// ErrValidationFailed is returned by the checked variants when a caller passes
	// a marker or pointer this allocator did not hand out.
	ErrValidationFailed = errors.New("allocator: validation failed")
)

// Result ...
type Result int32

// Result codes. Negative values are failures.
const (
	Success               Result = 0
	Error                 Result = -1
	ErrorOutOfMemory      Result = -2
	ErrorValidationFailed Result = -3
)

var resultMapping = map[Result]string{
	Success:               "SUCCESS",
	Error:                 "ERROR",
	ErrorOutOfMemory:      "ERROR_OUT_OF_MEMORY",
	ErrorValidationFailed: "ERROR_VALIDATION_FAILED",
}

func (r Result) String() string {
	if s, ok := resultMapping[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// Succeeded ...
func (r Result) Succeeded() bool {
	return r >= 0
}

// Failed ...
func (r Result) Failed() bool {
	return r < 0
}

// ResultOf maps an error returned by this module onto the closed result set.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrOutOfMemory):
		return ErrorOutOfMemory
	case errors.Is(err, ErrValidationFailed):
		return ErrorValidationFailed
	default:
		return Error
	}
}

func outOfMemory(kind string, requested int, remaining int) error {
	return errors.Wrapf(ErrOutOfMemory, "%s: requested %d bytes, %d remaining", kind, requested, remaining)
}

func assertionFailure(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}

func assertTrue(b bool, format string, args ...interface{}) {
	if !b {
		panic(assertionFailure(format, args...))
	}
}
