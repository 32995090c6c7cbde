package strip

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument covers bad pixel formats, out-of-range
	// indices and format/byte-width mismatches.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfMemory is reported when a backend can't allocate its
	// transmission buffer (e.g. Videocore memory exhaustion).
	ErrOutOfMemory = errors.New("out of memory")
)

// ResourceError wraps a collaborator failure - channel or encoder
// construction, enable, transmit, wait, disable or release - with the
// operation that failed.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
