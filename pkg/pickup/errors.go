package pickup

import (
	"errors"
	"fmt"
)

var (
	// ErrReplyRejected is returned when the dispatch stage answered with a
	// non-ok status.
	ErrReplyRejected = errors.New("dispatch reply rejected")

	ErrSchedulerRunning = errors.New("scheduler is already running")
)

// DispatchError describes a single failed dispatch.
type DispatchError struct {
	RecordID    int64
	Destination string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of record %d to %s failed: %v", e.RecordID, e.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsDispatchError checks if an error is a DispatchError
func IsDispatchError(err error) bool {
	var dispatchErr *DispatchError
	return errors.As(err, &dispatchErr)
}
