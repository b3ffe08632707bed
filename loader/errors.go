package loader

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrTimeoutExceeded      = errors.New("timeout exceeded waiting for batch")
	ErrPoolClosed           = errors.New("worker pool is closed")
	ErrSessionClosed        = errors.New("session is closed")
	ErrTaskPanicked         = errors.New("batch task panicked")
)

// CollateError is returned when the collate function fails for a batch.
type CollateError struct {
	Group int
	Err   error
}

func (e *CollateError) Error() string {
	return fmt.Sprintf("collating batch %d: %v", e.Group, e.Err)
}

func (e *CollateError) Unwrap() error {
	return e.Err
}

func invalidConfig(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}
