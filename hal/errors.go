package hal

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrDeviceLost        = errors.New("device lost")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrTooManyObjects    = errors.New("too many objects")
	ErrTimeout           = errors.New("timeout")
	ErrOutOfDate         = errors.New("swapchain out of date")
	ErrSuboptimal        = errors.New("swapchain suboptimal")
	// ErrValidation is returned by backends that detect misuse of the API, such as recording a
	// copy into a resource owned by another queue family
	ErrValidation = errors.New("validation failed")
)

// DeviceError is the fatal error class: a native operation failed in a way that the render loop
// cannot recover from locally. Err carries the underlying cause and can be tested with errors.Is
// against the sentinel errors in this package.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps err as a DeviceError for the operation op. Wrapping an error that is
// already a DeviceError returns it unchanged.
func NewDeviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDeviceError(err) {
		return err
	}
	return errors.WithStackDepth(&DeviceError{Op: op, Err: err}, 1)
}

func IsDeviceError(err error) bool {
	var deviceErr *DeviceError
	return errors.As(err, &deviceErr)
}

// IsSwapchainStale reports whether err means the swapchain must be rebuilt
func IsSwapchainStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
