package memutils

import "github.com/pkg/errors"

// ErrNotPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var ErrNotPowerOfTwo error = errors.New("number must be a power of two")

// ErrInvalidSize is returned when a size or range is zero, negative, or runs past the end of its container
var ErrInvalidSize error = errors.New("invalid size")
