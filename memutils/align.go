package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

// CheckPow2 returns an error wrapping ErrNotPowerOfTwo if number is zero or not a power of two
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. alignment must be a power of two.
func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment. alignment must be a power of two.
func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return value & int(^(alignment - 1))
}

func IsAligned(value int, alignment uint) bool {
	return AlignDown(value, alignment) == value
}

// MaxAlignment returns the larger of two power-of-two alignments, treating 0 as 1
func MaxAlignment(a, b uint) uint {
	if a < 1 {
		a = 1
	}
	if b > a {
		return b
	}
	return a
}
