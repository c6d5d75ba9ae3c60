// Package safeconv provides safe integer type conversion functions that panic on overflow.
package safeconv

import "math"

// MustUint64ToInt64 converts uint64 to int64, panics on overflow.
// Use only when overflow is logically impossible.
func MustUint64ToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		panic("safeconv: uint64 to int64 overflow")
	}

	return int64(v)
}

// MustInt64ToUint64 converts int64 to uint64, panics if negative.
// Use only when negative values are logically impossible.
func MustInt64ToUint64(v int64) uint64 {
	if v < 0 {
		panic("safeconv: negative int64 to uint64 conversion")
	}

	return uint64(v)
}
