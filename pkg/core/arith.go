package core

import (
	"math"
	"math/bits"
)

// SaturatingAdd returns a+b clamped to MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SaturatingSub returns a-b clamped to zero.
func SaturatingSub(a, b uint64) uint64 {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0
	}
	return diff
}

// Midpoint returns floor((a+b)/2) without overflowing.
func Midpoint(a, b uint64) uint64 {
	return a/2 + b/2 + (a & b & 1)
}
