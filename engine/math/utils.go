package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// DivRoundUp returns ceil(v / d). d must be non-zero.
func DivRoundUp[T constraints.Unsigned](v, d T) T {
	return (v + d - 1) / d
}

// AlignUp rounds v up to the next multiple of align. align must be non-zero.
func AlignUp[T constraints.Unsigned](v, align T) T {
	return DivRoundUp(v, align) * align
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
