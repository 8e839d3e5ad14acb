package utils

import "math"

// NormalizeL2 scales v in place to unit length, accumulating the squared
// norm in float64 to limit rounding error. A zero vector is left unchanged.
func NormalizeL2(v []float32) {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range v {
		v[i] *= inv
	}
}
