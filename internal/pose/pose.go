// Package pose extracts head orientation angles from the landmark model's
// facial transformation matrix.
package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// singularThreshold is the sy value below which the decomposition falls back
// to the gimbal-lock branch.
const singularThreshold = 1e-6

// Rotation is a head orientation in degrees. Angles are not wrapped.
type Rotation struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// Decompose returns the yaw, pitch and roll encoded in the top-left 3x3
// block of a 4x4 (or 3x3) row-major transform.
//
// The block is assumed orthonormal. Other input yields meaningless angles;
// NaN propagates rather than being rejected.
func Decompose(m mat.Matrix) Rotation {
	r00, r10, r20 := m.At(0, 0), m.At(1, 0), m.At(2, 0)
	sy := math.Sqrt(r00*r00 + r10*r10)

	var yaw, pitch, roll float64
	if sy >= singularThreshold {
		pitch = math.Atan2(-r20, sy)
		yaw = math.Atan2(r10, r00)
		roll = math.Atan2(m.At(2, 1), m.At(2, 2))
	} else {
		// Looking straight up or down: yaw and roll share an axis.
		pitch = math.Atan2(-r20, sy)
		yaw = math.Atan2(-m.At(0, 1), m.At(1, 1))
		roll = 0
	}

	return Rotation{
		Yaw:   degrees(yaw),
		Pitch: degrees(pitch),
		Roll:  degrees(roll),
	}
}

// FromSlice builds a 4x4 transform from 16 row-major values.
func FromSlice(v []float64) (*mat.Dense, error) {
	if len(v) != 16 {
		return nil, fmt.Errorf("transform must have 16 elements, got %d", len(v))
	}
	data := make([]float64, 16)
	copy(data, v)
	return mat.NewDense(4, 4, data), nil
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
