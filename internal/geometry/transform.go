// Package geometry converts image-space sensor measurements into Cartesian
// points and applies precompiled rigid transforms to them.
//
// Coordinate convention: X=right, Y=forward (range axis), Z=up.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// ImageToCartesian converts an image-space measurement with a normalized focal
// length of 1 into sensor-frame Cartesian coordinates in meters. NaN and Inf
// inputs propagate to the result.
func ImageToCartesian(imageX, imageZ, distance float32) (x, y, z float32) {
	h := float32(math.Sqrt(float64(imageX*imageX + imageZ*imageZ + 1)))
	ratio := distance / h
	x = -imageX * ratio
	y = ratio
	z = -imageZ * ratio
	return
}

// CompiledTransform is a rigid transform with the rotation expanded into a
// row-major 3x3 matrix. It is a value type and never changes once built.
type CompiledTransform struct {
	translation [3]float32
	rotation    [9]float32
}

// Identity returns the transform that leaves every point unchanged.
func Identity() CompiledTransform {
	return NewCompiledTransform([3]float32{}, [4]float32{0, 0, 0, 1})
}

// NewCompiledTransform builds a transform from a translation and a rotation
// quaternion given as (x, y, z, w). The quaternion is used as given; pass a
// unit quaternion for a proper rotation.
func NewCompiledTransform(translation [3]float32, rotation [4]float32) CompiledTransform {
	x, y, z, w := rotation[0], rotation[1], rotation[2], rotation[3]
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	xw, yw, zw := x*w, y*w, z*w

	return CompiledTransform{
		translation: translation,
		rotation: [9]float32{
			1 - 2*(yy+zz), 2 * (xy - zw), 2 * (xz + yw),
			2 * (xy + zw), 1 - 2*(xx+zz), 2 * (yz - xw),
			2 * (xz - yw), 2 * (yz + xw), 1 - 2*(xx+yy),
		},
	}
}

// Apply returns R·p + t.
func (c CompiledTransform) Apply(x, y, z float32) (float32, float32, float32) {
	r, t := &c.rotation, &c.translation
	return r[0]*x + r[1]*y + r[2]*z + t[0],
		r[3]*x + r[4]*y + r[5]*z + t[1],
		r[6]*x + r[7]*y + r[8]*z + t[2]
}

// Translation returns the translation component.
func (c CompiledTransform) Translation() [3]float32 { return c.translation }

// Rotation returns the row-major rotation matrix.
func (c CompiledTransform) Rotation() [9]float32 { return c.rotation }

// QuaternionNorm returns the magnitude of an (x, y, z, w) quaternion.
func QuaternionNorm(rotation [4]float32) float64 {
	return quat.Abs(toQuat(rotation))
}

// NormalizeQuaternion scales an (x, y, z, w) quaternion to unit length. A zero
// quaternion is returned as the identity rotation.
func NormalizeQuaternion(rotation [4]float32) [4]float32 {
	q := toQuat(rotation)
	n := quat.Abs(q)
	if n == 0 {
		return [4]float32{0, 0, 0, 1}
	}
	q = quat.Scale(1/n, q)
	return [4]float32{float32(q.Imag), float32(q.Jmag), float32(q.Kmag), float32(q.Real)}
}

func toQuat(r [4]float32) quat.Number {
	return quat.Number{Real: float64(r[3]), Imag: float64(r[0]), Jmag: float64(r[1]), Kmag: float64(r[2])}
}
