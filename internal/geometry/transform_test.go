package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestImageToCartesian_DistanceRoundTrip(t *testing.T) {
	cases := []struct {
		name                     string
		imageX, imageZ, distance float32
	}{
		{"boresight", 0, 0, 10},
		{"right-up", 0.3, 0.2, 25.5},
		{"left-down", -0.45, -0.1, 3.2},
		{"wide", 1.2, -0.8, 100},
		{"near", 0.01, 0.02, 0.15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, y, z := ImageToCartesian(tc.imageX, tc.imageZ, tc.distance)
			got := math.Sqrt(float64(x*x + y*y + z*z))
			assert.InDelta(t, tc.distance, got, 1e-4*float64(tc.distance))
			assert.Greater(t, y, float32(0), "forward axis is positive")
		})
	}
}

func TestImageToCartesian_Boresight(t *testing.T) {
	x, y, z := ImageToCartesian(0, 0, 7)
	assert.Equal(t, float32(0), float32(math.Abs(float64(x))))
	assert.Equal(t, float32(7), y)
	assert.Equal(t, float32(0), float32(math.Abs(float64(z))))
}

func TestImageToCartesian_NaNPropagates(t *testing.T) {
	x, y, z := ImageToCartesian(float32(math.NaN()), 0, 5)
	assert.True(t, math.IsNaN(float64(x)))
	assert.True(t, math.IsNaN(float64(y)))
	assert.True(t, math.IsNaN(float64(z)))
}

func TestIdentityTransform(t *testing.T) {
	id := NewCompiledTransform([3]float32{}, [4]float32{0, 0, 0, 1})
	assert.Equal(t, Identity(), id)
	for _, p := range [][3]float32{{0, 0, 0}, {1, 2, 3}, {-4.5, 0.25, 1e6}, {1e-6, -1e-6, 0}} {
		x, y, z := id.Apply(p[0], p[1], p[2])
		assert.Equal(t, p, [3]float32{x, y, z})
	}
}

func TestCompiledTransform_Translation(t *testing.T) {
	tr := NewCompiledTransform([3]float32{1, -2, 0.5}, [4]float32{0, 0, 0, 1})
	x, y, z := tr.Apply(1, 1, 1)
	assert.Equal(t, [3]float32{2, -1, 1.5}, [3]float32{x, y, z})
	assert.Equal(t, [3]float32{1, -2, 0.5}, tr.Translation())
}

func TestCompiledTransform_YawQuarterTurn(t *testing.T) {
	s := float32(math.Sqrt2 / 2)
	tr := NewCompiledTransform([3]float32{}, [4]float32{0, 0, s, s})
	x, y, z := tr.Apply(1, 0, 0)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 1, y, 1e-6)
	assert.InDelta(t, 0, z, 1e-6)
}

// The expanded matrix must agree with gonum's quaternion rotation.
func TestCompiledTransform_MatchesGonumRotation(t *testing.T) {
	rotations := [][4]float32{
		{0, 0, 0, 1},
		{0.1, 0.2, 0.3, 0.9},
		{-0.5, 0.5, -0.5, 0.5},
		{0.7, 0, 0, 0.7},
		{0.02, -0.6, 0.33, 0.1},
	}
	points := []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}, {X: 3.5, Y: -2, Z: 0.25}}

	for _, raw := range rotations {
		rot := NormalizeQuaternion(raw)
		tr := NewCompiledTransform([3]float32{0.5, -1, 2}, rot)
		ref := r3.Rotation(quat.Number{
			Real: float64(rot[3]), Imag: float64(rot[0]), Jmag: float64(rot[1]), Kmag: float64(rot[2]),
		})
		for _, p := range points {
			want := r3.Add(ref.Rotate(p), r3.Vec{X: 0.5, Y: -1, Z: 2})
			x, y, z := tr.Apply(float32(p.X), float32(p.Y), float32(p.Z))
			assert.InDelta(t, want.X, x, 1e-5, "rotation %v point %v", raw, p)
			assert.InDelta(t, want.Y, y, 1e-5, "rotation %v point %v", raw, p)
			assert.InDelta(t, want.Z, z, 1e-5, "rotation %v point %v", raw, p)
		}
	}
}

func TestNormalizeQuaternion(t *testing.T) {
	q := NormalizeQuaternion([4]float32{0, 0, 2, 2})
	assert.InDelta(t, 1, QuaternionNorm(q), 1e-6)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, NormalizeQuaternion([4]float32{}))
}
