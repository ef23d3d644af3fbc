package pointcloud

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/geometry"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

func raw(ts uint64, ix, iz, d float32) cepton.ImagePoint {
	return cepton.ImagePoint{Timestamp: ts, ImageX: ix, ImageZ: iz, Distance: d, Intensity: 0.25, Valid: true}
}

func TestAssemble_EmptyBatch(t *testing.T) {
	a := &Assembler{Naming: topics.Naming{Namespace: "cepton"}}
	for _, in := range [][]cepton.ImagePoint{nil, {}} {
		f := a.Assemble("1001", in)
		require.NotNil(t, f)
		assert.Equal(t, 0, f.Len())
		assert.Equal(t, uint64(0), f.Timestamp)
		assert.Equal(t, "cepton_1001", f.ID)
		assert.Equal(t, "1001", f.Sensor)
	}
}

func TestAssemble_TimestampIsMaxAndOrderInvariant(t *testing.T) {
	a := &Assembler{Naming: topics.Naming{Namespace: "cepton"}}
	pts := []cepton.ImagePoint{
		raw(150, 0, 0, 1), raw(900, 0.1, 0, 2), raw(10, 0, 0.1, 3), raw(899, 0.2, 0.2, 4), raw(0, 0, 0, 5),
	}
	want := a.Assemble("7", pts).Timestamp
	assert.Equal(t, uint64(900), want)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]cepton.ImagePoint(nil), pts...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, a.Assemble("7", shuffled).Timestamp)
	}
}

func TestAssemble_PreservesOrderAndMetadata(t *testing.T) {
	a := &Assembler{Naming: topics.Naming{Namespace: "cepton"}}
	in := []cepton.ImagePoint{
		{Timestamp: 5, ImageX: 0, ImageZ: 0, Distance: 10, Intensity: 0.9, ReturnNumber: 0, Valid: true},
		{Timestamp: 5, ImageX: 0, ImageZ: 0, Distance: 12, Intensity: 0.1, ReturnNumber: 1, Valid: false},
	}
	f := a.Assemble("3", in)

	want := []CartesianPoint{
		{Timestamp: 5, X: 0, Y: 10, Z: 0, Intensity: 0.9, ReturnNumber: 0, Valid: true},
		{Timestamp: 5, X: 0, Y: 12, Z: 0, Intensity: 0.1, ReturnNumber: 1, Valid: false},
	}
	if diff := cmp.Diff(want, f.Points, cmp.Comparer(func(a, b float32) bool { return a == b })); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, f.ValidCount())
}

func TestAssemble_AppliesSensorTransform(t *testing.T) {
	a := &Assembler{
		Naming: topics.Naming{Namespace: "cepton", Combine: true},
		Transforms: map[string]geometry.CompiledTransform{
			"1001": geometry.NewCompiledTransform([3]float32{1, 2, 3}, [4]float32{0, 0, 0, 1}),
		},
	}
	moved := a.Assemble("1001", []cepton.ImagePoint{raw(1, 0, 0, 10)})
	assert.Equal(t, "cepton", moved.ID)
	assert.Equal(t, CartesianPoint{Timestamp: 1, X: 1, Y: 12, Z: 3, Intensity: 0.25, Valid: true}, moved.Points[0])

	untouched := a.Assemble("1002", []cepton.ImagePoint{raw(1, 0, 0, 10)})
	assert.Equal(t, float32(10), untouched.Points[0].Y)
	assert.Equal(t, float32(0), untouched.Points[0].X)
}

func TestAssemble_ConcurrentUse(t *testing.T) {
	a := &Assembler{Naming: topics.Naming{}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := a.Assemble(topics.SensorName(uint64(i)), []cepton.ImagePoint{raw(uint64(i), 0, 0, 1)})
			assert.Equal(t, uint64(i), f.Timestamp)
		}(i)
	}
	wg.Wait()
}
