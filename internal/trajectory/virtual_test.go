package trajectory

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

func shoulderStore(t *testing.T, frames int) *Store {
	t.Helper()
	s := NewStore()
	left := make([]r3.Vec, frames)
	right := make([]r3.Vec, frames)
	for f := 0; f < frames; f++ {
		left[f] = r3.Vec{X: 0.2, Y: 0.01 * float64(f), Z: 1.4}
		right[f] = r3.Vec{X: -0.2, Y: 0.01 * float64(f), Z: 1.4 + 0.001*float64(f)}
	}
	require.NoError(t, s.Add(&Trajectory{Name: "left_shoulder", Component: "body", Data: left}))
	require.NoError(t, s.Add(&Trajectory{Name: "right_shoulder", Component: "body", Data: right}))
	return s
}

func TestVirtualMarker_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     VirtualMarker
		wantErr bool
	}{
		{"midpoint", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{0.5, 0.5}}, false},
		{"single", VirtualMarker{Name: "m", Markers: []string{"a"}, Weights: []float64{1}}, false},
		{"dyadic", VirtualMarker{Name: "m", Markers: []string{"a", "b", "c", "d"}, Weights: []float64{0.4375, 0.4375, 0.0625, 0.0625}}, false},
		{"length mismatch", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{1}}, true},
		{"sum below one", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{0.5, 0.4}}, true},
		{"sum off by rounding", VirtualMarker{Name: "m", Markers: []string{"a", "b", "c"}, Weights: []float64{0.7, 0.2, 0.1}}, true},
		{"negative weight", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{2, -1}}, true},
		{"zero weight", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{1, 0}}, false},
		{"nan weight", VirtualMarker{Name: "m", Markers: []string{"a", "b"}, Weights: []float64{math.NaN(), 1}}, true},
		{"no markers", VirtualMarker{Name: "m"}, true},
		{"no name", VirtualMarker{Markers: []string{"a"}, Weights: []float64{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, errkind.Configuration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSynthesize_NeckMidpoint(t *testing.T) {
	t.Parallel()
	s := shoulderStore(t, 10)

	sy := Synthesizer{Workers: 3}
	err := sy.Synthesize(s, []VirtualMarker{{
		Name:    "neck_center",
		Markers: []string{"left_shoulder", "right_shoulder"},
		Weights: []float64{0.5, 0.5},
	}})
	require.NoError(t, err)

	neck, ok := s.Get("neck_center")
	require.True(t, ok)
	assert.Equal(t, ComponentVirtual, neck.Component)
	require.Equal(t, 10, neck.Frames())

	left, _ := s.Get("left_shoulder")
	right, _ := s.Get("right_shoulder")
	for f := 0; f < 10; f++ {
		want := r3.Scale(0.5, r3.Add(left.Data[f], right.Data[f]))
		assert.InDelta(t, want.X, neck.Data[f].X, 1e-12)
		assert.InDelta(t, want.Y, neck.Data[f].Y, 1e-12)
		assert.InDelta(t, want.Z, neck.Data[f].Z, 1e-12)
	}
}

func TestSynthesize_DependencyOrderAndIdempotence(t *testing.T) {
	t.Parallel()
	s := shoulderStore(t, 4)

	// Declared out of order: "chain" depends on "mid".
	defs := []VirtualMarker{
		{Name: "chain", Markers: []string{"mid", "left_shoulder"}, Weights: []float64{0.5, 0.5}},
		{Name: "mid", Markers: []string{"left_shoulder", "right_shoulder"}, Weights: []float64{0.5, 0.5}},
	}
	order, err := DependencyOrder(defs)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, order)

	sy := Synthesizer{}
	require.NoError(t, sy.Synthesize(s, defs))
	first := s.Clone()

	require.NoError(t, sy.Synthesize(s, defs))
	assert.Equal(t, first.Names(), s.Names())
	for _, name := range first.Names() {
		a, _ := first.Get(name)
		b, _ := s.Get(name)
		assert.Equal(t, a.Data, b.Data, name)
	}

	chain, _ := s.Get("chain")
	assert.InDelta(t, 0.1, chain.Data[0].X, 1e-12) // (0 + 0.2) / 2
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	t.Run("cycle", func(t *testing.T) {
		s := shoulderStore(t, 2)
		err := Synthesizer{}.Synthesize(s, []VirtualMarker{
			{Name: "a", Markers: []string{"b"}, Weights: []float64{1}},
			{Name: "b", Markers: []string{"a"}, Weights: []float64{1}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
		assert.Contains(t, err.Error(), "cycle")
		assert.Equal(t, 2, s.Len())
	})

	t.Run("unknown marker", func(t *testing.T) {
		s := shoulderStore(t, 2)
		err := Synthesizer{}.Synthesize(s, []VirtualMarker{
			{Name: "a", Markers: []string{"left_hip"}, Weights: []float64{1}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
	})

	t.Run("self reference", func(t *testing.T) {
		_, err := DependencyOrder([]VirtualMarker{
			{Name: "a", Markers: []string{"a"}, Weights: []float64{1}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
	})

	t.Run("duplicate definition", func(t *testing.T) {
		_, err := DependencyOrder([]VirtualMarker{
			{Name: "a", Markers: []string{"x"}, Weights: []float64{1}},
			{Name: "a", Markers: []string{"y"}, Weights: []float64{1}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
	})

	t.Run("collides with raw marker", func(t *testing.T) {
		s := shoulderStore(t, 2)
		err := Synthesizer{}.Synthesize(s, []VirtualMarker{
			{Name: "left_shoulder", Markers: []string{"right_shoulder"}, Weights: []float64{1}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
	})

	t.Run("bad weights", func(t *testing.T) {
		s := shoulderStore(t, 2)
		err := Synthesizer{}.Synthesize(s, []VirtualMarker{
			{Name: "m", Markers: []string{"left_shoulder", "right_shoulder"}, Weights: []float64{0.6, 0.6}},
		})
		assert.True(t, errors.Is(err, errkind.Configuration))
		_, ok := s.Get("m")
		assert.False(t, ok)
	})
}

func TestDerive(t *testing.T) {
	t.Parallel()
	src := shoulderStore(t, 3)

	out, err := Synthesizer{Workers: 1}.Derive(src, []VirtualMarker{
		{Name: "left_shoulder", Markers: []string{"left_shoulder"}, Weights: []float64{1}},
		{Name: "spine_c7", Markers: []string{"left_shoulder", "right_shoulder"}, Weights: []float64{0.5, 0.5}},
	}, ComponentKeypoint)
	require.NoError(t, err)
	assert.Equal(t, []string{"left_shoulder", "spine_c7"}, out.Names())
	assert.Equal(t, 3, out.FrameCount())

	c7, _ := out.Get("spine_c7")
	assert.Equal(t, ComponentKeypoint, c7.Component)
	assert.InDelta(t, 0.0, c7.Data[0].X, 1e-12)

	_, err = Synthesizer{}.Derive(src, []VirtualMarker{
		{Name: "k", Markers: []string{"spine_c7"}, Weights: []float64{1}},
	}, ComponentKeypoint)
	assert.True(t, errors.Is(err, errkind.Configuration), "derive must not chain")
}

func TestSynthesize_WorkerCountDoesNotChangeOutput(t *testing.T) {
	t.Parallel()
	defs := []VirtualMarker{{Name: "m", Markers: []string{"left_shoulder", "right_shoulder"}, Weights: []float64{0.25, 0.75}}}

	a := shoulderStore(t, 37)
	b := shoulderStore(t, 37)
	require.NoError(t, Synthesizer{Workers: 1}.Synthesize(a, defs))
	require.NoError(t, Synthesizer{Workers: 8}.Synthesize(b, defs))

	ma, _ := a.Get("m")
	mb, _ := b.Get("m")
	assert.Equal(t, ma.Data, mb.Data)
}
