package recording

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/testutil"
	"github.com/banshee-data/skelly.rig/internal/tracker"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

func init() {
	monitoring.SetLogger(nil)
}

func synthetic(frames int) testutil.Synthetic {
	return testutil.Synthetic{
		Frames:      frames,
		Markers:     tracker.MediaPipeBodyLandmarks,
		HandMarkers: tracker.MediaPipeHandLandmarks,
		Unit:        1000,
		Step:        r3.Vec{X: 0.01},
	}
}

func TestDecode(t *testing.T) {
	arr, err := Decode(bytes.NewReader(testutil.EncodeNPY([]int{2, 1, 3}, []float64{1, 2, 3, 4, 5, 6})))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3}, arr.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, arr.Data)

	arr, err = Decode(bytes.NewReader(testutil.EncodeNPY32([]int{1, 1, 3}, []float64{0.5, 1.5, 2.5})))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5, 2.5}, arr.Data)

	_, err = Decode(bytes.NewReader([]byte("not an npy file")))
	assert.Error(t, err)
}

func TestArray_Points(t *testing.T) {
	arr := &Array{Shape: []int{2, 2, 3}, Data: []float64{
		1000, 0, 0, 0, 1000, 0,
		2000, 0, 0, 0, 2000, 0,
	}}
	pts, err := arr.Points(1000)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, []r3.Vec{{X: 1}, {X: 2}}, pts[0])
	assert.Equal(t, []r3.Vec{{Y: 1}, {Y: 2}}, pts[1])

	_, err = (&Array{Shape: []int{2, 3}, Data: make([]float64, 6)}).Points(1)
	assert.ErrorIs(t, err, errkind.Configuration)
	_, err = (&Array{Shape: []int{1, 1, 3}, Data: make([]float64, 2)}).Points(1)
	assert.ErrorIs(t, err, errkind.Configuration)
	_, err = arr.Points(0)
	assert.ErrorIs(t, err, errkind.Configuration)
}

func TestLoader_Load(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	rec := synthetic(5)
	rec.Hands = true
	rec.Face = true
	require.NoError(t, rec.Write(fs, "/data/rec1", tracker.MediaPipeSource))

	l := &Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}
	store, err := l.Load("/data/rec1")
	require.NoError(t, err)

	assert.Equal(t, 5, store.FrameCount())
	assert.Equal(t, 33+21+21+5, store.Len())
	assert.Equal(t, trajectory.RecordedComponents, store.Components())

	hip, ok := store.Get("left_hip")
	require.True(t, ok)
	testutil.AssertVecNear(t, r3.Vec{X: 0.10, Z: 1.00}, hip.Data[0], 1e-12)
	testutil.AssertVecNear(t, r3.Vec{X: 0.14, Z: 1.00}, hip.Data[4], 1e-12)

	_, ok = store.Get("right_hand_pinky_tip")
	assert.True(t, ok)
	_, ok = store.Get("face_4")
	assert.True(t, ok)
}

func TestLoader_OptionalComponents(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, synthetic(3).Write(fs, "/rec", tracker.MediaPipeSource))

	store, err := (&Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}).Load("/rec")
	require.NoError(t, err)
	assert.Equal(t, []string{trajectory.ComponentBody}, store.Components())
}

func TestLoader_MissingBody(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	_, err := (&Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}).Load("/empty")
	assert.ErrorIs(t, err, errkind.Configuration)
}

func TestLoader_FrameMismatch(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, synthetic(4).Write(fs, "/rec", tracker.MediaPipeSource))

	hand := make([]float64, 3*21*3)
	require.NoError(t, fs.WriteFile(ComponentFile("/rec", tracker.MediaPipeSource, trajectory.ComponentLeftHand),
		testutil.EncodeNPY([]int{3, 21, 3}, hand), 0o644))

	_, err := (&Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}).Load("/rec")
	assert.ErrorIs(t, err, errkind.Configuration)
}

func TestLoader_WrongMarkerCount(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	rec := synthetic(2)
	rec.Markers = rec.Markers[:10]
	require.NoError(t, rec.Write(fs, "/rec", tracker.MediaPipeSource))

	_, err := (&Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}).Load("/rec")
	assert.ErrorIs(t, err, errkind.Configuration)
}

func TestLoader_KeepsNaN(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	rec := synthetic(3)
	rec.Missing = []int{1}
	require.NoError(t, rec.Write(fs, "/rec", tracker.MediaPipeSource))

	store, err := (&Loader{FS: fs, Mapper: tracker.MediaPipe(), Scale: 1000}).Load("/rec")
	require.NoError(t, err)
	nose, _ := store.Get("nose")
	assert.True(t, math.IsNaN(nose.Data[1].X))
	assert.False(t, math.IsNaN(nose.Data[2].X))
}

func TestEncode(t *testing.T) {
	s := trajectory.NewStore()
	require.NoError(t, s.Add(&trajectory.Trajectory{Name: "a", Component: trajectory.ComponentBody,
		Data: []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}}))
	require.NoError(t, s.Add(&trajectory.Trajectory{Name: "b", Component: trajectory.ComponentBody,
		Data: []r3.Vec{{X: 7, Y: 8, Z: 9}, {X: math.NaN(), Y: 0, Z: 0}}}))

	var buf bytes.Buffer
	m, err := Encode(&buf, s)
	require.NoError(t, err)
	assert.Equal(t, &Manifest{Shape: []int{2, 6}, Markers: []string{"a", "b"}, Units: "m"}, m)

	arr, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, arr.Shape)
	assert.Equal(t, []float64{1, 2, 3, 7, 8, 9}, arr.Data[:6])
	assert.Equal(t, []float64{4, 5, 6}, arr.Data[6:9])
	assert.True(t, math.IsNaN(arr.Data[9]))

	_, err = Encode(&buf, trajectory.NewStore())
	assert.Error(t, err)
}
