package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/armature"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/pipeline"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/testutil"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
	"github.com/banshee-data/skelly.rig/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

func fixture(t *testing.T) (*skeleton.Topology, *trajectory.Store, rigid.Definitions) {
	t.Helper()
	topo, err := skeleton.NewTopology("r",
		[]skeleton.Keypoint{{Name: "r"}, {Name: "a"}, {Name: "left"}, {Name: "right"}},
		[]skeleton.Segment{
			{Name: "spine", Kind: skeleton.Simple, Parent: "r", Child: "a"},
			{Name: "arm_l", Kind: skeleton.Simple, Parent: "a", Child: "left"},
			{Name: "arm_r", Kind: skeleton.Simple, Parent: "a", Child: "right"},
		})
	require.NoError(t, err)
	store := testutil.ConstantStore(t, 12, map[string]r3.Vec{
		"r":     {},
		"a":     {Z: 1},
		"left":  {X: 0.5, Z: 1},
		"right": {X: -0.5, Z: 1},
	})
	left, _ := store.Get("left")
	left.Data[3] = r3.Vec{X: math.NaN()}

	res, err := rigid.Calculator{}.Calculate(topo, store)
	require.NoError(t, err)
	return topo, store, res.Definitions
}

func TestLengthPlotter_Write(t *testing.T) {
	_, store, defs := fixture(t)
	dir := filepath.Join(t.TempDir(), "plots")

	files, err := NewLengthPlotter(dir).Write(store, defs)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, side := range []string{"axial", "left", "right"} {
		assert.Equal(t, filepath.Join(dir, "segment_lengths_"+side+".png"), files[i])
		data, err := os.ReadFile(files[i])
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "%s is not a PNG", files[i])
	}
}

func TestLengthPlotter_FileSystem(t *testing.T) {
	_, store, defs := fixture(t)
	fsys := fsutil.NewMemoryFileSystem()
	lp := NewLengthPlotter("/plots")
	lp.FS = fsys

	files, err := lp.Write(store, defs)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		data, err := fsys.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "%s is not a PNG", f)
		_, err = os.Stat(f)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestLengthPlotter_UnknownTrajectory(t *testing.T) {
	_, store, _ := fixture(t)
	defs := rigid.Definitions{{Segment: "ghost", Length: 1, ParentTrajectory: "r", ChildTrajectory: "nope"}}
	_, err := NewLengthPlotter(t.TempDir()).Write(store, defs)
	assert.Error(t, err)
}

func TestPalette(t *testing.T) {
	assert.Nil(t, Palette(0))
	colors := Palette(4)
	require.Len(t, colors, 4)
	assert.NotEqual(t, colors[0], colors[1])
}

func TestRenderSegmentChart(t *testing.T) {
	_, _, defs := fixture(t)
	var buf bytes.Buffer
	require.NoError(t, RenderSegmentChart(&buf, "Segment lengths", defs))
	html := buf.String()
	assert.Contains(t, html, "echarts")
	for _, name := range []string{"spine", "arm_l", "arm_r"} {
		assert.Contains(t, html, name)
	}
}

func TestRenderStageChart(t *testing.T) {
	_, store, _ := fixture(t)
	stages := trajectory.NewStages()
	require.NoError(t, stages.Mark(trajectory.StageOriginal, store, false))
	require.NoError(t, stages.Mark(trajectory.StageKeypoints, store, false))

	var buf bytes.Buffer
	require.NoError(t, RenderStageChart(&buf, stages, 30, units.KMPH))
	assert.Contains(t, buf.String(), trajectory.StageKeypoints)
	assert.Contains(t, buf.String(), "mean speed (kmph)")
}

func TestMeanSpeed(t *testing.T) {
	store := trajectory.NewStore()
	require.NoError(t, store.Add(&trajectory.Trajectory{Name: "a", Component: trajectory.ComponentBody,
		Data: []r3.Vec{{}, {X: 1}, {X: 2}}}))
	require.NoError(t, store.Add(&trajectory.Trajectory{Name: "b", Component: trajectory.ComponentBody,
		Data: []r3.Vec{{}, {}, {}}}))

	tests := []struct {
		units string
		want  float64
	}{
		{units.MPS, 1},
		{units.KMPH, 3.6},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			assert.InDelta(t, tt.want, MeanSpeed(store, 2, tt.units), 1e-9)
		})
	}
	assert.Zero(t, MeanSpeed(trajectory.NewStore(), 30, units.MPS))
}

func TestRenderTimingChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTimingChart(&buf, []pipeline.StageTiming{
		{Stage: pipeline.StageLoad, Duration: 12 * time.Millisecond},
		{Stage: pipeline.StageLengths, Duration: 3 * time.Millisecond},
	}))
	assert.Contains(t, buf.String(), pipeline.StageLengths)
}

func builtRig(t *testing.T) (*armature.Rig, *trajectory.Store) {
	t.Helper()
	topo, store, defs := fixture(t)
	rig := armature.New("report", topo)
	require.NoError(t, rig.SetLengths(defs))
	require.NoError(t, rig.Build(nil))
	require.NoError(t, rig.ApplyConstraints(armature.ConstraintOptions{}))
	return rig, store
}

func TestWriteBoneCSV(t *testing.T) {
	rig, _ := builtRig(t)
	var buf bytes.Buffer
	require.NoError(t, WriteBoneCSV(&buf, rig.Bones()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "bone", rows[0][0])
	assert.Equal(t, []string{"spine", "", "1.000000", "0.000000", "0.000000", "0.000000", "0.000000", "0.000000", "1.000000", "0.000000"}, rows[1])
	assert.Equal(t, "arm_l", rows[2][0])
	assert.Equal(t, "spine", rows[2][1])
	assert.Equal(t, "0.500000", rows[2][2])
}

func TestWriteJointAngleCSV(t *testing.T) {
	rig, store := builtRig(t)
	poses, err := rig.Bake(store)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJointAngleCSV(&buf, rig, poses))
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 13)
	assert.Equal(t, []string{"frame", "arm_l", "arm_r"}, rows[0])
	assert.Equal(t, []string{"0", "90.000000", "90.000000"}, rows[1])

	assert.Error(t, WriteJointAngleCSV(&buf, rig, nil))
}
