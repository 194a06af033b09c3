package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/armature"
	"github.com/banshee-data/skelly.rig/internal/config"
	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/testutil"
	"github.com/banshee-data/skelly.rig/internal/timeutil"
	"github.com/banshee-data/skelly.rig/internal/tracker"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

func init() {
	monitoring.SetLogger(nil)
}

const recDir = "/recordings/session_01"

func writeRecording(t *testing.T, s testutil.Synthetic) *fsutil.MemoryFileSystem {
	t.Helper()
	if s.Markers == nil {
		s.Markers = tracker.MediaPipeBodyLandmarks
	}
	if s.HandMarkers == nil {
		s.HandMarkers = tracker.MediaPipeHandLandmarks
	}
	if s.Unit == 0 {
		s.Unit = 1000
	}
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, s.Write(fs, recDir, tracker.MediaPipeSource))
	return fs
}

func stageNames(timings []StageTiming) []string {
	out := make([]string, len(timings))
	for i, st := range timings {
		out[i] = st.Stage
	}
	return out
}

func TestRun_FullRecording(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 10, Step: r3.Vec{X: 0.01}, Hands: true, Face: true})
	clock := timeutil.NewSteppingMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 5*time.Millisecond)

	res, err := Config{Pipeline: config.DefaultPipelineConfig(), FS: fs, Clock: clock}.Run(context.Background(), recDir)
	require.NoError(t, err)
	require.NotNil(t, res.Rig)

	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.Hands)
	assert.Equal(t, armature.Finalized, res.Rig.State())
	assert.Equal(t, "session_01", res.Rig.Name)
	assert.Len(t, res.Rig.Bones(), 64)
	assert.Len(t, res.Rig.Meshes(), 64)
	assert.Empty(t, res.Skipped())

	assert.Equal(t, []string{
		trajectory.StageOriginal, trajectory.StageVirtual, trajectory.StageKeypoints, trajectory.StageRotated,
	}, res.Stages.Names())
	assert.Equal(t, []string{
		StageLoad, StageVirtual, StageMapping, StageKeypoints, StageGround,
		StageLengths, StageArmature, StageConstraints, StageMeshes, StageFinalize,
	}, stageNames(res.Timings))
	for _, st := range res.Timings {
		assert.Equal(t, 5*time.Millisecond, st.Duration, st.Stage)
		assert.Empty(t, st.Err)
	}

	thigh, ok := res.Rig.Definitions().Get("thigh_l")
	require.True(t, ok)
	assert.InDelta(t, 0.45, thigh.Length, 1e-9)
	upper, _ := res.Rig.Definitions().Get("upperarm_r")
	assert.InDelta(t, 0.28, upper.Length, 1e-9)

	orig, ok := res.Stages.Get(trajectory.StageOriginal)
	require.True(t, ok)
	assert.Equal(t, 33+21+21+5, orig.Len())
	virt, _ := res.Stages.Get(trajectory.StageVirtual)
	assert.Equal(t, orig.Len()+4, virt.Len())
}

func TestRun_GroundAlignment(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 6, Step: r3.Vec{X: 0.02, Y: 0.01}})

	res, err := Config{Pipeline: config.DefaultPipelineConfig(), FS: fs}.Run(context.Background(), recDir)
	require.NoError(t, err)
	require.NotNil(t, res.Ground)

	pelvis, _ := res.Keypoints.Get("pelvis_center")
	mean, n := trajectory.MeanPosition(pelvis)
	assert.Equal(t, 6, n)
	assert.InDelta(t, 0, mean.X, 1e-9)
	assert.InDelta(t, 0, mean.Y, 1e-9)
	assert.InDelta(t, 1.0-0.02, mean.Z, 1e-9)

	toe, _ := res.Keypoints.Get("left_hallux_tip")
	assert.InDelta(t, 0, toe.Data[0].Z, 1e-9)

	// The keypoint snapshot predates the alignment.
	before, _ := res.Stages.Get(trajectory.StageKeypoints)
	p0, _ := before.Get("pelvis_center")
	testutil.AssertVecNear(t, r3.Vec{Z: 1}, p0.Data[0], 1e-9)
	testutil.AssertVecNear(t, pelvis.Data[0], res.Ground.Apply(p0.Data[0]), 1e-9)
}

func TestRun_BodyOnly(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 3})
	cfg := config.DefaultPipelineConfig()
	cfg.AddMeshes = ptr(false)
	cfg.PutOnGround = ptr(false)

	res, err := Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	require.NoError(t, err)
	assert.False(t, res.Hands)
	assert.Len(t, res.Rig.Bones(), 24)
	assert.Empty(t, res.Rig.Meshes())
	assert.NotContains(t, stageNames(res.Timings), StageMeshes)
	assert.NotContains(t, stageNames(res.Timings), StageGround)
	assert.Nil(t, res.Ground)
}

func TestRun_EnforceAndBake(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 8, Jitter: 0.004})
	cfg := config.DefaultPipelineConfig()
	cfg.EnforceRigidBones = ptr(true)
	cfg.BakeAnimation = ptr(true)
	cfg.AddIKConstraints = ptr(true)
	cfg.UseLimitRotation = ptr(true)
	cfg.KeepSymmetry = ptr(true)

	res, err := Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	require.NoError(t, err)
	assert.Contains(t, res.Stages.Names(), trajectory.StageRigid)
	assert.Len(t, res.Rig.Baked(), 8)

	defs := res.Rig.Definitions()
	l, _ := defs.Get("calf_l")
	r, _ := defs.Get("calf_r")
	assert.Equal(t, l.Length, r.Length)

	for _, name := range []string{"thigh_l", "lowerarm_r", "spine_04"} {
		d, _ := defs.Get(name)
		parent, _ := res.Keypoints.Get(d.ParentTrajectory)
		child, _ := res.Keypoints.Get(d.ChildTrajectory)
		for f := range parent.Data {
			assert.InDelta(t, d.Length, r3.Norm(r3.Sub(child.Data[f], parent.Data[f])), 1e-9, "%s frame %d", name, f)
		}
	}

	calf, _ := res.Rig.Bone("calf_l")
	var types []armature.ConstraintType
	for _, c := range calf.Constraints {
		types = append(types, c.Type)
	}
	assert.Equal(t, []armature.ConstraintType{armature.DampedTrack, armature.IK, armature.LimitRotation}, types)
}

func TestRun_UnmappedComponentStopsBeforeGeometry(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 4})
	reg := tracker.NewRegistry()
	require.NoError(t, reg.Register(&tracker.Table{
		Name:     tracker.MediaPipeSource,
		Tables:   map[string]tracker.ComponentTable{},
		Unmapped: []string{trajectory.ComponentBody},
	}))
	sink := &recordingSink{}

	res, err := Config{Pipeline: config.DefaultPipelineConfig(), FS: fs, Registry: reg, Sink: sink}.Run(context.Background(), recDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.MissingMapping)
	assert.Equal(t, StageMapping, errkind.Stage(err))
	require.NotNil(t, res)
	assert.Nil(t, res.Rig)
	assert.Nil(t, res.Keypoints)
	assert.Equal(t, []string{trajectory.StageOriginal, trajectory.StageVirtual}, res.Stages.Names())

	assert.Equal(t, StageMapping, sink.failedStage)
	assert.False(t, sink.completed)
	assert.Empty(t, sink.bones)
}

func TestRun_TrackerTable(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 3})
	require.NoError(t, fs.WriteFile("/trackers/toy.json",
		[]byte(`{"source": "toy", "components": {}, "unmapped_components": ["body"]}`), 0o644))
	reg := tracker.DefaultRegistry()

	cfg := config.DefaultPipelineConfig()
	cfg.Tracker = ptr("toy")
	cfg.TrackerTable = ptr("/trackers/toy.json")

	t.Run("registered table is selected", func(t *testing.T) {
		for range 2 {
			res, err := Config{Pipeline: cfg, FS: fs, Registry: reg}.Run(context.Background(), recDir)
			assert.ErrorIs(t, err, errkind.MissingMapping)
			assert.Equal(t, StageMapping, errkind.Stage(err))
			assert.Equal(t, "toy", res.Tracker)
		}
		assert.Equal(t, []string{tracker.MediaPipeSource}, reg.Sources())
	})

	t.Run("missing table", func(t *testing.T) {
		bad := *cfg
		bad.TrackerTable = ptr("/trackers/nope.json")
		_, err := Config{Pipeline: &bad, FS: fs}.Run(context.Background(), recDir)
		assert.ErrorIs(t, err, errkind.Configuration)
		assert.Equal(t, StageLoad, errkind.Stage(err))
	})

	t.Run("duplicate source", func(t *testing.T) {
		require.NoError(t, fs.WriteFile("/trackers/mp.json",
			[]byte(`{"source": "mediapipe", "components": {}}`), 0o644))
		dup := *cfg
		dup.TrackerTable = ptr("/trackers/mp.json")
		_, err := Config{Pipeline: &dup, FS: fs}.Run(context.Background(), recDir)
		assert.ErrorIs(t, err, errkind.Configuration)
	})
}

func TestRun_InsufficientDataAborts(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 3, Missing: []int{0, 1, 2}})
	cfg := config.DefaultPipelineConfig()
	cfg.PutOnGround = ptr(false)

	res, err := Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	assert.ErrorIs(t, err, errkind.InsufficientData)
	assert.Equal(t, StageLengths, errkind.Stage(err))
	assert.Nil(t, res.Rig)
	_, ok := res.Stages.Get(trajectory.StageKeypoints)
	assert.True(t, ok)
	last := res.Timings[len(res.Timings)-1]
	assert.Equal(t, StageLengths, last.Stage)
	assert.NotEmpty(t, last.Err)

	cfg.PutOnGround = ptr(true)
	_, err = Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	assert.ErrorIs(t, err, errkind.InsufficientData)
	assert.Equal(t, StageGround, errkind.Stage(err))
}

func TestRun_ConfigurationErrors(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 2})

	cfg := config.DefaultPipelineConfig()
	cfg.Tracker = ptr("openpose")
	_, err := Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	assert.ErrorIs(t, err, errkind.Configuration)
	assert.Equal(t, StageLoad, errkind.Stage(err))

	cfg = config.DefaultPipelineConfig()
	cfg.RestPoseDefinition = ptr("no_such_pose")
	res, err := Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	assert.ErrorIs(t, err, errkind.Configuration)
	assert.Equal(t, StageArmature, errkind.Stage(err))
	assert.Equal(t, armature.LengthsComputed, res.Rig.State())

	cfg = config.DefaultPipelineConfig()
	cfg.FrameRate = ptr(-1.0)
	_, err = Config{Pipeline: cfg, FS: fs}.Run(context.Background(), recDir)
	assert.ErrorIs(t, err, errkind.Configuration)
	assert.Equal(t, "", errkind.Stage(err))

	_, err = Config{Pipeline: config.DefaultPipelineConfig(), FS: fs}.Run(context.Background(), "/recordings/missing")
	assert.ErrorIs(t, err, errkind.Configuration)
	assert.Equal(t, StageLoad, errkind.Stage(err))
}

func TestRun_Canceled(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Config{Pipeline: config.DefaultPipelineConfig(), FS: fs}.Run(ctx, recDir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StageLoad, errkind.Stage(err))
	assert.Empty(t, res.Timings)
}

func TestRun_Sink(t *testing.T) {
	fs := writeRecording(t, testutil.Synthetic{Frames: 4})
	sink := &recordingSink{failStages: true}

	res, err := Config{Pipeline: config.DefaultPipelineConfig(), FS: fs, Sink: sink}.Run(context.Background(), recDir)
	require.NoError(t, err, "sink failures must not abort the run")

	assert.Equal(t, res.RunID, sink.runID)
	assert.Equal(t, recDir, sink.recording)
	assert.Len(t, sink.stages, len(res.Timings))
	assert.Len(t, sink.segments, 24)
	assert.Len(t, sink.bones, 24)
	assert.True(t, sink.completed)
	assert.Empty(t, sink.failedStage)
}

func ptr[T any](v T) *T { return &v }

type recordingSink struct {
	mu          sync.Mutex
	failStages  bool
	runID       string
	recording   string
	stages      []StageTiming
	segments    rigid.Definitions
	bones       []*armature.Bone
	completed   bool
	failedStage string
}

func (s *recordingSink) StartRun(runID, dir string, _ *config.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID, s.recording = runID, dir
	return nil
}

func (s *recordingSink) RecordStage(_ string, st StageTiming) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, st)
	if s.failStages {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) RecordSegments(_ string, defs rigid.Definitions, _ errkind.SkippedSegments) error {
	s.segments = defs
	return nil
}

func (s *recordingSink) RecordBones(_ string, bones []*armature.Bone) error {
	s.bones = bones
	return nil
}

func (s *recordingSink) CompleteRun(string) error {
	s.completed = true
	return nil
}

func (s *recordingSink) FailRun(_, stage string, _ error) error {
	s.failedStage = stage
	return nil
}

func TestRun_MarkRejectsRepeatedStage(t *testing.T) {
	r := &run{res: &Result{Stages: trajectory.NewStages()}}
	store := testutil.ConstantStore(t, 2, map[string]r3.Vec{"pelvis_center": {}})

	require.NoError(t, r.mark(trajectory.StageKeypoints, store))
	err := r.mark(trajectory.StageKeypoints, store)
	assert.ErrorIs(t, err, errkind.Configuration)
	assert.Equal(t, []string{trajectory.StageKeypoints}, r.res.Stages.Names())
}

func TestAlignToGround(t *testing.T) {
	// A body lying along +Y with feet at y=0.
	store := testutil.ConstantStore(t, 4, map[string]r3.Vec{
		"pelvis_center":   {X: 3, Y: 1.0, Z: 2},
		"spine_c7":        {X: 3, Y: 1.5, Z: 2},
		"left_ankle":      {X: 3.1, Y: 0.1, Z: 2},
		"left_hallux_tip": {X: 3.1, Y: 0.02, Z: 2.15},
	})

	g, err := AlignToGround(store, GroundRoot, GroundUp, GroundFeet)
	require.NoError(t, err)

	pelvis, _ := store.Get("pelvis_center")
	neck, _ := store.Get("spine_c7")
	up := r3.Unit(r3.Sub(neck.Data[0], pelvis.Data[0]))
	testutil.AssertVecNear(t, r3.Vec{Z: 1}, up, 1e-9)
	assert.InDelta(t, 0, pelvis.Data[0].X, 1e-9)
	assert.InDelta(t, 0, pelvis.Data[0].Y, 1e-9)

	minZ := math.Inf(1)
	for _, name := range []string{"left_ankle", "left_hallux_tip"} {
		tr, _ := store.Get(name)
		minZ = math.Min(minZ, tr.Data[0].Z)
	}
	assert.InDelta(t, 0, minZ, 1e-9)
	testutil.AssertVecNear(t, pelvis.Data[2], g.Apply(r3.Vec{X: 3, Y: 1.0, Z: 2}), 1e-9)

	T := g.Matrix()
	assert.True(t, trajectory.IsValidTransformMatrix(T))
	testutil.AssertVecNear(t, g.Translation, r3.Vec{X: T[3], Y: T[7], Z: T[11]}, 1e-12)
}

func TestAlignToGround_Errors(t *testing.T) {
	store := testutil.ConstantStore(t, 2, map[string]r3.Vec{"pelvis_center": {}})
	_, err := AlignToGround(store, GroundRoot, GroundUp, GroundFeet)
	assert.Error(t, err)

	nan := math.NaN()
	store = testutil.ConstantStore(t, 2, map[string]r3.Vec{
		"pelvis_center": {X: nan, Y: nan, Z: nan},
		"spine_c7":      {Z: 1},
	})
	_, err = AlignToGround(store, GroundRoot, GroundUp, GroundFeet)
	assert.ErrorIs(t, err, errkind.InsufficientData)
}
