package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/skelly.rig/internal/armature"
	"github.com/banshee-data/skelly.rig/internal/config"
	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/recording"
	"github.com/banshee-data/skelly.rig/internal/restpose"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/timeutil"
	"github.com/banshee-data/skelly.rig/internal/tracker"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// Orchestrator stage names, used in StageError and timings.
const (
	StageLoad        = "load"
	StageVirtual     = "virtual_markers"
	StageMapping     = "mapping"
	StageKeypoints   = "keypoints"
	StageGround      = "ground"
	StageLengths     = "rigid_lengths"
	StageEnforce     = "enforce_rigid_bones"
	StageArmature    = "armature"
	StageConstraints = "constraints"
	StageMeshes      = "meshes"
	StageFinalize    = "finalize"
)

// StageTiming records one executed stage.
type StageTiming struct {
	Stage        string        `json:"stage"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Trajectories int           `json:"trajectories"`
	Err          string        `json:"error,omitempty"`
}

// PersistenceSink receives run progress. Sink failures are logged and do
// not abort the run.
type PersistenceSink interface {
	StartRun(runID, recordingDir string, cfg *config.PipelineConfig) error
	RecordStage(runID string, st StageTiming) error
	RecordSegments(runID string, defs rigid.Definitions, skipped errkind.SkippedSegments) error
	RecordBones(runID string, bones []*armature.Bone) error
	CompleteRun(runID string) error
	FailRun(runID, stage string, cause error) error
}

// Config holds the dependencies of a run. Only Pipeline is required.
type Config struct {
	Pipeline *config.PipelineConfig
	Registry *tracker.Registry // default: tracker.DefaultRegistry()
	FS       fsutil.FileSystem // default: fsutil.OSFileSystem
	Clock    timeutil.Clock    // default: timeutil.RealClock
	Sink     PersistenceSink   // optional
}

// Result is everything a run produced. It is returned alongside an error
// too, so the snapshots taken before the failure can be inspected.
type Result struct {
	RunID     string
	Recording string
	Tracker   string
	Hands     bool

	Stages    *trajectory.Stages
	Keypoints *trajectory.Store
	Ground    *GroundAlignment
	Rig       *armature.Rig
	Timings   []StageTiming
}

// Skipped returns the segments dropped under the skip policy.
func (r *Result) Skipped() errkind.SkippedSegments {
	if r.Rig == nil {
		return nil
	}
	return r.Rig.Skipped()
}

type run struct {
	cfg    *config.PipelineConfig
	clock  timeutil.Clock
	sink   PersistenceSink
	res    *Result
	mapper tracker.Mapper
	raw    *trajectory.Store
	topo   *skeleton.Topology
	defs   []trajectory.VirtualMarker
}

// Run executes the pipeline over the recording directory.
func (c Config) Run(ctx context.Context, recordingDir string) (*Result, error) {
	cfg := c.Pipeline
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v: %w", err, errkind.Configuration)
	}
	registry := c.Registry
	if registry == nil {
		registry = tracker.DefaultRegistry()
	}
	fsys := c.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	r := &run{
		cfg:   cfg,
		clock: clock,
		sink:  c.Sink,
		res: &Result{
			RunID:     uuid.New().String(),
			Recording: recordingDir,
			Tracker:   cfg.GetTracker(),
			Stages:    trajectory.NewStages(),
		},
	}
	r.persist("start run", func(s PersistenceSink) error { return s.StartRun(r.res.RunID, recordingDir, cfg) })
	monitoring.Logf("[Pipeline] run %s: %s (tracker %s)", r.res.RunID, recordingDir, cfg.GetTracker())

	steps := []struct {
		name string
		skip bool
		fn   func() error
	}{
		{StageLoad, false, func() error { return r.load(registry, fsys, recordingDir) }},
		{StageVirtual, false, r.virtualMarkers},
		{StageMapping, false, r.mapping},
		{StageKeypoints, false, r.keypoints},
		{StageGround, !cfg.GetPutOnGround(), r.ground},
		{StageLengths, false, r.lengths},
		{StageEnforce, !cfg.GetEnforceRigidBones(), r.enforce},
		{StageArmature, false, r.armature},
		{StageConstraints, false, r.constraints},
		{StageMeshes, !cfg.GetAddMeshes(), func() error { return r.res.Rig.AddMeshes() }},
		{StageFinalize, false, r.finalize},
	}
	for _, st := range steps {
		if st.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.res, r.fail(st.name, err)
		}
		if err := r.timed(st.name, st.fn); err != nil {
			return r.res, r.fail(st.name, err)
		}
	}

	r.persist("complete run", func(s PersistenceSink) error { return s.CompleteRun(r.res.RunID) })
	monitoring.Logf("[Pipeline] run %s complete: %d bones", r.res.RunID, len(r.res.Rig.Bones()))
	return r.res, nil
}

func (r *run) timed(stage string, fn func() error) error {
	start := r.clock.Now()
	err := fn()
	st := StageTiming{Stage: stage, StartedAt: start, Duration: r.clock.Since(start)}
	if r.res.Keypoints != nil {
		st.Trajectories = r.res.Keypoints.Len()
	} else if r.raw != nil {
		st.Trajectories = r.raw.Len()
	}
	if err != nil {
		st.Err = err.Error()
	}
	r.res.Timings = append(r.res.Timings, st)
	r.persist("record stage", func(s PersistenceSink) error { return s.RecordStage(r.res.RunID, st) })
	if err == nil {
		monitoring.Stagef(stage)("done in %v", st.Duration)
	}
	return err
}

func (r *run) fail(stage string, err error) error {
	monitoring.Stagef(stage)("failed: %v", err)
	r.persist("fail run", func(s PersistenceSink) error { return s.FailRun(r.res.RunID, stage, err) })
	return &errkind.StageError{Stage: stage, Err: err}
}

func (r *run) persist(what string, fn func(PersistenceSink) error) {
	if r.sink == nil {
		return
	}
	if err := fn(r.sink); err != nil {
		monitoring.Logf("[Pipeline] run %s: failed to %s: %v", r.res.RunID, what, err)
	}
}

// mark snapshots s. Every stage is recorded once per run.
func (r *run) mark(name string, s *trajectory.Store) error {
	return r.res.Stages.Mark(name, s, false)
}

func (r *run) load(registry *tracker.Registry, fsys fsutil.FileSystem, dir string) error {
	if path := r.cfg.GetTrackerTable(); path != "" {
		tbl, err := tracker.LoadTable(fsys, path)
		if err != nil {
			return err
		}
		registry = registry.Clone()
		if err := registry.Register(tbl); err != nil {
			return err
		}
		monitoring.Logf("[Pipeline] registered tracker table %s from %s", tbl.Source(), path)
	}
	m, err := registry.Get(r.cfg.GetTracker())
	if err != nil {
		return err
	}
	r.mapper = m
	loader := &recording.Loader{FS: fsys, Mapper: m, Scale: r.cfg.GetScaleDivisor()}
	store, err := loader.Load(dir)
	if err != nil {
		return err
	}
	r.raw = store
	return r.mark(trajectory.StageOriginal, store)
}

func (r *run) virtualMarkers() error {
	sy := trajectory.Synthesizer{Workers: r.cfg.GetWorkers()}
	if err := sy.Synthesize(r.raw, r.mapper.VirtualMarkers()); err != nil {
		return err
	}
	return r.mark(trajectory.StageVirtual, r.raw)
}

// mapping resolves every keypoint before any geometry exists, so a
// missing mapping stops the run here.
func (r *run) mapping() error {
	hands := hasComponent(r.raw, trajectory.ComponentLeftHand) && hasComponent(r.raw, trajectory.ComponentRightHand)
	topo, err := skeleton.BodyTopology(hands)
	if err != nil {
		return err
	}
	defs, err := tracker.Definitions(r.mapper, topo)
	if err != nil {
		return err
	}
	r.topo, r.defs = topo, defs
	r.res.Hands = hands
	return nil
}

func hasComponent(s *trajectory.Store, comp string) bool {
	for _, c := range s.Components() {
		if c == comp {
			return true
		}
	}
	return false
}

func (r *run) keypoints() error {
	sy := trajectory.Synthesizer{Workers: r.cfg.GetWorkers()}
	kps, err := sy.Derive(r.raw, r.defs, trajectory.ComponentKeypoint)
	if err != nil {
		return err
	}
	r.res.Keypoints = kps
	return r.mark(trajectory.StageKeypoints, kps)
}

func (r *run) ground() error {
	g, err := AlignToGround(r.res.Keypoints, GroundRoot, GroundUp, GroundFeet)
	if err != nil {
		return err
	}
	r.res.Ground = &g
	return r.mark(trajectory.StageRotated, r.res.Keypoints)
}

func (r *run) lengths() error {
	rig := armature.New(filepath.Base(r.res.Recording), r.topo)
	calc := rigid.Calculator{
		Workers:          r.cfg.GetWorkers(),
		SkipInsufficient: r.cfg.GetSkipInsufficientSegments(),
		KeepSymmetry:     r.cfg.GetKeepSymmetry(),
	}
	if err := rig.ComputeLengths(calc, r.res.Keypoints); err != nil {
		return err
	}
	r.res.Rig = rig
	if skipped := rig.Skipped(); len(skipped) > 0 {
		monitoring.Logf("[Pipeline] run %s: %v", r.res.RunID, skipped)
	}
	r.persist("record segments", func(s PersistenceSink) error {
		return s.RecordSegments(r.res.RunID, rig.Definitions(), rig.Skipped())
	})
	return nil
}

func (r *run) enforce() error {
	rig := r.res.Rig
	if err := rigid.Enforce(rig.Topology(), r.res.Keypoints, rig.Definitions(), r.cfg.GetWorkers()); err != nil {
		return err
	}
	return r.mark(trajectory.StageRigid, r.res.Keypoints)
}

func (r *run) armature() error {
	pose, err := restpose.Load(r.cfg.GetRestPoseDefinition())
	if err != nil {
		return err
	}
	return r.res.Rig.Build(pose)
}

func (r *run) constraints() error {
	return r.res.Rig.ApplyConstraints(armature.ConstraintOptions{AddIK: r.cfg.GetAddIKConstraints()})
}

func (r *run) finalize() error {
	rig := r.res.Rig
	err := rig.Finalize(armature.FinalizeOptions{
		UseLimitRotation: r.cfg.GetUseLimitRotation(),
		Limits:           r.cfg.GetBoneConstraints(),
		Bake:             r.cfg.GetBakeAnimation(),
	}, r.res.Keypoints)
	if err != nil {
		return err
	}
	r.persist("record bones", func(s PersistenceSink) error { return s.RecordBones(r.res.RunID, rig.Bones()) })
	return nil
}
