package armature

import (
	"fmt"
	"math"

	"github.com/banshee-data/skelly.rig/internal/config"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// ConstraintType names a live binding attached to a bone or to the rig.
type ConstraintType string

const (
	CopyLocation  ConstraintType = "COPY_LOCATION"
	DampedTrack   ConstraintType = "DAMPED_TRACK"
	LockedTrack   ConstraintType = "LOCKED_TRACK"
	IK            ConstraintType = "IK"
	LimitRotation ConstraintType = "LIMIT_ROTATION"
)

// Track axes.
const (
	TrackX = "TRACK_X"
	TrackY = "TRACK_Y"
	TrackZ = "TRACK_Z"
	LockY  = "LOCK_Y"
)

// Limit is an inclusive rotation range in radians.
type Limit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Constraint binds a bone (or the rig) to a trajectory. Only the fields
// relevant to Type are set.
type Constraint struct {
	Type       ConstraintType `json:"type"`
	Target     string         `json:"target,omitempty"`
	TrackAxis  string         `json:"track_axis,omitempty"`
	LockAxis   string         `json:"lock_axis,omitempty"`
	PoleTarget string         `json:"pole_target,omitempty"`
	ChainCount int            `json:"chain_count,omitempty"`
	LimitX     *Limit         `json:"limit_x,omitempty"`
	LimitY     *Limit         `json:"limit_y,omitempty"`
	LimitZ     *Limit         `json:"limit_z,omitempty"`
}

// DefaultIKChains are the limb bones that receive a two-bone IK constraint.
var DefaultIKChains = []string{"lowerarm_l", "lowerarm_r", "calf_l", "calf_r"}

// ConstraintOptions controls ApplyConstraints.
type ConstraintOptions struct {
	AddIK bool
	// IKChains overrides DefaultIKChains when non-empty.
	IKChains []string
}

// ApplyConstraints binds the built armature to live trajectories. The rig
// copies the root keypoint location; every bone damped-tracks its child
// keypoint along its own Y axis; composite bones additionally lock-track
// their secondary reference. With AddIK the limb chains get IK targets.
func (r *Rig) ApplyConstraints(opts ConstraintOptions) error {
	if err := r.require("apply constraints", ArmatureBuilt); err != nil {
		return err
	}

	r.constraints = []Constraint{{Type: CopyLocation, Target: r.topo.RootKeypoint()}}

	for _, b := range r.bones {
		b.Constraints = append(b.Constraints[:0], Constraint{
			Type:      DampedTrack,
			Target:    b.TailTrajectory,
			TrackAxis: TrackY,
		})
		seg, _ := r.topo.Segment(b.Name)
		if seg.Kind != skeleton.Composite {
			continue
		}
		if c, ok := secondaryTrack(seg.References); ok {
			b.Constraints = append(b.Constraints, c)
		}
	}

	if opts.AddIK {
		chains := opts.IKChains
		if len(chains) == 0 {
			chains = DefaultIKChains
		}
		for _, name := range chains {
			b, ok := r.Bone(name)
			if !ok {
				monitoring.Logf("[Rig] %s: no bone %s for IK, skipping", r.Name, name)
				continue
			}
			b.Constraints = append(b.Constraints, Constraint{
				Type:       IK,
				Target:     b.TailTrajectory,
				PoleTarget: b.HeadTrajectory,
				ChainCount: 2,
			})
		}
	}

	r.state = ConstraintsApplied
	return nil
}

// secondaryTrack returns the locked-track constraint orienting a composite
// bone about its primary axis, using the first reference after the
// primary one.
func secondaryTrack(refs skeleton.References) (Constraint, bool) {
	primary := refs.Primary()
	switch {
	case refs.Forward != "" && refs.Forward != primary:
		return Constraint{Type: LockedTrack, Target: refs.Forward, TrackAxis: TrackZ, LockAxis: LockY}, true
	case refs.Left != "" && refs.Left != primary:
		return Constraint{Type: LockedTrack, Target: refs.Left, TrackAxis: TrackX, LockAxis: LockY}, true
	}
	return Constraint{}, false
}

// FinalizeOptions controls Finalize.
type FinalizeOptions struct {
	UseLimitRotation bool
	// Limits maps bone names to rotation ranges in degrees.
	Limits map[string]config.BoneConstraint
	// Bake evaluates the rig over every frame of the store passed to
	// Finalize.
	Bake bool
}

// LimitFromConfig converts a degree range to a radian Limit.
func LimitFromConfig(a *config.AxisLimit) *Limit {
	if a == nil {
		return nil
	}
	return &Limit{Min: a.Min * math.Pi / 180, Max: a.Max * math.Pi / 180}
}

// Finalize optionally adds rotation limits and bakes the animation, then
// freezes the rig. Baking needs the store the rig is bound to; pass nil
// when opts.Bake is false.
func (r *Rig) Finalize(opts FinalizeOptions, store *trajectory.Store) error {
	if err := r.require("finalize", ConstraintsApplied); err != nil {
		return err
	}
	if opts.UseLimitRotation {
		for name, bc := range opts.Limits {
			b, ok := r.Bone(name)
			if !ok {
				continue
			}
			b.Constraints = append(b.Constraints, Constraint{
				Type:   LimitRotation,
				LimitX: LimitFromConfig(bc.X),
				LimitY: LimitFromConfig(bc.Y),
				LimitZ: LimitFromConfig(bc.Z),
			})
		}
	}
	if opts.Bake {
		if store == nil {
			return fmt.Errorf("rig %s: bake requested without trajectories", r.Name)
		}
		poses, err := r.Bake(store)
		if err != nil {
			return fmt.Errorf("rig %s: bake: %w", r.Name, err)
		}
		r.baked = poses
	}
	r.state = Finalized
	monitoring.Logf("[Rig] %s: finalized with %d bones, %d meshes", r.Name, len(r.bones), len(r.meshes))
	return nil
}

// Baked returns the poses computed at Finalize, nil when baking was off.
func (r *Rig) Baked() []Pose { return r.baked }
