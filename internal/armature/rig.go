// Package armature generates a hierarchical bone rig from a skeleton
// topology, rigid segment lengths and a rest pose, and binds it to live
// trajectories through constraints.
//
// A Rig moves through a fixed sequence of states:
//
//	TopologyDefined → LengthsComputed → ArmatureBuilt → ConstraintsApplied → Finalized
//
// Each transition is a method that fails with errkind.InvalidState when
// called out of order. Once finalized the rig is read-only.
package armature

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/restpose"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// State is a rig generation stage.
type State int

const (
	TopologyDefined State = iota
	LengthsComputed
	ArmatureBuilt
	ConstraintsApplied
	Finalized
)

func (s State) String() string {
	switch s {
	case TopologyDefined:
		return "topology_defined"
	case LengthsComputed:
		return "lengths_computed"
	case ArmatureBuilt:
		return "armature_built"
	case ConstraintsApplied:
		return "constraints_applied"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Bone is one rig bone built from a segment of the same name.
type Bone struct {
	Name   string        `json:"name"`
	Parent string        `json:"parent,omitempty"`
	Kind   string        `json:"kind"`
	Side   skeleton.Side `json:"-"`

	Head   r3.Vec  `json:"head"`
	Tail   r3.Vec  `json:"tail"`
	Length float64 `json:"length"`
	Roll   float64 `json:"roll"`
	// RestFromTable is set when the rest pose table oriented the bone;
	// otherwise it points along the mean parent→child direction.
	RestFromTable bool `json:"rest_from_table"`

	// HeadTrajectory and TailTrajectory name the keypoint trajectories the
	// bone is bound to.
	HeadTrajectory string `json:"head_trajectory"`
	TailTrajectory string `json:"tail_trajectory"`

	Constraints []Constraint `json:"constraints,omitempty"`
}

// Direction returns the unit rest direction of the bone.
func (b *Bone) Direction() r3.Vec {
	return r3.Unit(r3.Sub(b.Tail, b.Head))
}

// Rig is an armature under construction for one recording. It is not safe
// for concurrent mutation.
type Rig struct {
	Name string

	state   State
	topo    *skeleton.Topology
	defs    rigid.Definitions
	skipped errkind.SkippedSegments

	bones       []*Bone
	index       map[string]int
	constraints []Constraint
	meshes      []Mesh
	baked       []Pose
	workers     int
}

// New starts a rig over topo.
func New(name string, topo *skeleton.Topology) *Rig {
	return &Rig{Name: name, topo: topo, state: TopologyDefined, index: make(map[string]int)}
}

// State returns the current state.
func (r *Rig) State() State { return r.state }

// Topology returns the topology the rig is built from. After
// ComputeLengths it excludes skipped segments.
func (r *Rig) Topology() *skeleton.Topology { return r.topo }

// Definitions returns the rigid segment definitions.
func (r *Rig) Definitions() rigid.Definitions { return r.defs }

// Skipped returns the segments dropped while computing lengths.
func (r *Rig) Skipped() errkind.SkippedSegments { return r.skipped }

func (r *Rig) require(op string, want ...State) error {
	for _, s := range want {
		if r.state == s {
			return nil
		}
	}
	return fmt.Errorf("rig %s: %s needs state %v, rig is %s: %w", r.Name, op, want, r.state, errkind.InvalidState)
}

// Prune removes segments and their descendants before the armature is
// built.
func (r *Rig) Prune(segments ...string) error {
	if err := r.require("prune", TopologyDefined, LengthsComputed); err != nil {
		return err
	}
	pruned, removed, err := r.topo.Prune(segments...)
	if err != nil {
		return err
	}
	r.topo = pruned
	if r.state == LengthsComputed {
		var kept rigid.Definitions
		for _, d := range r.defs {
			if _, ok := pruned.Segment(d.Segment); ok {
				kept = append(kept, d)
			}
		}
		r.defs = kept
	}
	monitoring.Logf("[Rig] %s: pruned %v", r.Name, removed)
	return nil
}

// ComputeLengths runs calc over every segment of the topology using the
// keypoint trajectories in store. With the skip policy enabled, skipped
// segments are pruned from the rig and reported by Skipped.
func (r *Rig) ComputeLengths(calc rigid.Calculator, store *trajectory.Store) error {
	if err := r.require("compute lengths", TopologyDefined); err != nil {
		return err
	}
	res, err := calc.Calculate(r.topo, store)
	if err != nil {
		return fmt.Errorf("rig %s: computing lengths: %w", r.Name, err)
	}
	r.topo = res.Topology
	r.defs = res.Definitions
	r.skipped = res.Skipped
	r.workers = calc.Workers
	r.state = LengthsComputed
	return nil
}

// SetLengths installs precomputed definitions. Every segment of the
// topology must have one.
func (r *Rig) SetLengths(defs rigid.Definitions) error {
	if err := r.require("set lengths", TopologyDefined); err != nil {
		return err
	}
	for _, seg := range r.topo.Segments() {
		d, ok := defs.Get(seg.Name)
		if !ok {
			return fmt.Errorf("rig %s: no length for segment %s: %w", r.Name, seg.Name, errkind.InsufficientData)
		}
		if !(d.Length > 0) {
			return fmt.Errorf("rig %s: segment %s length %v is not positive: %w", r.Name, seg.Name, d.Length, errkind.InsufficientData)
		}
	}
	r.defs = defs
	r.state = LengthsComputed
	return nil
}

// Build places every bone root-first. The root keypoint sits at the
// origin; each bone's head is the rest position of its parent keypoint,
// already placed by an ancestor, and its tail lies Length along the rest
// direction. The rest direction comes from pose when the bone has an
// entry, else from the mean recorded direction.
func (r *Rig) Build(pose restpose.Table) error {
	if err := r.require("build", LengthsComputed); err != nil {
		return err
	}

	placed := map[string]r3.Vec{r.topo.RootKeypoint(): {}}
	var bones []*Bone
	index := make(map[string]int)

	err := r.topo.Walk(func(seg skeleton.Segment, parent string) error {
		def, ok := r.defs.Get(seg.Name)
		if !ok {
			return fmt.Errorf("rig %s: no length for segment %s: %w", r.Name, seg.Name, errkind.InsufficientData)
		}
		head, ok := placed[seg.ParentKeypoint()]
		if !ok {
			return fmt.Errorf("rig %s: %s starts at unplaced keypoint %s: %w", r.Name, seg.Name, seg.ParentKeypoint(), errkind.InvalidState)
		}

		b := &Bone{
			Name:           seg.Name,
			Parent:         parent,
			Kind:           seg.Kind.String(),
			Side:           skeleton.SideOf(seg.Name),
			Head:           head,
			Length:         def.Length,
			HeadTrajectory: def.ParentTrajectory,
			TailTrajectory: def.ChildTrajectory,
		}
		dir := def.Direction
		if e, ok := pose.Lookup(seg.Name); ok {
			dir = e.Direction()
			b.Roll = e.RollAngle()
			b.RestFromTable = true
		}
		b.Tail = r3.Add(head, r3.Scale(def.Length, dir))

		target := seg.TargetKeypoint()
		if _, done := placed[target]; !done || seg.Kind == skeleton.Simple {
			placed[target] = b.Tail
		}
		index[b.Name] = len(bones)
		bones = append(bones, b)
		return nil
	})
	if err != nil {
		return err
	}

	r.bones = bones
	r.index = index
	r.state = ArmatureBuilt
	monitoring.Logf("[Rig] %s: built %d bones", r.Name, len(bones))
	return nil
}

// Bones returns the bones in build order.
func (r *Rig) Bones() []*Bone {
	out := make([]*Bone, len(r.bones))
	copy(out, r.bones)
	return out
}

// Bone returns the named bone.
func (r *Rig) Bone(name string) (*Bone, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.bones[i], true
}

// Constraints returns the armature-level constraints.
func (r *Rig) Constraints() []Constraint {
	out := make([]Constraint, len(r.constraints))
	copy(out, r.constraints)
	return out
}
