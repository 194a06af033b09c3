package armature

import (
	"fmt"
	"hash/fnv"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
)

// Side colours for appendicular meshes.
const (
	LeftColor  = "#0033BB"
	RightColor = "#BB0033"
)

// Mesh describes a rigid body mesh stretched along one segment. The host
// creates the geometry; the descriptor carries its look and bindings.
type Mesh struct {
	Name    string        `json:"name"`
	Segment string        `json:"segment"`
	Side    skeleton.Side `json:"-"`
	Color   string        `json:"color"`
	// Squish scales the mesh cross-section; appendicular segments are
	// flattened along X.
	Squish      r3.Vec       `json:"squish"`
	Length      float64      `json:"length"`
	Constraints []Constraint `json:"constraints"`
}

// SideColor returns the mesh colour for a segment name. Axial segments get
// a saturated jewel tone picked from a hash of the name so it is stable
// across runs.
func SideColor(segment string) colorful.Color {
	switch skeleton.SideOf(segment) {
	case skeleton.Left:
		c, _ := colorful.Hex(LeftColor)
		return c
	case skeleton.Right:
		c, _ := colorful.Hex(RightColor)
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(segment))
	hue := float64(h.Sum32()%360)
	return colorful.Hsv(hue, 0.85, 0.6)
}

// Squish returns the cross-section scale for a segment name.
func Squish(segment string) r3.Vec {
	if skeleton.SideOf(segment) == skeleton.Axial {
		return r3.Vec{X: 1, Y: 1, Z: 1}
	}
	return r3.Vec{X: 0.8, Y: 1, Z: 1}
}

// RigidBodyMeshes returns one mesh per definition. Each mesh copies the
// location of the segment's parent trajectory and damped-tracks its child
// trajectory along Z.
func RigidBodyMeshes(prefix string, defs rigid.Definitions) []Mesh {
	meshes := make([]Mesh, 0, len(defs))
	for _, d := range defs {
		meshes = append(meshes, Mesh{
			Name:    fmt.Sprintf("%s_rigid_body_mesh_%s", prefix, d.Segment),
			Segment: d.Segment,
			Side:    skeleton.SideOf(d.Segment),
			Color:   SideColor(d.Segment).Hex(),
			Squish:  Squish(d.Segment),
			Length:  d.Length,
			Constraints: []Constraint{
				{Type: CopyLocation, Target: d.ParentTrajectory},
				{Type: DampedTrack, Target: d.ChildTrajectory, TrackAxis: TrackZ},
			},
		})
	}
	return meshes
}

// AddMeshes attaches a rigid body mesh to every bone. Meshes may be added
// once the armature is built and until the rig is finalized.
func (r *Rig) AddMeshes() error {
	if err := r.require("add meshes", ArmatureBuilt, ConstraintsApplied); err != nil {
		return err
	}
	var defs rigid.Definitions
	for _, b := range r.bones {
		d, _ := r.defs.Get(b.Name)
		d.Length = b.Length
		defs = append(defs, d)
	}
	r.meshes = RigidBodyMeshes(r.Name, defs)
	return nil
}

// Meshes returns the attached mesh descriptors.
func (r *Rig) Meshes() []Mesh {
	out := make([]Mesh, len(r.meshes))
	copy(out, r.meshes)
	return out
}
