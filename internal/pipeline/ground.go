package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// Ground alignment keypoints for the canonical body.
var (
	GroundRoot = "pelvis_center"
	GroundUp   = "spine_c7"
	GroundFeet = []string{
		"left_ankle", "left_heel", "left_hallux_tip",
		"right_ankle", "right_heel", "right_hallux_tip",
	}
)

// GroundAlignment is the rigid transform applied to put a recording into
// the inertial ground frame: rotate first, then translate.
type GroundAlignment struct {
	Rotation    *r3.Mat
	Translation r3.Vec
}

// Matrix returns the alignment as a row-major 4x4 homogeneous transform.
func (g GroundAlignment) Matrix() [16]float64 {
	return trajectory.Transform(g.Rotation, g.Translation)
}

// AlignToGround rotates store so the mean root→up direction is +Z, then
// translates it so the mean root position sits over the origin and the
// lowest valid foot point touches Z=0. Both steps are applied as one
// transform.
func AlignToGround(store *trajectory.Store, root, up string, feet []string) (GroundAlignment, error) {
	rt, err := store.Lookup(root)
	if err != nil {
		return GroundAlignment{}, err
	}
	ut, err := store.Lookup(up)
	if err != nil {
		return GroundAlignment{}, err
	}

	var sum r3.Vec
	n := 0
	for f := range rt.Data {
		p, q := rt.Data[f], ut.Data[f]
		if !trajectory.IsFinite(p) || !trajectory.IsFinite(q) {
			continue
		}
		d := r3.Sub(q, p)
		if r3.Norm(d) == 0 {
			continue
		}
		sum = r3.Add(sum, r3.Unit(d))
		n++
	}
	if n == 0 || r3.Norm(sum) == 0 {
		return GroundAlignment{}, fmt.Errorf("no frame with both %s and %s: %w", root, up, errkind.InsufficientData)
	}

	g := GroundAlignment{Rotation: trajectory.AlignmentRotation(sum, r3.Vec{Z: 1})}

	mean, _ := trajectory.MeanPosition(rt)
	mean = g.Rotation.MulVec(mean)
	minZ := math.Inf(1)
	for _, name := range feet {
		t, ok := store.Get(name)
		if !ok {
			continue
		}
		for _, p := range t.Data {
			if !trajectory.IsFinite(p) {
				continue
			}
			if z := g.Rotation.MulVec(p).Z; z < minZ {
				minZ = z
			}
		}
	}
	if math.IsInf(minZ, 1) {
		minZ = 0
	}
	g.Translation = r3.Vec{X: -mean.X, Y: -mean.Y, Z: -minZ}

	T := g.Matrix()
	if !trajectory.IsValidTransformMatrix(T) {
		return GroundAlignment{}, fmt.Errorf("ground alignment is not a rigid transform: %v", T)
	}
	store.ApplyTransform(T)
	return g, nil
}

// Apply transforms p the same way AlignToGround transformed the store.
func (g GroundAlignment) Apply(p r3.Vec) r3.Vec {
	return trajectory.ApplyPose(p, g.Matrix())
}
