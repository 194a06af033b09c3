package armature

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// PosedBone is one bone evaluated at a frame.
type PosedBone struct {
	Name string `json:"name"`
	Head r3.Vec `json:"head"`
	Tail r3.Vec `json:"tail"`
	// Rotation takes the rest direction onto the posed direction.
	Rotation quat.Number `json:"rotation"`
	// Tracked is false when either endpoint trajectory was not finite at
	// this frame and the bone kept its rest direction.
	Tracked bool `json:"tracked"`
}

// Pose is the rig evaluated at one frame, bones in build order.
type Pose struct {
	Frame int         `json:"frame"`
	Bones []PosedBone `json:"bones"`
}

// Bone returns the posed bone by name.
func (p Pose) Bone(name string) (PosedBone, bool) {
	for _, b := range p.Bones {
		if b.Name == name {
			return b, true
		}
	}
	return PosedBone{}, false
}

// Evaluate poses the rig at one frame the way its constraints would: root
// bone heads copy the root keypoint location, each bone points from its
// head trajectory towards its tail trajectory, and child heads chain from
// the already posed keypoints. Lengths stay rigid.
func (r *Rig) Evaluate(store *trajectory.Store, frame int) (Pose, error) {
	if r.state < ConstraintsApplied {
		return Pose{}, fmt.Errorf("rig %s: evaluate needs constraints, rig is %s: %w", r.Name, r.state, errkind.InvalidState)
	}
	if frame < 0 || frame >= store.FrameCount() {
		return Pose{}, fmt.Errorf("rig %s: frame %d out of range [0,%d)", r.Name, frame, store.FrameCount())
	}
	lookup := make(map[string]*trajectory.Trajectory, 2*len(r.bones)+1)
	for _, b := range r.bones {
		for _, name := range []string{r.topo.RootKeypoint(), b.HeadTrajectory, b.TailTrajectory} {
			if _, ok := lookup[name]; ok {
				continue
			}
			t, err := store.Lookup(name)
			if err != nil {
				return Pose{}, fmt.Errorf("rig %s: bone %s: %w", r.Name, b.Name, err)
			}
			lookup[name] = t
		}
	}
	return r.evaluate(lookup, frame), nil
}

func (r *Rig) evaluate(lookup map[string]*trajectory.Trajectory, frame int) Pose {
	root := r.topo.RootKeypoint()
	rootPos := lookup[root].Data[frame]
	if !trajectory.IsFinite(rootPos) {
		rootPos = r3.Vec{}
	}
	placed := map[string]r3.Vec{root: rootPos}

	pose := Pose{Frame: frame, Bones: make([]PosedBone, len(r.bones))}
	for i, b := range r.bones {
		head, ok := placed[b.HeadTrajectory]
		if !ok {
			head = r3.Add(rootPos, b.Head)
		}
		rest := b.Direction()
		dir := rest
		p, c := lookup[b.HeadTrajectory].Data[frame], lookup[b.TailTrajectory].Data[frame]
		tracked := false
		if trajectory.IsFinite(p) && trajectory.IsFinite(c) {
			if d := r3.Sub(c, p); r3.Norm(d) > 0 {
				dir = r3.Unit(d)
				tracked = true
			}
		}
		tail := r3.Add(head, r3.Scale(b.Length, dir))
		if _, done := placed[b.TailTrajectory]; !done || b.Kind == skeleton.Simple.String() {
			placed[b.TailTrajectory] = tail
		}
		pose.Bones[i] = PosedBone{
			Name:     b.Name,
			Head:     head,
			Tail:     tail,
			Rotation: Between(rest, dir),
			Tracked:  tracked,
		}
	}
	return pose
}

// Bake evaluates every frame of store. Frames are independent and are
// computed in parallel into a pre-allocated slice, so the result matches
// sequential evaluation.
func (r *Rig) Bake(store *trajectory.Store) ([]Pose, error) {
	n := store.FrameCount()
	if n == 0 {
		return nil, nil
	}
	if _, err := r.Evaluate(store, 0); err != nil {
		return nil, err
	}
	lookup := make(map[string]*trajectory.Trajectory)
	lookup[r.topo.RootKeypoint()], _ = store.Get(r.topo.RootKeypoint())
	for _, b := range r.bones {
		lookup[b.HeadTrajectory], _ = store.Get(b.HeadTrajectory)
		lookup[b.TailTrajectory], _ = store.Get(b.TailTrajectory)
	}

	workers := r.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	poses := make([]Pose, n)
	var g errgroup.Group
	g.SetLimit(workers)
	for f := 0; f < n; f++ {
		g.Go(func() error {
			poses[f] = r.evaluate(lookup, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return poses, nil
}

// Between returns the shortest-arc unit quaternion rotating unit vector a
// onto unit vector b.
func Between(a, b r3.Vec) quat.Number {
	d := r3.Dot(a, b)
	if d >= 1-1e-12 {
		return quat.Number{Real: 1}
	}
	if d <= -1+1e-12 {
		axis := r3.Cross(a, r3.Vec{X: 1})
		if r3.Norm(axis) < 1e-6 {
			axis = r3.Cross(a, r3.Vec{Y: 1})
		}
		axis = r3.Unit(axis)
		return quat.Number{Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
	}
	c := r3.Cross(a, b)
	q := quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z}
	return quat.Scale(1/quat.Abs(q), q)
}

// JointAngles returns, per bone with a parent, the angle in radians
// between the posed bone and its posed parent.
func (r *Rig) JointAngles(p Pose) map[string]float64 {
	dirs := make(map[string]r3.Vec, len(p.Bones))
	for _, b := range p.Bones {
		dirs[b.Name] = r3.Unit(r3.Sub(b.Tail, b.Head))
	}
	out := make(map[string]float64)
	for _, b := range r.bones {
		if b.Parent == "" {
			continue
		}
		cos := r3.Dot(dirs[b.Name], dirs[b.Parent])
		out[b.Name] = math.Acos(math.Max(-1, math.Min(1, cos)))
	}
	return out
}
