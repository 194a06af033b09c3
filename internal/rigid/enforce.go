package rigid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// Enforce moves the child keypoint of every simple segment so that its
// distance to the parent keypoint equals the rigid length, keeping the
// per-frame direction. Segments are processed root-first so each child is
// placed relative to an already corrected parent. Frames with a
// non-finite or coincident endpoint are left alone.
func Enforce(topo *skeleton.Topology, store *trajectory.Store, defs Definitions, workers int) error {
	return topo.Walk(func(seg skeleton.Segment, _ string) error {
		if seg.Kind != skeleton.Simple {
			return nil
		}
		def, ok := defs.Get(seg.Name)
		if !ok {
			return nil
		}
		parent, err := store.Lookup(def.ParentTrajectory)
		if err != nil {
			return fmt.Errorf("enforcing %s: %w", seg.Name, err)
		}
		child, err := store.Lookup(def.ChildTrajectory)
		if err != nil {
			return fmt.Errorf("enforcing %s: %w", seg.Name, err)
		}

		fixed := child.Clone()
		forFrames(fixed.Frames(), workers, func(lo, hi int) {
			for f := lo; f < hi; f++ {
				p, c := parent.Data[f], child.Data[f]
				if !trajectory.IsFinite(p) || !trajectory.IsFinite(c) {
					continue
				}
				d := r3.Sub(c, p)
				n := r3.Norm(d)
				if n == 0 {
					continue
				}
				fixed.Data[f] = r3.Add(p, r3.Scale(def.Length/n, d))
			}
		})
		return store.Replace(fixed)
	})
}
