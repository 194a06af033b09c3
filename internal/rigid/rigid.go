// Package rigid reduces noisy per-frame marker distances to one length per
// skeleton segment and can rewrite trajectories to honour those lengths.
package rigid

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// Definition is the rigid body assumption for one segment.
type Definition struct {
	Segment          string  `json:"segment"`
	Length           float64 `json:"length"`
	ParentTrajectory string  `json:"parent"`
	ChildTrajectory  string  `json:"child"`

	// StdDev is the spread of the per-frame distances around Length.
	StdDev      float64 `json:"std_dev"`
	ValidFrames int     `json:"valid_frames"`
	// Direction is the mean unit vector from parent to child.
	Direction r3.Vec `json:"direction"`
}

// Definitions is an ordered set of segment definitions.
type Definitions []Definition

// Get returns the definition for segment.
func (d Definitions) Get(segment string) (Definition, bool) {
	for _, def := range d {
		if def.Segment == segment {
			return def, true
		}
	}
	return Definition{}, false
}

// Names returns the segment names in order.
func (d Definitions) Names() []string {
	out := make([]string, len(d))
	for i, def := range d {
		out[i] = def.Segment
	}
	return out
}

// forFrames splits [0, n) into contiguous chunks run on separate
// goroutines. Each chunk writes only its own indices.
func forFrames(n, workers int, fn func(lo, hi int)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := max((n+workers-1)/workers, 1)
	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// Distances returns the per-frame distance between parent and child. Frames
// where either point is non-finite are NaN.
func Distances(parent, child *trajectory.Trajectory, workers int) []float64 {
	n := min(parent.Frames(), child.Frames())
	out := make([]float64, n)
	forFrames(n, workers, func(lo, hi int) {
		for f := lo; f < hi; f++ {
			p, c := parent.Data[f], child.Data[f]
			if !trajectory.IsFinite(p) || !trajectory.IsFinite(c) {
				out[f] = math.NaN()
				continue
			}
			out[f] = r3.Norm(r3.Sub(c, p))
		}
	})
	return out
}

// Compute reduces the distances between parent and child to a Definition.
// It fails with InsufficientData when no frame has both points finite or
// the mean distance is zero.
func Compute(segment string, parent, child *trajectory.Trajectory, workers int) (Definition, error) {
	dists := Distances(parent, child, workers)
	valid := make([]float64, 0, len(dists))
	var dir r3.Vec
	for f, d := range dists {
		if math.IsNaN(d) {
			continue
		}
		valid = append(valid, d)
		if d > 0 {
			dir = r3.Add(dir, r3.Scale(1/d, r3.Sub(child.Data[f], parent.Data[f])))
		}
	}
	if len(valid) == 0 {
		return Definition{}, fmt.Errorf("segment %s: no frame with finite %s and %s: %w",
			segment, parent.Name, child.Name, errkind.InsufficientData)
	}

	def := Definition{
		Segment:          segment,
		ParentTrajectory: parent.Name,
		ChildTrajectory:  child.Name,
		ValidFrames:      len(valid),
	}
	if len(valid) > 1 {
		def.Length, def.StdDev = stat.MeanStdDev(valid, nil)
	} else {
		def.Length = valid[0]
	}
	if def.Length <= 0 {
		return Definition{}, fmt.Errorf("segment %s: %s and %s coincide: %w",
			segment, parent.Name, child.Name, errkind.InsufficientData)
	}
	if n := r3.Norm(dir); n > 0 {
		def.Direction = r3.Scale(1/n, dir)
	} else {
		def.Direction = r3.Vec{Z: 1}
	}
	return def, nil
}

// Result is the output of Calculator.Calculate.
type Result struct {
	// Topology is the input topology with skipped segments and their
	// descendants pruned.
	Topology    *skeleton.Topology
	Definitions Definitions
	// Skipped lists every segment dropped under the skip policy,
	// including descendants of a segment that had no data.
	Skipped errkind.SkippedSegments
}

// Calculator computes rigid definitions for a whole topology.
type Calculator struct {
	Workers int
	// SkipInsufficient drops segments without valid frames instead of
	// failing the calculation.
	SkipInsufficient bool
	// KeepSymmetry gives left/right pairs their mean length.
	KeepSymmetry bool
}

// Calculate computes a Definition for every segment of topo from the
// keypoint trajectories in store, in walk order.
func (c Calculator) Calculate(topo *skeleton.Topology, store *trajectory.Store) (*Result, error) {
	var defs Definitions
	var skipped errkind.SkippedSegments

	err := topo.Walk(func(seg skeleton.Segment, _ string) error {
		parent, err := store.Lookup(seg.ParentKeypoint())
		if err != nil {
			return fmt.Errorf("segment %s: %w", seg.Name, err)
		}
		child, err := store.Lookup(seg.TargetKeypoint())
		if err != nil {
			return fmt.Errorf("segment %s: %w", seg.Name, err)
		}
		def, err := Compute(seg.Name, parent, child, c.Workers)
		if err != nil {
			if c.SkipInsufficient && errors.Is(err, errkind.InsufficientData) {
				skipped = append(skipped, errkind.SkippedSegment{Segment: seg.Name, Err: err})
				return nil
			}
			return err
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Topology: topo, Definitions: defs}
	if len(skipped) > 0 {
		pruned, removed, err := topo.Prune(skipped.Names()...)
		if err != nil {
			return nil, fmt.Errorf("pruning skipped segments: %w", err)
		}
		res.Topology = pruned
		res.Skipped = skipped
		direct := make(map[string]bool, len(skipped))
		for _, s := range skipped {
			direct[s.Segment] = true
		}
		for _, name := range removed {
			if !direct[name] {
				res.Skipped = append(res.Skipped, errkind.SkippedSegment{
					Segment: name,
					Err:     fmt.Errorf("segment %s: ancestor skipped: %w", name, errkind.InsufficientData),
				})
			}
		}
		var kept Definitions
		for _, d := range defs {
			if _, ok := pruned.Segment(d.Segment); ok {
				kept = append(kept, d)
			}
		}
		res.Definitions = kept
		monitoring.Logf("[Rigid] %v", res.Skipped)
	}

	if c.KeepSymmetry {
		res.Definitions = Symmetrize(res.Definitions)
	}
	for _, d := range res.Definitions {
		monitoring.Logf("[Rigid] %s: %.4f m (sd %.4f, %d frames)", d.Segment, d.Length, d.StdDev, d.ValidFrames)
	}
	return res, nil
}

// Symmetrize replaces the length of every left/right pair with the mean of
// the two. Unpaired and axial segments are unchanged.
func Symmetrize(defs Definitions) Definitions {
	out := make(Definitions, len(defs))
	copy(out, defs)
	for i, d := range out {
		other, ok := defs.Get(skeleton.Mirror(d.Segment))
		if !ok {
			continue
		}
		orig, _ := defs.Get(d.Segment)
		out[i].Length = (orig.Length + other.Length) / 2
	}
	return out
}
