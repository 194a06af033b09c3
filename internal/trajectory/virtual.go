package trajectory

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
)

// VirtualMarker defines a trajectory computed as the weighted sum of
// existing trajectories. Markers and Weights are parallel lists.
type VirtualMarker struct {
	Name    string
	Markers []string
	Weights []float64
}

// Validate checks the definition in isolation. Weights must be finite and
// non-negative, and their left-to-right float64 sum must equal exactly 1.0.
func (v VirtualMarker) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("virtual marker must have a name: %w", errkind.Configuration)
	}
	if len(v.Markers) == 0 {
		return fmt.Errorf("virtual marker %q has no markers: %w", v.Name, errkind.Configuration)
	}
	if len(v.Markers) != len(v.Weights) {
		return fmt.Errorf("virtual marker %q has %d markers but %d weights: %w",
			v.Name, len(v.Markers), len(v.Weights), errkind.Configuration)
	}
	sum := 0.0
	for i, w := range v.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("virtual marker %q weight %d is not finite: %w", v.Name, i, errkind.Configuration)
		}
		if w < 0 {
			return fmt.Errorf("virtual marker %q weight %d is negative (%v): %w", v.Name, i, w, errkind.Configuration)
		}
		sum += w
	}
	if sum != 1.0 {
		return fmt.Errorf("virtual marker %q weights sum to %v, not 1: %w", v.Name, sum, errkind.Configuration)
	}
	return nil
}

// Synthesizer computes virtual marker trajectories. Frames are split
// across Workers goroutines (GOMAXPROCS when zero); each frame is summed in
// marker order so the output does not depend on the worker count.
type Synthesizer struct {
	Workers int
}

// Synthesize adds every definition to s. Definitions may reference each
// other; they are evaluated in dependency order, with declaration order
// breaking ties. Re-running with the same definitions recomputes and
// replaces the virtual trajectories, leaving the store unchanged.
func (sy Synthesizer) Synthesize(s *Store, defs []VirtualMarker) error {
	order, err := DependencyOrder(defs)
	if err != nil {
		return err
	}
	for _, i := range order {
		def := defs[i]
		if existing, ok := s.Get(def.Name); ok && existing.Component != ComponentVirtual {
			return fmt.Errorf("virtual marker %q collides with %s trajectory: %w", def.Name, existing.Component, errkind.Configuration)
		}
		traj, err := sy.compute(s, def, ComponentVirtual)
		if err != nil {
			return err
		}
		if _, ok := s.Get(def.Name); ok {
			err = s.Replace(traj)
		} else {
			err = s.Add(traj)
		}
		if err != nil {
			return err
		}
		monitoring.Logf("[Synthesizer] %s = %s", def.Name, describe(def))
	}
	return nil
}

// Derive computes every definition against src and returns them in a new
// store tagged with component. Definitions may only reference src.
func (sy Synthesizer) Derive(src *Store, defs []VirtualMarker, component string) (*Store, error) {
	out := NewStore()
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		traj, err := sy.compute(src, def, component)
		if err != nil {
			return nil, err
		}
		if err := out.Add(traj); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (sy Synthesizer) compute(src *Store, def VirtualMarker, component string) (*Trajectory, error) {
	sources := make([]*Trajectory, len(def.Markers))
	for i, name := range def.Markers {
		t, ok := src.Get(name)
		if !ok {
			return nil, fmt.Errorf("virtual marker %q references unknown trajectory %q: %w", def.Name, name, errkind.Configuration)
		}
		sources[i] = t
	}

	frames := src.FrameCount()
	data := make([]r3.Vec, frames)
	workers := sy.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (frames + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	var g errgroup.Group
	for start := 0; start < frames; start += chunk {
		lo, hi := start, min(start+chunk, frames)
		g.Go(func() error {
			for f := lo; f < hi; f++ {
				var p r3.Vec
				for k, t := range sources {
					p = r3.Add(p, r3.Scale(def.Weights[k], t.Data[f]))
				}
				data[f] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Trajectory{Name: def.Name, Component: component, Data: data}, nil
}

// DependencyOrder validates defs and returns their indices sorted so every
// definition comes after the definitions it references. Cycles and
// duplicate names are Configuration errors.
func DependencyOrder(defs []VirtualMarker) ([]int, error) {
	index := make(map[string]int, len(defs))
	for i, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		for _, m := range def.Markers {
			if m == def.Name {
				return nil, fmt.Errorf("virtual marker %q references itself: %w", def.Name, errkind.Configuration)
			}
		}
		if _, dup := index[def.Name]; dup {
			return nil, fmt.Errorf("virtual marker %q defined twice: %w", def.Name, errkind.Configuration)
		}
		index[def.Name] = i
	}

	g := simple.NewDirectedGraph()
	for i := range defs {
		g.AddNode(simple.Node(i))
	}
	for i, def := range defs {
		for _, m := range def.Markers {
			if j, ok := index[m]; ok {
				g.SetEdge(simple.Edge{F: simple.Node(j), T: simple.Node(i)})
			}
		}
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID() < nodes[b].ID() })
	})
	if err != nil {
		var cyc topo.Unorderable
		if errors.As(err, &cyc) {
			var names []string
			for _, comp := range cyc {
				for _, n := range comp {
					names = append(names, defs[n.ID()].Name)
				}
			}
			return nil, fmt.Errorf("virtual markers form a cycle %v: %w", names, errkind.Configuration)
		}
		return nil, fmt.Errorf("ordering virtual markers: %w", err)
	}

	order := make([]int, len(sorted))
	for i, n := range sorted {
		order[i] = int(n.ID())
	}
	return order, nil
}

func describe(def VirtualMarker) string {
	s := ""
	for i, m := range def.Markers {
		if i > 0 {
			s += " + "
		}
		s += fmt.Sprintf("%g*%s", def.Weights[i], m)
	}
	return s
}
