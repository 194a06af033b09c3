package trajectory

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Recording components. Body, hands and face are loaded from file; virtual
// and keypoint trajectories are derived.
const (
	ComponentBody      = "body"
	ComponentLeftHand  = "left_hand"
	ComponentRightHand = "right_hand"
	ComponentFace      = "face"
	ComponentVirtual   = "virtual"
	ComponentKeypoint  = "keypoint"
)

// RecordedComponents lists the components a recording may carry, in load
// order.
var RecordedComponents = []string{ComponentBody, ComponentRightHand, ComponentLeftHand, ComponentFace}

// Trajectory is a named sequence of 3D points, one per frame.
type Trajectory struct {
	Name      string
	Component string
	Data      []r3.Vec
}

// Frames returns the number of frames in the trajectory.
func (t *Trajectory) Frames() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Trajectory) Clone() *Trajectory {
	data := make([]r3.Vec, len(t.Data))
	copy(data, t.Data)
	return &Trajectory{Name: t.Name, Component: t.Component, Data: data}
}

// IsFinite reports whether all three components of v are finite.
func IsFinite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// Store is an ordered collection of uniquely named trajectories with a
// shared frame count. It is not safe for concurrent mutation.
type Store struct {
	order  []string
	byName map[string]*Trajectory
	frames int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Trajectory)}
}

// Add registers a new trajectory. The name must be unused and the frame
// count must match trajectories already in the store.
func (s *Store) Add(t *Trajectory) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("trajectory must have a name: %w", errkind.Configuration)
	}
	if _, exists := s.byName[t.Name]; exists {
		return fmt.Errorf("trajectory %q already exists: %w", t.Name, errkind.Configuration)
	}
	if len(s.order) > 0 && t.Frames() != s.frames {
		return fmt.Errorf("trajectory %q has %d frames, store has %d: %w", t.Name, t.Frames(), s.frames, errkind.Configuration)
	}
	if len(s.order) == 0 {
		s.frames = t.Frames()
	}
	s.order = append(s.order, t.Name)
	s.byName[t.Name] = t
	return nil
}

// Replace swaps the data of an existing trajectory, keeping its position.
func (s *Store) Replace(t *Trajectory) error {
	if _, exists := s.byName[t.Name]; !exists {
		return fmt.Errorf("trajectory %q does not exist: %w", t.Name, errkind.Configuration)
	}
	if t.Frames() != s.frames {
		return fmt.Errorf("trajectory %q has %d frames, store has %d: %w", t.Name, t.Frames(), s.frames, errkind.Configuration)
	}
	s.byName[t.Name] = t
	return nil
}

// Get returns the named trajectory.
func (s *Store) Get(name string) (*Trajectory, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Lookup returns the named trajectory or a Configuration error.
func (s *Store) Lookup(name string) (*Trajectory, error) {
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown trajectory %q: %w", name, errkind.Configuration)
	}
	return t, nil
}

// Names returns trajectory names in insertion order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of trajectories.
func (s *Store) Len() int { return len(s.order) }

// FrameCount returns the shared frame count, 0 for an empty store.
func (s *Store) FrameCount() int { return s.frames }

// Components returns the distinct component names in first-seen order.
func (s *Store) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range s.order {
		c := s.byName[name].Component
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Component returns the trajectories belonging to component c in order.
func (s *Store) Component(c string) []*Trajectory {
	var out []*Trajectory
	for _, name := range s.order {
		if t := s.byName[name]; t.Component == c {
			out = append(out, t)
		}
	}
	return out
}

// Each calls fn for every trajectory in order.
func (s *Store) Each(fn func(t *Trajectory)) {
	for _, name := range s.order {
		fn(s.byName[name])
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	c := &Store{
		order:  make([]string, len(s.order)),
		byName: make(map[string]*Trajectory, len(s.byName)),
		frames: s.frames,
	}
	copy(c.order, s.order)
	for name, t := range s.byName {
		c.byName[name] = t.Clone()
	}
	return c
}

// Frame returns the position of every trajectory at frame f keyed by name.
func (s *Store) Frame(f int) map[string]r3.Vec {
	out := make(map[string]r3.Vec, len(s.order))
	if f < 0 || f >= s.frames {
		return out
	}
	for name, t := range s.byName {
		out[name] = t.Data[f]
	}
	return out
}
