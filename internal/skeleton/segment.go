// Package skeleton models the humanoid skeleton as a tree of segments over
// named keypoints, independent of any tracker or host application.
package skeleton

import (
	"fmt"
	"strings"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Keypoint is a named anatomical location. Component names the recording
// component whose markers it is resolved from.
type Keypoint struct {
	Name       string
	Component  string
	Definition string
}

// SegmentKind tags the Segment variant.
type SegmentKind int

const (
	// Simple segments join exactly one parent keypoint to one child keypoint.
	Simple SegmentKind = iota
	// Composite segments group child segments around an origin keypoint and
	// are oriented by up to three reference keypoints.
	Composite
)

func (k SegmentKind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Composite:
		return "composite"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// References orients a composite segment. Empty fields are unset.
type References struct {
	Up      string
	Forward string
	Left    string
}

func (r References) count() int {
	n := 0
	for _, s := range []string{r.Up, r.Forward, r.Left} {
		if s != "" {
			n++
		}
	}
	return n
}

// Primary returns the reference the segment points at: Up, else Forward,
// else Left.
func (r References) Primary() string {
	switch {
	case r.Up != "":
		return r.Up
	case r.Forward != "":
		return r.Forward
	default:
		return r.Left
	}
}

// Segment is a rigid body part. Only the fields of its Kind are meaningful.
type Segment struct {
	Name string
	Kind SegmentKind

	// Simple
	Parent string
	Child  string

	// Composite
	Origin     string
	Children   []string
	References References
}

// NewSimple returns a validated simple segment.
func NewSimple(name, parent, child string) (Segment, error) {
	s := Segment{Name: name, Kind: Simple, Parent: parent, Child: child}
	return s, s.Validate()
}

// NewComposite returns a validated composite segment.
func NewComposite(name, origin string, children []string, refs References) (Segment, error) {
	s := Segment{Name: name, Kind: Composite, Origin: origin, Children: children, References: refs}
	return s, s.Validate()
}

// Validate checks the per-variant invariants.
func (s Segment) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("segment must have a name: %w", errkind.Configuration)
	}
	switch s.Kind {
	case Simple:
		if s.Parent == "" || s.Child == "" {
			return fmt.Errorf("segment %s: parent and child keypoints are required: %w", s.Name, errkind.Configuration)
		}
		if s.Parent == s.Child {
			return fmt.Errorf("segment %s: parent and child are both %q: %w", s.Name, s.Parent, errkind.Configuration)
		}
	case Composite:
		if s.Origin == "" {
			return fmt.Errorf("segment %s: composite origin is required: %w", s.Name, errkind.Configuration)
		}
		if s.References.count() < 2 {
			return fmt.Errorf("segment %s: composite needs at least two orientation references: %w", s.Name, errkind.Configuration)
		}
	default:
		return fmt.Errorf("segment %s: unknown kind %v: %w", s.Name, s.Kind, errkind.Configuration)
	}
	return nil
}

// ParentKeypoint is where the segment starts: the parent keypoint of a
// simple segment or the origin of a composite.
func (s Segment) ParentKeypoint() string {
	switch s.Kind {
	case Composite:
		return s.Origin
	default:
		return s.Parent
	}
}

// TargetKeypoint is the keypoint the segment points at: the child of a
// simple segment or the primary reference of a composite.
func (s Segment) TargetKeypoint() string {
	switch s.Kind {
	case Composite:
		return s.References.Primary()
	default:
		return s.Child
	}
}

// Keypoints returns every keypoint the segment mentions.
func (s Segment) Keypoints() []string {
	switch s.Kind {
	case Composite:
		out := []string{s.Origin}
		for _, r := range []string{s.References.Up, s.References.Forward, s.References.Left} {
			if r != "" {
				out = append(out, r)
			}
		}
		return out
	default:
		return []string{s.Parent, s.Child}
	}
}

// Side classifies a body part for colouring and symmetry.
type Side int

const (
	Axial Side = iota
	Left
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "axial"
	}
}

// SideOf derives the side from a name suffix: "_l" or ".L" is left, "_r"
// or ".R" is right, anything else is axial.
func SideOf(name string) Side {
	switch {
	case strings.HasSuffix(name, "_l"), strings.HasSuffix(name, ".L"):
		return Left
	case strings.HasSuffix(name, "_r"), strings.HasSuffix(name, ".R"):
		return Right
	default:
		return Axial
	}
}

// Mirror returns the name of the opposite-side counterpart, or "" for
// axial names.
func Mirror(name string) string {
	for _, pair := range [][2]string{{"_l", "_r"}, {".L", ".R"}} {
		if base, ok := strings.CutSuffix(name, pair[0]); ok {
			return base + pair[1]
		}
		if base, ok := strings.CutSuffix(name, pair[1]); ok {
			return base + pair[0]
		}
	}
	return ""
}
