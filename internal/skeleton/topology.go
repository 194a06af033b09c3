package skeleton

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Topology is a validated tree of segments rooted at a single keypoint.
// Several segments may leave the root keypoint; each starts its own branch.
//
// The keypoint tree is formed by simple segments (parent -> child). Every
// keypoint except the root has exactly one incoming edge. Composite
// segments hang off a keypoint of that tree and adopt the segments they
// list as children; every other segment's parent is the segment that ends
// at its parent keypoint.
type Topology struct {
	root         string
	rootSegments []string

	keypoints map[string]Keypoint
	kpOrder   []string

	segments []Segment
	index    map[string]int
	parent   map[string]string
	children map[string][]string
}

// NewTopology validates keypoints and segments and links the segment tree.
func NewTopology(root string, keypoints []Keypoint, segments []Segment) (*Topology, error) {
	t := &Topology{
		root:      root,
		keypoints: make(map[string]Keypoint, len(keypoints)),
		index:     make(map[string]int, len(segments)),
		parent:    make(map[string]string, len(segments)),
		children:  make(map[string][]string, len(segments)),
	}
	for _, kp := range keypoints {
		if kp.Name == "" {
			return nil, fmt.Errorf("keypoint must have a name: %w", errkind.Configuration)
		}
		if _, dup := t.keypoints[kp.Name]; dup {
			return nil, fmt.Errorf("keypoint %q defined twice: %w", kp.Name, errkind.Configuration)
		}
		t.keypoints[kp.Name] = kp
		t.kpOrder = append(t.kpOrder, kp.Name)
	}
	if _, ok := t.keypoints[root]; !ok {
		return nil, fmt.Errorf("root keypoint %q is not defined: %w", root, errkind.Configuration)
	}

	for i, s := range segments {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.index[s.Name]; dup {
			return nil, fmt.Errorf("segment %q defined twice: %w", s.Name, errkind.Configuration)
		}
		for _, kp := range s.Keypoints() {
			if _, ok := t.keypoints[kp]; !ok {
				return nil, fmt.Errorf("segment %s references undefined keypoint %q: %w", s.Name, kp, errkind.Configuration)
			}
		}
		t.index[s.Name] = i
		t.segments = append(t.segments, s)
	}

	if err := t.checkKeypointTree(); err != nil {
		return nil, err
	}
	if err := t.linkSegments(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkKeypointTree verifies the simple-segment edges form a tree rooted at
// t.root covering every keypoint a segment starts or ends at.
func (t *Topology) checkKeypointTree() error {
	ids := make(map[string]int64, len(t.kpOrder))
	for i, name := range t.kpOrder {
		ids[name] = int64(i)
	}

	g := simple.NewDirectedGraph()
	incoming := make(map[string]string)
	for _, s := range t.segments {
		if s.Kind != Simple {
			continue
		}
		if s.Child == t.root {
			return fmt.Errorf("segment %s points into root keypoint %q: %w", s.Name, t.root, errkind.Configuration)
		}
		if prev, ok := incoming[s.Child]; ok {
			return fmt.Errorf("keypoint %q has two parents (segments %s and %s): %w", s.Child, prev, s.Name, errkind.Configuration)
		}
		incoming[s.Child] = s.Name
		g.SetEdge(simple.Edge{F: simple.Node(ids[s.Parent]), T: simple.Node(ids[s.Child])})
	}
	if _, err := topo.Sort(g); err != nil {
		var cyc topo.Unorderable
		if errors.As(err, &cyc) {
			return fmt.Errorf("keypoint graph has a cycle: %w", errkind.Configuration)
		}
		return fmt.Errorf("sorting keypoint graph: %w", err)
	}

	// Reachability from the root with an explicit queue.
	reached := map[string]bool{t.root: true}
	queue := []string{t.root}
	for len(queue) > 0 {
		kp := queue[0]
		queue = queue[1:]
		for _, s := range t.segments {
			if s.Kind == Simple && s.Parent == kp && !reached[s.Child] {
				reached[s.Child] = true
				queue = append(queue, s.Child)
			}
		}
	}
	for _, s := range t.segments {
		for _, kp := range []string{s.ParentKeypoint(), s.Child} {
			if kp != "" && !reached[kp] {
				return fmt.Errorf("segment %s: keypoint %q is not reachable from root %q: %w", s.Name, kp, t.root, errkind.Configuration)
			}
		}
	}
	return nil
}

func (t *Topology) linkSegments() error {
	endsAt := make(map[string]string)
	for _, s := range t.segments {
		if s.Kind == Simple {
			endsAt[s.Child] = s.Name
		}
	}

	listedBy := make(map[string]string)
	for _, s := range t.segments {
		if s.Kind != Composite {
			continue
		}
		for _, c := range s.Children {
			child, ok := t.Segment(c)
			if !ok {
				return fmt.Errorf("composite %s lists unknown segment %q: %w", s.Name, c, errkind.Configuration)
			}
			if c == s.Name {
				return fmt.Errorf("composite %s lists itself: %w", s.Name, errkind.Configuration)
			}
			if prev, dup := listedBy[c]; dup {
				return fmt.Errorf("segment %s is listed by composites %s and %s: %w", c, prev, s.Name, errkind.Configuration)
			}
			if child.ParentKeypoint() != s.Origin {
				return fmt.Errorf("segment %s starts at %q, not at composite %s origin %q: %w",
					c, child.ParentKeypoint(), s.Name, s.Origin, errkind.Configuration)
			}
			listedBy[c] = s.Name
		}
	}

	var roots []string
	for _, s := range t.segments {
		var parent string
		if p, ok := listedBy[s.Name]; ok {
			parent = p
		} else if p, ok := endsAt[s.ParentKeypoint()]; ok {
			parent = p
		} else if s.ParentKeypoint() == t.root {
			roots = append(roots, s.Name)
			continue
		} else {
			return fmt.Errorf("segment %s has no parent segment: %w", s.Name, errkind.Configuration)
		}
		t.parent[s.Name] = parent
		t.children[parent] = append(t.children[parent], s.Name)
	}
	if len(roots) == 0 && len(t.segments) > 0 {
		return fmt.Errorf("no segment starts at root keypoint %q: %w", t.root, errkind.Configuration)
	}
	t.rootSegments = roots

	visited := 0
	if err := t.Walk(func(Segment, string) error { visited++; return nil }); err != nil {
		return err
	}
	if visited != len(t.segments) {
		return fmt.Errorf("segment tree reaches %d of %d segments (cycle through a composite?): %w",
			visited, len(t.segments), errkind.Configuration)
	}
	return nil
}

// RootKeypoint returns the root keypoint name.
func (t *Topology) RootKeypoint() string { return t.root }

// RootSegments returns the segments leaving the root keypoint, in
// declaration order.
func (t *Topology) RootSegments() []string {
	out := make([]string, len(t.rootSegments))
	copy(out, t.rootSegments)
	return out
}

// IsRootSegment reports whether name starts at the root keypoint.
func (t *Topology) IsRootSegment(name string) bool {
	for _, r := range t.rootSegments {
		if r == name {
			return true
		}
	}
	return false
}

// Segments returns all segments in declaration order.
func (t *Topology) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Len returns the number of segments.
func (t *Topology) Len() int { return len(t.segments) }

// Segment returns the named segment.
func (t *Topology) Segment(name string) (Segment, bool) {
	i, ok := t.index[name]
	if !ok {
		return Segment{}, false
	}
	return t.segments[i], true
}

// Keypoints returns all keypoints in declaration order.
func (t *Topology) Keypoints() []Keypoint {
	out := make([]Keypoint, len(t.kpOrder))
	for i, name := range t.kpOrder {
		out[i] = t.keypoints[name]
	}
	return out
}

// Keypoint returns the named keypoint.
func (t *Topology) Keypoint(name string) (Keypoint, bool) {
	kp, ok := t.keypoints[name]
	return kp, ok
}

// ParentSegment returns the parent segment name, "" for the root.
func (t *Topology) ParentSegment(name string) string { return t.parent[name] }

// ChildSegments returns the child segment names in declaration order.
func (t *Topology) ChildSegments(name string) []string {
	out := make([]string, len(t.children[name]))
	copy(out, t.children[name])
	return out
}

// Walk visits every segment root-first with an explicit stack. Root
// segments and children are visited in declaration order. A visited set
// guards against cycles.
func (t *Topology) Walk(fn func(seg Segment, parent string) error) error {
	visited := make(map[string]bool, len(t.segments))
	stack := make([]string, 0, len(t.segments))
	for i := len(t.rootSegments) - 1; i >= 0; i-- {
		stack = append(stack, t.rootSegments[i])
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true

		seg, _ := t.Segment(name)
		if err := fn(seg, t.parent[name]); err != nil {
			return err
		}
		kids := t.children[name]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return nil
}

// Leaves returns the segments with no children, in walk order.
func (t *Topology) Leaves() []string {
	var out []string
	_ = t.Walk(func(s Segment, _ string) error {
		if len(t.children[s.Name]) == 0 {
			out = append(out, s.Name)
		}
		return nil
	})
	return out
}

// Descendants returns name and every segment below it, root-first.
func (t *Topology) Descendants(name string) []string {
	if _, ok := t.index[name]; !ok {
		return nil
	}
	var out []string
	stack := []string{name}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		kids := t.children[n]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// Prune returns a topology without the named segments and everything below
// them, plus the full list of removed segment names. Pruning every root
// segment is a Configuration error.
func (t *Topology) Prune(names ...string) (*Topology, []string, error) {
	drop := make(map[string]bool)
	var removed []string
	for _, n := range names {
		for _, d := range t.Descendants(n) {
			if !drop[d] {
				drop[d] = true
				removed = append(removed, d)
			}
		}
	}
	remaining := 0
	for _, r := range t.rootSegments {
		if !drop[r] {
			remaining++
		}
	}
	if remaining == 0 && len(t.rootSegments) > 0 {
		return nil, nil, fmt.Errorf("cannot prune every root segment %v: %w", t.rootSegments, errkind.Configuration)
	}

	var kept []Segment
	for _, s := range t.segments {
		if drop[s.Name] {
			continue
		}
		if s.Kind == Composite {
			var kids []string
			for _, c := range s.Children {
				if !drop[c] {
					kids = append(kids, c)
				}
			}
			s.Children = kids
		}
		kept = append(kept, s)
	}
	pruned, err := NewTopology(t.root, t.Keypoints(), kept)
	if err != nil {
		return nil, nil, err
	}
	return pruned, removed, nil
}
