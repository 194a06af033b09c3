package trajectory

import (
	"fmt"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Stage names recorded by the reconstruction pipeline.
const (
	StageOriginal  = "original_from_file"
	StageVirtual   = "add_virtual_trajectories"
	StageRotated   = "rotated"
	StageKeypoints = "keypoint_trajectories"
	StageRigid     = "rigid_bones"
)

// Stages keeps deep copies of stores at named milestones, in the order
// they were first marked.
type Stages struct {
	order []string
	snaps map[string]*Store
}

// NewStages creates an empty snapshot set.
func NewStages() *Stages {
	return &Stages{snaps: make(map[string]*Store)}
}

// Mark stores a deep copy of s under name. Re-marking an existing name is
// a Configuration error unless overwrite is set, in which case the stage
// keeps its original position.
func (st *Stages) Mark(name string, s *Store, overwrite bool) error {
	if name == "" {
		return fmt.Errorf("stage name must not be empty: %w", errkind.Configuration)
	}
	if _, exists := st.snaps[name]; exists {
		if !overwrite {
			return fmt.Errorf("stage %q already recorded: %w", name, errkind.Configuration)
		}
	} else {
		st.order = append(st.order, name)
	}
	st.snaps[name] = s.Clone()
	return nil
}

// Get returns the snapshot for name. The returned store is the snapshot
// itself; callers that mutate it should Clone first.
func (st *Stages) Get(name string) (*Store, bool) {
	s, ok := st.snaps[name]
	return s, ok
}

// Names returns stage names in order.
func (st *Stages) Names() []string {
	out := make([]string, len(st.order))
	copy(out, st.order)
	return out
}

// Latest returns the most recently added stage.
func (st *Stages) Latest() (string, *Store, bool) {
	if len(st.order) == 0 {
		return "", nil, false
	}
	name := st.order[len(st.order)-1]
	return name, st.snaps[name], true
}
