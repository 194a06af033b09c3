package armature

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Description is the host-facing rig document: bones with rest transforms
// and live bindings, rig-level constraints and mesh descriptors.
type Description struct {
	Name  string `json:"name"`
	State string `json:"state"`
	// RootKeypoint is the trajectory the rig-level COPY_LOCATION follows.
	RootKeypoint string       `json:"root_keypoint"`
	RootBones    []string     `json:"root_bones"`
	Bones        []Bone       `json:"bones"`
	Constraints  []Constraint `json:"constraints"`
	Meshes       []Mesh       `json:"meshes,omitempty"`
	Skipped      []string     `json:"skipped_segments,omitempty"`
	Baked        []Pose       `json:"baked,omitempty"`
}

// Describe returns a snapshot of the rig. The armature must be built.
func (r *Rig) Describe() (*Description, error) {
	if r.state < ArmatureBuilt {
		return nil, fmt.Errorf("rig %s: describe needs a built armature, rig is %s: %w", r.Name, r.state, errkind.InvalidState)
	}
	d := &Description{
		Name:         r.Name,
		State:        r.state.String(),
		RootKeypoint: r.topo.RootKeypoint(),
		Constraints:  r.Constraints(),
		Meshes:       r.Meshes(),
		Baked:        r.baked,
	}
	for _, b := range r.bones {
		cp := *b
		cp.Constraints = append([]Constraint(nil), b.Constraints...)
		d.Bones = append(d.Bones, cp)
		if b.Parent == "" {
			d.RootBones = append(d.RootBones, b.Name)
		}
	}
	if len(r.skipped) > 0 {
		d.Skipped = r.skipped.Names()
	}
	return d, nil
}

// WriteJSON writes the rig description as indented JSON.
func (r *Rig) WriteJSON(w io.Writer) error {
	d, err := r.Describe()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
