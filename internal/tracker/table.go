package tracker

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// ComponentTable is the mapping for one recording component.
type ComponentTable struct {
	// Markers names the recorded markers in array order. Empty means the
	// component accepts any marker count and names them <prefix><index>.
	Markers []string `json:"markers,omitempty"`
	// Prefix is prepended to every marker name, keeping hand markers
	// distinct from body markers of the same landmark.
	Prefix string `json:"prefix,omitempty"`
	// Keypoints maps canonical keypoint names to markers.
	Keypoints map[string]WeightedMarkers `json:"keypoints,omitempty"`
}

// Table is a Mapper backed by static tables. MediaPipe is one; others can
// be loaded from JSON.
type Table struct {
	Name       string                     `json:"source"`
	Tables     map[string]ComponentTable  `json:"components"`
	Virtual    []trajectory.VirtualMarker `json:"-"`
	VirtualMap map[string]WeightedMarkers `json:"virtual_markers,omitempty"`
	Unmapped   []string                   `json:"unmapped_components,omitempty"`
}

var _ Mapper = (*Table)(nil)

func (t *Table) Source() string { return t.Name }

// Components returns the mapped components in sorted order.
func (t *Table) Components() []string {
	out := make([]string, 0, len(t.Tables))
	for c := range t.Tables {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// MarkerNames names the markers of component. Components listed as
// unmapped still get names so their trajectories can be loaded.
func (t *Table) MarkerNames(component string, n int) ([]string, error) {
	ct, ok := t.Tables[component]
	if !ok {
		if !t.isUnmapped(component) {
			return nil, fmt.Errorf("%s has no %s component: %w", t.Name, component, errkind.UnsupportedComponent)
		}
		ct = ComponentTable{Prefix: component + "_"}
	}
	if len(ct.Markers) == 0 {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s%d", ct.Prefix, i)
		}
		return out, nil
	}
	if n != len(ct.Markers) {
		return nil, fmt.Errorf("%s %s has %d markers, recording has %d: %w",
			t.Name, component, len(ct.Markers), n, errkind.Configuration)
	}
	out := make([]string, n)
	for i, m := range ct.Markers {
		out[i] = ct.Prefix + m
	}
	return out, nil
}

// VirtualMarkers returns the marker-level virtual definitions.
func (t *Table) VirtualMarkers() []trajectory.VirtualMarker {
	out := make([]trajectory.VirtualMarker, len(t.Virtual))
	copy(out, t.Virtual)
	return out
}

// Resolve maps keypoint within component. A component without a table
// fails with both UnsupportedComponent and MissingMapping.
func (t *Table) Resolve(component, keypoint string) (WeightedMarkers, error) {
	ct, ok := t.Tables[component]
	if !ok {
		return nil, fmt.Errorf("%s cannot resolve %s in component %s: %w: %w",
			t.Name, keypoint, component, errkind.UnsupportedComponent, errkind.MissingMapping)
	}
	wm, ok := ct.Keypoints[keypoint]
	if !ok || len(wm) == 0 {
		return nil, fmt.Errorf("%s %s has no entry for keypoint %s: %w", t.Name, component, keypoint, errkind.MissingMapping)
	}
	out := make(WeightedMarkers, len(wm))
	for i, mw := range wm {
		out[i] = MarkerWeight{Marker: t.markerName(component, ct, mw.Marker), Weight: mw.Weight}
	}
	return out, nil
}

// markerName prefixes raw landmark names; virtual marker names pass through.
func (t *Table) markerName(component string, ct ComponentTable, m string) string {
	for _, v := range t.Virtual {
		if v.Name == m {
			return m
		}
	}
	return ct.Prefix + m
}

func (t *Table) isUnmapped(component string) bool {
	for _, c := range t.Unmapped {
		if c == component {
			return true
		}
	}
	return false
}

// Validate checks every keypoint and virtual entry has weights summing to
// exactly 1 and that virtual markers reference only known markers.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tracker table must have a source name: %w", errkind.Configuration)
	}
	known := make(map[string]bool)
	for _, ct := range t.Tables {
		for _, m := range ct.Markers {
			known[ct.Prefix+m] = true
		}
	}
	if _, err := trajectory.DependencyOrder(t.Virtual); err != nil {
		return fmt.Errorf("%s virtual markers: %w", t.Name, err)
	}
	for _, v := range t.Virtual {
		known[v.Name] = true
	}
	for _, v := range t.Virtual {
		for _, m := range v.Markers {
			if !known[m] {
				return fmt.Errorf("%s virtual marker %s references unknown marker %q: %w", t.Name, v.Name, m, errkind.Configuration)
			}
		}
	}
	for _, c := range t.Components() {
		ct := t.Tables[c]
		kps := make([]string, 0, len(ct.Keypoints))
		for kp := range ct.Keypoints {
			kps = append(kps, kp)
		}
		sort.Strings(kps)
		for _, kp := range kps {
			wm, err := t.Resolve(c, kp)
			if err != nil {
				return err
			}
			if err := wm.AsVirtual(kp).Validate(); err != nil {
				return fmt.Errorf("%s %s: %w", t.Name, c, err)
			}
			if len(ct.Markers) == 0 {
				continue
			}
			for _, m := range wm.Markers() {
				if !known[m] {
					return fmt.Errorf("%s %s keypoint %s references unknown marker %q: %w", t.Name, c, kp, m, errkind.Configuration)
				}
			}
		}
	}
	return nil
}

// maxTableSize bounds tracker table files.
const maxTableSize = 1 * 1024 * 1024

// LoadTable reads a tracker table from a JSON file under 1MB.
func LoadTable(fsys fsutil.FileSystem, path string) (*Table, error) {
	path = filepath.Clean(path)
	if filepath.Ext(path) != ".json" {
		return nil, fmt.Errorf("tracker table must be a .json file: %s: %w", path, errkind.Configuration)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tracker table: %v: %w", err, errkind.Configuration)
	}
	if info.Size() > maxTableSize {
		return nil, fmt.Errorf("tracker table too large: %d bytes (max %d): %w", info.Size(), maxTableSize, errkind.Configuration)
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker table: %w", err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable decodes and validates a tracker table.
func ParseTable(r io.Reader) (*Table, error) {
	var t Table
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse tracker table: %v: %w", err, errkind.Configuration)
	}
	names := make([]string, 0, len(t.VirtualMap))
	for n := range t.VirtualMap {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t.Virtual = append(t.Virtual, t.VirtualMap[n].AsVirtual(n))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
