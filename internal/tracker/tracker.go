// Package tracker maps a motion tracker's native marker names onto the
// canonical skeleton keypoints.
//
// Every tracker source implements Mapper. Resolution is a table lookup
// plus validation; the weighted sums themselves are computed by
// trajectory.Synthesizer from the definitions returned by Definitions.
package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// MarkerWeight is one term of a weighted marker combination.
type MarkerWeight struct {
	Marker string  `json:"marker"`
	Weight float64 `json:"weight"`
}

// WeightedMarkers is an ordered weighted combination of source markers.
// Order is preserved so that float sums are reproducible.
type WeightedMarkers []MarkerWeight

// Single maps a keypoint to one marker with weight 1.
func Single(marker string) WeightedMarkers {
	return WeightedMarkers{{Marker: marker, Weight: 1}}
}

// Equal splits the weight evenly across markers. The last weight absorbs
// the rounding so that the weights sum to exactly 1.
func Equal(markers ...string) WeightedMarkers {
	out := make(WeightedMarkers, len(markers))
	if len(markers) == 0 {
		return out
	}
	w := 1 / float64(len(markers))
	sum := 0.0
	for i, m := range markers {
		out[i] = MarkerWeight{Marker: m, Weight: w}
		if i < len(markers)-1 {
			sum += w
		}
	}
	out[len(out)-1].Weight = 1 - sum
	return out
}

// Markers returns the marker names in order.
func (w WeightedMarkers) Markers() []string {
	out := make([]string, len(w))
	for i, mw := range w {
		out[i] = mw.Marker
	}
	return out
}

// Weights returns the weights in order.
func (w WeightedMarkers) Weights() []float64 {
	out := make([]float64, len(w))
	for i, mw := range w {
		out[i] = mw.Weight
	}
	return out
}

// AsVirtual turns the combination into a virtual marker definition.
func (w WeightedMarkers) AsVirtual(name string) trajectory.VirtualMarker {
	return trajectory.VirtualMarker{Name: name, Markers: w.Markers(), Weights: w.Weights()}
}

// UnmarshalJSON accepts a marker name, a list of marker names (equal
// weights) or an object of marker → weight. Object key order is kept.
func (w *WeightedMarkers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty mapping entry: %w", errkind.Configuration)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = Single(s)
		return nil
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*w = Equal(list...)
		return nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		if _, err := dec.Token(); err != nil {
			return err
		}
		var out WeightedMarkers
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := tok.(string)
			var weight float64
			if err := dec.Decode(&weight); err != nil {
				return fmt.Errorf("weight for %q: %w", key, err)
			}
			out = append(out, MarkerWeight{Marker: key, Weight: weight})
		}
		*w = out
		return nil
	default:
		return fmt.Errorf("mapping entry must be a string, list or object: %w", errkind.Configuration)
	}
}

// MarshalJSON writes a single unit-weight marker as a string and anything
// else as an ordered object.
func (w WeightedMarkers) MarshalJSON() ([]byte, error) {
	if len(w) == 1 && w[0].Weight == 1 {
		return json.Marshal(w[0].Marker)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, mw := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(mw.Marker)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(mw.Weight)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Mapper resolves canonical keypoints to a tracker's markers.
type Mapper interface {
	// Source names the tracker, e.g. "mediapipe".
	Source() string
	// Components lists the recording components with a registered mapping.
	Components() []string
	// MarkerNames names the n markers of a recorded component in array
	// order.
	MarkerNames(component string, n int) ([]string, error)
	// VirtualMarkers returns marker-level combinations synthesised into the
	// recording before keypoints are resolved.
	VirtualMarkers() []trajectory.VirtualMarker
	// Resolve maps a keypoint of the given component to weighted markers.
	Resolve(component, keypoint string) (WeightedMarkers, error)
}

// Definitions resolves every keypoint the topology uses into a virtual
// marker definition named after the keypoint. Resolution stops at the
// first failure so no geometry is built from a partial mapping.
func Definitions(m Mapper, topo *skeleton.Topology) ([]trajectory.VirtualMarker, error) {
	used := make(map[string]bool)
	for _, seg := range topo.Segments() {
		for _, kp := range seg.Keypoints() {
			used[kp] = true
		}
	}

	var defs []trajectory.VirtualMarker
	for _, kp := range topo.Keypoints() {
		if !used[kp.Name] {
			continue
		}
		wm, err := m.Resolve(kp.Component, kp.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Source(), err)
		}
		def := wm.AsVirtual(kp.Name)
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s keypoint %s: %w", m.Source(), kp.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
