package testutil

import (
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/fsutil"
)

// bodyPose is a standing T-pose in metres, Z up, facing -Y, with the
// subject's left on +X. Right side markers are mirrored in X.
var bodyPose = map[string]r3.Vec{
	"nose":            {X: 0, Y: -0.10, Z: 1.68},
	"left_eye_inner":  {X: 0.015, Y: -0.08, Z: 1.72},
	"left_eye":        {X: 0.03, Y: -0.08, Z: 1.72},
	"left_eye_outer":  {X: 0.045, Y: -0.075, Z: 1.72},
	"left_ear":        {X: 0.08, Y: 0, Z: 1.70},
	"mouth_left":      {X: 0.025, Y: -0.09, Z: 1.62},
	"left_shoulder":   {X: 0.20, Y: 0, Z: 1.50},
	"left_elbow":      {X: 0.48, Y: 0, Z: 1.50},
	"left_wrist":      {X: 0.74, Y: 0, Z: 1.50},
	"left_pinky":      {X: 0.81, Y: 0.02, Z: 1.50},
	"left_index":      {X: 0.82, Y: 0, Z: 1.50},
	"left_thumb":      {X: 0.78, Y: -0.03, Z: 1.50},
	"left_hip":        {X: 0.10, Y: 0, Z: 1.00},
	"left_knee":       {X: 0.10, Y: 0, Z: 0.55},
	"left_ankle":      {X: 0.10, Y: 0, Z: 0.10},
	"left_heel":       {X: 0.10, Y: 0.05, Z: 0.05},
	"left_foot_index": {X: 0.10, Y: -0.15, Z: 0.02},
}

// handPose is the left hand; the right hand is mirrored in X.
var handPose = map[string]r3.Vec{
	"wrist":             {X: 0.74, Y: 0, Z: 1.50},
	"thumb_cmc":         {X: 0.76, Y: -0.02, Z: 1.50},
	"thumb_mcp":         {X: 0.79, Y: -0.04, Z: 1.50},
	"thumb_ip":          {X: 0.81, Y: -0.05, Z: 1.50},
	"thumb_tip":         {X: 0.83, Y: -0.06, Z: 1.50},
	"index_finger_mcp":  {X: 0.83, Y: -0.02, Z: 1.50},
	"index_finger_pip":  {X: 0.87, Y: -0.02, Z: 1.50},
	"index_finger_dip":  {X: 0.89, Y: -0.02, Z: 1.50},
	"index_finger_tip":  {X: 0.91, Y: -0.02, Z: 1.50},
	"middle_finger_mcp": {X: 0.83, Y: 0, Z: 1.50},
	"middle_finger_pip": {X: 0.88, Y: 0, Z: 1.50},
	"middle_finger_dip": {X: 0.91, Y: 0, Z: 1.50},
	"middle_finger_tip": {X: 0.93, Y: 0, Z: 1.50},
	"ring_finger_mcp":   {X: 0.825, Y: 0.02, Z: 1.50},
	"ring_finger_pip":   {X: 0.865, Y: 0.02, Z: 1.50},
	"ring_finger_dip":   {X: 0.895, Y: 0.02, Z: 1.50},
	"ring_finger_tip":   {X: 0.915, Y: 0.02, Z: 1.50},
	"pinky_mcp":         {X: 0.815, Y: 0.04, Z: 1.50},
	"pinky_pip":         {X: 0.845, Y: 0.04, Z: 1.50},
	"pinky_dip":         {X: 0.865, Y: 0.04, Z: 1.50},
	"pinky_tip":         {X: 0.88, Y: 0.04, Z: 1.50},
}

// BodyPosePoint returns the rest position of a MediaPipe body landmark in
// metres.
func BodyPosePoint(name string) (r3.Vec, bool) {
	if p, ok := bodyPose[name]; ok {
		return p, true
	}
	if mirrored, ok := mirrorName(name); ok {
		if p, ok := bodyPose[mirrored]; ok {
			return r3.Vec{X: -p.X, Y: p.Y, Z: p.Z}, true
		}
	}
	return r3.Vec{}, false
}

// HandPosePoint returns the rest position of a MediaPipe hand landmark of
// the given side ("left" or "right") in metres.
func HandPosePoint(side, name string) (r3.Vec, bool) {
	p, ok := handPose[name]
	if !ok {
		return r3.Vec{}, false
	}
	if side == "right" {
		p.X = -p.X
	}
	return p, true
}

func mirrorName(name string) (string, bool) {
	switch {
	case len(name) > 6 && name[:6] == "right_":
		return "left_" + name[6:], true
	case name == "mouth_right":
		return "mouth_left", true
	}
	return "", false
}

// Synthetic describes a generated recording.
type Synthetic struct {
	Frames int
	// Markers names the body landmarks in array order; hand arrays use
	// HandMarkers.
	Markers     []string
	HandMarkers []string
	// Unit multiplies metre positions before encoding, e.g. 1000 for mm.
	Unit float64
	// Step translates the whole body by this vector every frame.
	Step r3.Vec
	// Jitter adds deterministic per-frame noise of this amplitude (metres).
	Jitter float64
	// Hands and Face toggle the optional components.
	Hands bool
	Face  bool
	// Missing lists frames where every marker is NaN.
	Missing []int
}

func (s Synthetic) missing(f int) bool {
	for _, m := range s.Missing {
		if m == f {
			return true
		}
	}
	return false
}

func (s Synthetic) array(markers int, pos func(m int) r3.Vec) []float64 {
	unit := s.Unit
	if unit == 0 {
		unit = 1
	}
	data := make([]float64, 0, s.Frames*markers*3)
	for f := 0; f < s.Frames; f++ {
		off := r3.Scale(float64(f), s.Step)
		for m := 0; m < markers; m++ {
			if s.missing(f) {
				data = append(data, math.NaN(), math.NaN(), math.NaN())
				continue
			}
			p := r3.Add(pos(m), off)
			if s.Jitter > 0 {
				k := float64(f*markers + m)
				p = r3.Add(p, r3.Vec{
					X: s.Jitter * math.Sin(1.3*k),
					Y: s.Jitter * math.Sin(2.1*k+0.5),
					Z: s.Jitter * math.Sin(0.7*k+1.1),
				})
			}
			data = append(data, p.X*unit, p.Y*unit, p.Z*unit)
		}
	}
	return data
}

// Write encodes the recording into fs under dir/output_data using the
// <source>_<component>_3d_xyz.npy naming.
func (s Synthetic) Write(fs fsutil.FileSystem, dir, source string) error {
	out := filepath.Join(dir, "output_data")
	if err := fs.MkdirAll(out, 0o755); err != nil {
		return err
	}
	path := func(comp string) string { return filepath.Join(out, source+"_"+comp+"_3d_xyz.npy") }

	body := s.array(len(s.Markers), func(m int) r3.Vec {
		p, _ := BodyPosePoint(s.Markers[m])
		return p
	})
	if err := fs.WriteFile(path("body"), EncodeNPY([]int{s.Frames, len(s.Markers), 3}, body), 0o644); err != nil {
		return err
	}

	if s.Hands {
		for _, side := range []string{"left", "right"} {
			hand := s.array(len(s.HandMarkers), func(m int) r3.Vec {
				p, _ := HandPosePoint(side, s.HandMarkers[m])
				return p
			})
			if err := fs.WriteFile(path(side+"_hand"), EncodeNPY([]int{s.Frames, len(s.HandMarkers), 3}, hand), 0o644); err != nil {
				return err
			}
		}
	}

	if s.Face {
		const faceMarkers = 5
		face := s.array(faceMarkers, func(m int) r3.Vec {
			return r3.Vec{X: 0.01 * float64(m-2), Y: -0.09, Z: 1.66}
		})
		if err := fs.WriteFile(path("face"), EncodeNPY([]int{s.Frames, faceMarkers, 3}, face), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
