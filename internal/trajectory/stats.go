package trajectory

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// ComponentStats summarises one component of a store.
type ComponentStats struct {
	Component string  `json:"component"`
	Markers   int     `json:"markers"`
	Frames    int     `json:"frames"`
	NonFinite int     `json:"non_finite"`
	Centroid  r3.Vec  `json:"centroid"`
	MeanSpeed float64 `json:"mean_speed_mps"`
}

// Speeds returns the per-frame speed of t in units per second at the given
// frame rate. The first frame, and any frame whose own or previous point is
// non-finite, is NaN.
func Speeds(t *Trajectory, fps float64) []float64 {
	out := make([]float64, t.Frames())
	if len(out) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(t.Data); i++ {
		prev, cur := t.Data[i-1], t.Data[i]
		if !IsFinite(prev) || !IsFinite(cur) {
			out[i] = math.NaN()
			continue
		}
		out[i] = r3.Norm(r3.Sub(cur, prev)) * fps
	}
	return out
}

// Stats summarises every component of the store.
func (s *Store) Stats(fps float64) []ComponentStats {
	var out []ComponentStats
	for _, c := range s.Components() {
		trajs := s.Component(c)
		cs := ComponentStats{Component: c, Markers: len(trajs), Frames: s.frames}

		var xs, ys, zs, speeds []float64
		for _, t := range trajs {
			for _, p := range t.Data {
				if !IsFinite(p) {
					cs.NonFinite++
					continue
				}
				xs = append(xs, p.X)
				ys = append(ys, p.Y)
				zs = append(zs, p.Z)
			}
			for _, v := range Speeds(t, fps) {
				if !math.IsNaN(v) {
					speeds = append(speeds, v)
				}
			}
		}
		if len(xs) > 0 {
			cs.Centroid = r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
		}
		if len(speeds) > 0 {
			cs.MeanSpeed = stat.Mean(speeds, nil)
		}
		out = append(out, cs)
	}
	return out
}

// MeanPosition returns the mean of the finite points of t and how many
// frames contributed.
func MeanPosition(t *Trajectory) (r3.Vec, int) {
	var sum r3.Vec
	n := 0
	for _, p := range t.Data {
		if IsFinite(p) {
			sum = r3.Add(sum, p)
			n++
		}
	}
	if n == 0 {
		return r3.Vec{}, 0
	}
	return r3.Scale(1/float64(n), sum), n
}
