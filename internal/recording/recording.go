// Package recording loads per-component marker arrays from a recording
// directory into a trajectory store.
package recording

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/security"
	"github.com/banshee-data/skelly.rig/internal/tracker"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// DataDir is the recording subdirectory holding the marker arrays.
const DataDir = "output_data"

// Array is a decoded C-ordered float64 array.
type Array struct {
	Shape []int
	Data  []float64
}

// Decode reads a .npy stream. Only little-endian float64 and float32
// arrays in C order are accepted.
func Decode(r io.Reader) (*Array, error) {
	rd, err := npyio.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}
	descr := rd.Header.Descr
	if descr.Fortran {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported: %w", errkind.Configuration)
	}
	shape := append([]int(nil), descr.Shape...)

	switch descr.Type {
	case "<f8":
		var data []float64
		if err := rd.Read(&data); err != nil {
			return nil, fmt.Errorf("reading npy data: %w", err)
		}
		return &Array{Shape: shape, Data: data}, nil
	case "<f4":
		var raw []float32
		if err := rd.Read(&raw); err != nil {
			return nil, fmt.Errorf("reading npy data: %w", err)
		}
		data := make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
		return &Array{Shape: shape, Data: data}, nil
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q: %w", descr.Type, errkind.Configuration)
	}
}

// Points reshapes a (frames, markers, 3) array into per-marker point
// series, dividing every coordinate by scale.
func (a *Array) Points(scale float64) ([][]r3.Vec, error) {
	if len(a.Shape) != 3 || a.Shape[2] != 3 {
		return nil, fmt.Errorf("array shape %v is not (frames, markers, 3): %w", a.Shape, errkind.Configuration)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("scale divisor must be positive, got %v: %w", scale, errkind.Configuration)
	}
	frames, markers := a.Shape[0], a.Shape[1]
	if len(a.Data) != frames*markers*3 {
		return nil, fmt.Errorf("array has %d values, shape %v needs %d: %w", len(a.Data), a.Shape, frames*markers*3, errkind.Configuration)
	}
	out := make([][]r3.Vec, markers)
	for m := range out {
		out[m] = make([]r3.Vec, frames)
	}
	for f := 0; f < frames; f++ {
		for m := 0; m < markers; m++ {
			i := (f*markers + m) * 3
			out[m][f] = r3.Vec{X: a.Data[i] / scale, Y: a.Data[i+1] / scale, Z: a.Data[i+2] / scale}
		}
	}
	return out, nil
}

// Manifest describes an array written by Encode.
type Manifest struct {
	// Shape is the written matrix shape, (frames, 3 * len(Markers)).
	Shape []int `json:"shape"`
	// Markers names the trajectories in column order; marker m occupies
	// columns 3m, 3m+1 and 3m+2 (x, y, z).
	Markers []string `json:"markers"`
	Units   string   `json:"units"`
}

// Encode writes every trajectory of s as one float64 .npy matrix with a
// row per frame, in store order. Reshaping it to (frames, markers, 3)
// gives the layout Load reads. Non-finite points are written as NaN.
func Encode(w io.Writer, s *trajectory.Store) (*Manifest, error) {
	names := s.Names()
	frames := s.FrameCount()
	if len(names) == 0 || frames == 0 {
		return nil, fmt.Errorf("nothing to encode: %d trajectories, %d frames", len(names), frames)
	}
	cols := 3 * len(names)
	data := make([]float64, frames*cols)
	for m, name := range names {
		t, _ := s.Get(name)
		for f, p := range t.Data {
			i := f*cols + 3*m
			data[i], data[i+1], data[i+2] = p.X, p.Y, p.Z
		}
	}
	if err := npyio.Write(w, mat.NewDense(frames, cols, data)); err != nil {
		return nil, fmt.Errorf("writing npy: %w", err)
	}
	return &Manifest{Shape: []int{frames, cols}, Markers: names, Units: "m"}, nil
}

// ComponentFile returns the array path of a component inside a recording.
func ComponentFile(recordingDir, source, component string) string {
	return filepath.Join(recordingDir, DataDir, fmt.Sprintf("%s_%s_3d_xyz.npy", source, component))
}

// Loader reads recordings through a FileSystem.
type Loader struct {
	FS     fsutil.FileSystem
	Mapper tracker.Mapper
	// Scale divides raw coordinates to get metres.
	Scale float64
}

// Load reads every recorded component of the recording at dir. The body
// component is required; missing hand and face components are skipped.
// All components must share a frame count.
func (l *Loader) Load(dir string) (*trajectory.Store, error) {
	store := trajectory.NewStore()
	for _, comp := range trajectory.RecordedComponents {
		path := ComponentFile(dir, l.Mapper.Source(), comp)
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, fmt.Errorf("%s component: %w", comp, err)
		}
		if !l.FS.Exists(path) {
			if comp == trajectory.ComponentBody {
				return nil, fmt.Errorf("recording %s has no body data at %s: %w", dir, path, errkind.Configuration)
			}
			monitoring.Logf("[Loader] %s: no %s component, skipping", dir, comp)
			continue
		}
		data, err := l.FS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		if err := l.addComponent(store, comp, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	monitoring.Logf("[Loader] %s: %d trajectories, %d frames", dir, store.Len(), store.FrameCount())
	return store, nil
}

func (l *Loader) addComponent(store *trajectory.Store, comp string, data []byte) error {
	arr, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	points, err := arr.Points(l.Scale)
	if err != nil {
		return err
	}
	names, err := l.Mapper.MarkerNames(comp, len(points))
	if err != nil {
		return err
	}
	if store.Len() > 0 && arr.Shape[0] != store.FrameCount() {
		return fmt.Errorf("%s has %d frames, body has %d: %w", comp, arr.Shape[0], store.FrameCount(), errkind.Configuration)
	}
	for i, name := range names {
		if err := store.Add(&trajectory.Trajectory{Name: name, Component: comp, Data: points[i]}); err != nil {
			return err
		}
	}
	return nil
}
