// Package testutil provides shared fixtures for pipeline tests: synthetic
// MediaPipe recordings, .npy encoding and small assertion helpers.
package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test if got differs from want by more than tol
// in any coordinate.
func AssertVecNear(t testing.TB, want, got r3.Vec, tol float64) {
	t.Helper()
	if math.Abs(want.X-got.X) > tol || math.Abs(want.Y-got.Y) > tol || math.Abs(want.Z-got.Z) > tol {
		t.Errorf("vector = %+v, want %+v (tol %g)", got, want, tol)
	}
}

// EncodeNPY encodes a little-endian float64 C-ordered array in .npy v1.0
// format.
func EncodeNPY(shape []int, data []float64) []byte {
	return encodeNPY("<f8", shape, func(buf *bytes.Buffer) {
		_ = binary.Write(buf, binary.LittleEndian, data)
	})
}

// EncodeNPY32 is EncodeNPY for float32 data.
func EncodeNPY32(shape []int, data []float64) []byte {
	raw := make([]float32, len(data))
	for i, v := range data {
		raw[i] = float32(v)
	}
	return encodeNPY("<f4", shape, func(buf *bytes.Buffer) {
		_ = binary.Write(buf, binary.LittleEndian, raw)
	})
}

func encodeNPY(descr string, shape []int, body func(*bytes.Buffer)) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	// magic(6) + version(2) + header length(2) + header, padded with
	// spaces and a trailing newline to a multiple of 64 bytes.
	const preamble = 10
	total := preamble + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	body(&buf)
	return buf.Bytes()
}

// ConstantStore builds a store whose trajectories hold a fixed point for
// every frame. Trajectories are added in sorted name order.
func ConstantStore(t testing.TB, frames int, points map[string]r3.Vec) *trajectory.Store {
	t.Helper()
	s := trajectory.NewStore()
	for _, name := range sortedKeys(points) {
		data := make([]r3.Vec, frames)
		for f := range data {
			data[f] = points[name]
		}
		AssertNoError(t, s.Add(&trajectory.Trajectory{Name: name, Component: trajectory.ComponentBody, Data: data}))
	}
	return s
}
