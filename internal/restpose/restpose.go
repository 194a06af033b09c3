// Package restpose holds the neutral orientation of each bone, expressed as
// XYZ Euler rotations of the +Z axis in world space plus an optional roll.
package restpose

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Entry is the rest orientation of one bone. Rotation holds X, Y and Z
// Euler angles in radians applied in that order; Roll, when set, rotates
// the bone about its own axis.
type Entry struct {
	Rotation [3]float64 `json:"rotation"`
	Roll     *float64   `json:"roll,omitempty"`
}

// Table maps bone names to rest entries.
type Table map[string]Entry

// Lookup returns the entry for bone.
func (t Table) Lookup(bone string) (Entry, bool) {
	e, ok := t[bone]
	return e, ok
}

// Bones returns the bone names in sorted order.
func (t Table) Bones() []string {
	out := make([]string, 0, len(t))
	for b := range t {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Quat returns the entry rotation as a unit quaternion, composed as
// Rz * Ry * Rx.
func (e Entry) Quat() quat.Number {
	qx := axisAngle(r3.Vec{X: 1}, e.Rotation[0])
	qy := axisAngle(r3.Vec{Y: 1}, e.Rotation[1])
	qz := axisAngle(r3.Vec{Z: 1}, e.Rotation[2])
	return quat.Mul(qz, quat.Mul(qy, qx))
}

// Direction returns the unit direction the bone points along at rest.
func (e Entry) Direction() r3.Vec {
	return Rotate(e.Quat(), r3.Vec{Z: 1})
}

// RollAngle returns the roll in radians, 0 when unset.
func (e Entry) RollAngle() float64 {
	if e.Roll == nil {
		return 0
	}
	return *e.Roll
}

func axisAngle(axis r3.Vec, angle float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: s * axis.X, Jmag: s * axis.Y, Kmag: s * axis.Z}
}

// Rotate applies the unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Validate checks every angle is finite.
func (t Table) Validate() error {
	for _, bone := range t.Bones() {
		e := t[bone]
		for i, a := range e.Rotation {
			if math.IsNaN(a) || math.IsInf(a, 0) {
				return fmt.Errorf("rest pose %s rotation[%d] is not finite: %w", bone, i, errkind.Configuration)
			}
		}
		if e.Roll != nil && (math.IsNaN(*e.Roll) || math.IsInf(*e.Roll, 0)) {
			return fmt.Errorf("rest pose %s roll is not finite: %w", bone, errkind.Configuration)
		}
	}
	return nil
}

// tableFile is the on-disk form. Angles are in degrees unless Radians is
// set, which keeps hand-edited tables readable.
type tableFile struct {
	Radians bool                 `json:"radians,omitempty"`
	Bones   map[string]fileEntry `json:"bones"`
}

type fileEntry struct {
	Rotation [3]float64 `json:"rotation"`
	Roll     *float64   `json:"roll,omitempty"`
}

// Parse decodes a JSON rest pose table.
func Parse(data []byte) (Table, error) {
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rest pose: %v: %w", err, errkind.Configuration)
	}
	if len(f.Bones) == 0 {
		return nil, fmt.Errorf("rest pose has no bones: %w", errkind.Configuration)
	}
	conv := func(a float64) float64 {
		if f.Radians {
			return a
		}
		return a * math.Pi / 180
	}
	t := make(Table, len(f.Bones))
	for bone, fe := range f.Bones {
		e := Entry{Rotation: [3]float64{conv(fe.Rotation[0]), conv(fe.Rotation[1]), conv(fe.Rotation[2])}}
		if fe.Roll != nil {
			r := conv(*fe.Roll)
			e.Roll = &r
		}
		t[bone] = e
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load resolves a rest pose definition: a built-in table name or the path
// of a JSON table file.
func Load(definition string) (Table, error) {
	if t, ok := Builtin(definition); ok {
		return t, nil
	}
	if filepath.Ext(definition) != ".json" {
		return nil, fmt.Errorf("unknown rest pose %q (built-in: %v): %w", definition, BuiltinNames(), errkind.Configuration)
	}
	data, err := os.ReadFile(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to read rest pose: %w", err)
	}
	return Parse(data)
}
