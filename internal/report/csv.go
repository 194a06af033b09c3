package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/skelly.rig/internal/armature"
)

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// WriteBoneCSV writes one row per bone with its rest transform.
func WriteBoneCSV(w io.Writer, bones []*armature.Bone) error {
	cw := csv.NewWriter(w)
	header := []string{"bone", "parent", "length_m", "head_x", "head_y", "head_z", "tail_x", "tail_y", "tail_z", "roll"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range bones {
		row := []string{
			b.Name, b.Parent, ftoa(b.Length),
			ftoa(b.Head.X), ftoa(b.Head.Y), ftoa(b.Head.Z),
			ftoa(b.Tail.X), ftoa(b.Tail.Y), ftoa(b.Tail.Z),
			ftoa(b.Roll),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJointAngleCSV writes, per baked frame, the angle in degrees between
// every bone and its parent.
func WriteJointAngleCSV(w io.Writer, rig *armature.Rig, poses []armature.Pose) error {
	if len(poses) == 0 {
		return fmt.Errorf("no baked poses for rig %s", rig.Name)
	}
	first := rig.JointAngles(poses[0])
	joints := make([]string, 0, len(first))
	for name := range first {
		joints = append(joints, name)
	}
	sort.Strings(joints)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"frame"}, joints...)); err != nil {
		return err
	}
	for _, p := range poses {
		angles := rig.JointAngles(p)
		row := make([]string, 0, len(joints)+1)
		row = append(row, strconv.Itoa(p.Frame))
		for _, j := range joints {
			row = append(row, ftoa(angles[j]*180/math.Pi))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
