package restpose

import (
	"math"
	"sort"
)

// UEMetahumanTPose is the name of the Unreal Engine MetaHuman T-pose table.
const UEMetahumanTPose = "ue_metahuman_tpose"

// pose is a rest entry in degrees.
type pose struct {
	x, y, z float64
	roll    *float64
}

func deg(v float64) *float64 { return &v }

// ueMetahumanTPose in degrees. Left and right sides mirror each other
// except where the source rig is asymmetric.
var ueMetahumanTPose = map[string]pose{
	"pelvis":   {x: -90},
	"pelvis_r": {y: -90},
	"pelvis_l": {y: 90},
	"spine_01": {x: 6},
	"spine_04": {x: -9.86320126530132},
	"neck_01":  {x: 11.491515802111422},
	"face":     {x: 110},

	"clavicle_r": {y: -90},
	"clavicle_l": {y: 90},
	"upperarm_r": {y: -90, roll: deg(-90)},
	"upperarm_l": {y: 90, roll: deg(90)},
	"lowerarm_r": {y: -90, z: 1, roll: deg(-90)},
	"lowerarm_l": {y: 90, z: -1, roll: deg(90)},
	"hand_r":     {y: -90, roll: deg(-90)},
	"hand_l":     {y: 90, roll: deg(90)},

	"thigh_r": {x: 1, y: -176.63197042733134, z: 4.106872792731369, roll: deg(101)},
	"thigh_l": {x: 1, y: 176.63197042733134, z: -4.106635016770888, roll: deg(-101)},
	"calf_r":  {x: -175.12260790378525, y: -2.6481038282450826, z: 56.97761905625937, roll: deg(101)},
	"calf_l":  {x: -175.12259424340692, y: 2.648141394285518, z: -56.97820303743341, roll: deg(-101)},
	"foot_r":  {x: 106.8930615673465, y: -8.188085418524645, z: -11.028648396211644, roll: deg(90)},
	"foot_l":  {x: 107.86645231653254, y: 8.93590490150277, z: 12.247207078107985, roll: deg(-90)},
	"heel_r":  {x: 195},
	"heel_l":  {x: 195},
}

// Finger chains: metacarpal splay differs per finger, phalanges point
// straight along the arm.
var fingerSplay = map[string]float64{
	"index":  17,
	"middle": 5.5,
	"ring":   -7.3,
	"pinky":  -19,
}

func init() {
	for _, seg := range []string{"metacarpal", "01", "02", "03"} {
		ueMetahumanTPose["thumb_"+seg+"_r"] = pose{y: -90, z: 45, roll: deg(-69)}
		ueMetahumanTPose["thumb_"+seg+"_l"] = pose{y: 90, z: -45, roll: deg(69)}
		for finger, splay := range fingerSplay {
			z := 0.0
			if seg == "metacarpal" {
				z = splay
			}
			ueMetahumanTPose[finger+"_"+seg+"_r"] = pose{y: -90, z: z, roll: deg(0)}
			ueMetahumanTPose[finger+"_"+seg+"_l"] = pose{y: 90, z: -z, roll: deg(0)}
		}
	}
}

var builtins = map[string]map[string]pose{
	UEMetahumanTPose: ueMetahumanTPose,
}

// Builtin returns a copy of the named built-in table, in radians.
func Builtin(name string) (Table, bool) {
	src, ok := builtins[name]
	if !ok {
		return nil, false
	}
	t := make(Table, len(src))
	for bone, p := range src {
		e := Entry{Rotation: [3]float64{radians(p.x), radians(p.y), radians(p.z)}}
		if p.roll != nil {
			r := radians(*p.roll)
			e.Roll = &r
		}
		t[bone] = e
	}
	return t, true
}

// BuiltinNames lists the built-in table names.
func BuiltinNames() []string {
	out := make([]string, 0, len(builtins))
	for n := range builtins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func radians(d float64) float64 { return d * math.Pi / 180 }
