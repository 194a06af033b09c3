package skeleton

import "fmt"

// RootKeypoint is the keypoint every humanoid topology is rooted at.
const RootKeypoint = "pelvis_center"

var axialKeypoints = []Keypoint{
	{Name: "pelvis_center", Component: "body", Definition: "midpoint of the hip joint centres"},
	{Name: "spine_t12", Component: "body", Definition: "thoracolumbar junction, halfway between pelvis and neck"},
	{Name: "spine_c7", Component: "body", Definition: "base of the neck, midpoint of the shoulders"},
	{Name: "skull_c1", Component: "body", Definition: "top of the cervical spine, just below the skull"},
	{Name: "head_center", Component: "body", Definition: "centre of the head, midpoint of the ears"},
	{Name: "nose_tip", Component: "body", Definition: "tip of the nose"},
	{Name: "left_ear", Component: "body", Definition: "left tragus"},
}

var sideKeypoints = []struct{ name, def string }{
	{"hip", "hip joint centre"},
	{"knee", "knee joint centre"},
	{"ankle", "ankle joint centre"},
	{"heel", "back of the heel"},
	{"hallux_tip", "tip of the big toe"},
	{"shoulder", "glenohumeral joint centre"},
	{"elbow", "elbow joint centre"},
	{"wrist", "wrist joint centre"},
	{"index_knuckle", "index finger knuckle as seen by the body tracker"},
}

var fingers = []string{"index", "middle", "ring", "pinky"}

func handKeypoints(side string) []Keypoint {
	comp := side + "_hand"
	kp := func(name, def string) Keypoint {
		return Keypoint{Name: side + "_" + name, Component: comp, Definition: side + " " + def}
	}
	out := []Keypoint{
		kp("thumb_cmc", "thumb carpometacarpal joint"),
		kp("thumb_mcp", "thumb metacarpophalangeal joint"),
		kp("thumb_ip", "thumb interphalangeal joint"),
		kp("thumb_tip", "tip of the thumb"),
	}
	for _, f := range fingers {
		out = append(out,
			kp(f+"_mcp", f+" finger knuckle"),
			kp(f+"_pip", f+" finger middle joint"),
			kp(f+"_dip", f+" finger end joint"),
			kp(f+"_tip", "tip of the "+f+" finger"),
		)
	}
	return out
}

// BodyTopology returns the canonical humanoid topology. Segment names follow
// the Unreal/MetaHuman bone naming so rest pose tables apply by name. With
// withHands set, the hand becomes a composite carrying five finger chains
// resolved from the hand components.
func BodyTopology(withHands bool) (*Topology, error) {
	keypoints := append([]Keypoint(nil), axialKeypoints...)
	for _, side := range []string{"left", "right"} {
		for _, k := range sideKeypoints {
			keypoints = append(keypoints, Keypoint{
				Name:       side + "_" + k.name,
				Component:  "body",
				Definition: side + " " + k.def,
			})
		}
		if withHands {
			keypoints = append(keypoints, handKeypoints(side)...)
		}
	}

	segments := []Segment{
		{Name: "pelvis", Kind: Composite, Origin: "pelvis_center",
			Children:   []string{"spine_01", "pelvis_l", "pelvis_r"},
			References: References{Up: "spine_t12", Left: "left_hip"}},
		{Name: "spine_01", Kind: Simple, Parent: "pelvis_center", Child: "spine_t12"},
		{Name: "spine_04", Kind: Simple, Parent: "spine_t12", Child: "spine_c7"},
		{Name: "neck_01", Kind: Simple, Parent: "spine_c7", Child: "skull_c1"},
		{Name: "head", Kind: Composite, Origin: "skull_c1",
			Children:   []string{"face"},
			References: References{Up: "head_center", Forward: "nose_tip", Left: "left_ear"}},
		{Name: "face", Kind: Simple, Parent: "skull_c1", Child: "nose_tip"},
	}

	for _, side := range []string{"left", "right"} {
		sfx := "_" + side[:1]
		kp := func(n string) string { return side + "_" + n }
		segments = append(segments,
			Segment{Name: "pelvis" + sfx, Kind: Simple, Parent: "pelvis_center", Child: kp("hip")},
			Segment{Name: "thigh" + sfx, Kind: Simple, Parent: kp("hip"), Child: kp("knee")},
			Segment{Name: "calf" + sfx, Kind: Simple, Parent: kp("knee"), Child: kp("ankle")},
			Segment{Name: "foot" + sfx, Kind: Simple, Parent: kp("ankle"), Child: kp("hallux_tip")},
			Segment{Name: "heel" + sfx, Kind: Simple, Parent: kp("ankle"), Child: kp("heel")},
			Segment{Name: "clavicle" + sfx, Kind: Simple, Parent: "spine_c7", Child: kp("shoulder")},
			Segment{Name: "upperarm" + sfx, Kind: Simple, Parent: kp("shoulder"), Child: kp("elbow")},
			Segment{Name: "lowerarm" + sfx, Kind: Simple, Parent: kp("elbow"), Child: kp("wrist")},
		)
		if !withHands {
			segments = append(segments,
				Segment{Name: "hand" + sfx, Kind: Simple, Parent: kp("wrist"), Child: kp("index_knuckle")})
			continue
		}

		hand := Segment{Name: "hand" + sfx, Kind: Composite, Origin: kp("wrist"),
			References: References{Forward: kp("middle_mcp"), Left: kp("thumb_cmc")}}
		var chains []Segment
		chains = append(chains,
			Segment{Name: "thumb_metacarpal" + sfx, Kind: Simple, Parent: kp("wrist"), Child: kp("thumb_cmc")},
			Segment{Name: "thumb_01" + sfx, Kind: Simple, Parent: kp("thumb_cmc"), Child: kp("thumb_mcp")},
			Segment{Name: "thumb_02" + sfx, Kind: Simple, Parent: kp("thumb_mcp"), Child: kp("thumb_ip")},
			Segment{Name: "thumb_03" + sfx, Kind: Simple, Parent: kp("thumb_ip"), Child: kp("thumb_tip")},
		)
		hand.Children = append(hand.Children, "thumb_metacarpal"+sfx)
		for _, f := range fingers {
			hand.Children = append(hand.Children, f+"_metacarpal"+sfx)
			chains = append(chains,
				Segment{Name: f + "_metacarpal" + sfx, Kind: Simple, Parent: kp("wrist"), Child: kp(f + "_mcp")},
				Segment{Name: f + "_01" + sfx, Kind: Simple, Parent: kp(f + "_mcp"), Child: kp(f + "_pip")},
				Segment{Name: f + "_02" + sfx, Kind: Simple, Parent: kp(f + "_pip"), Child: kp(f + "_dip")},
				Segment{Name: f + "_03" + sfx, Kind: Simple, Parent: kp(f + "_dip"), Child: kp(f + "_tip")},
			)
		}
		segments = append(segments, hand)
		segments = append(segments, chains...)
	}

	t, err := NewTopology(RootKeypoint, keypoints, segments)
	if err != nil {
		return nil, fmt.Errorf("building body topology: %w", err)
	}
	return t, nil
}
