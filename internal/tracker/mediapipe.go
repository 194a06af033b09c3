package tracker

import (
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// MediaPipeSource is the registry name of the MediaPipe Holistic tracker.
const MediaPipeSource = "mediapipe"

// MediaPipeBodyLandmarks are the 33 pose landmarks in array order.
var MediaPipeBodyLandmarks = []string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// MediaPipeHandLandmarks are the 21 hand landmarks in array order.
var MediaPipeHandLandmarks = []string{
	"wrist",
	"thumb_cmc", "thumb_mcp", "thumb_ip", "thumb_tip",
	"index_finger_mcp", "index_finger_pip", "index_finger_dip", "index_finger_tip",
	"middle_finger_mcp", "middle_finger_pip", "middle_finger_dip", "middle_finger_tip",
	"ring_finger_mcp", "ring_finger_pip", "ring_finger_dip", "ring_finger_tip",
	"pinky_mcp", "pinky_pip", "pinky_dip", "pinky_tip",
}

func mediaPipeBody() map[string]WeightedMarkers {
	m := map[string]WeightedMarkers{
		"pelvis_center": Single("hips_center"),
		"spine_t12":     Single("trunk_center"),
		"spine_c7":      Single("neck_center"),
		// Dyadic weights keep the sum exact: the ears carry the skull
		// position and the shoulders pull it down towards C1.
		"skull_c1": {
			{Marker: "left_ear", Weight: 0.4375},
			{Marker: "right_ear", Weight: 0.4375},
			{Marker: "left_shoulder", Weight: 0.0625},
			{Marker: "right_shoulder", Weight: 0.0625},
		},
		"head_center": Single("head_center"),
		"nose_tip":    Single("nose"),
		"left_ear":    Single("left_ear"),
		"right_ear":   Single("right_ear"),
	}
	for _, side := range []string{"left", "right"} {
		for kp, marker := range map[string]string{
			"hip":           "hip",
			"knee":          "knee",
			"ankle":         "ankle",
			"heel":          "heel",
			"hallux_tip":    "foot_index",
			"shoulder":      "shoulder",
			"elbow":         "elbow",
			"wrist":         "wrist",
			"index_knuckle": "index",
			"pinky_knuckle": "pinky",
			"thumb_knuckle": "thumb",
			"eye":           "eye",
		} {
			m[side+"_"+kp] = Single(side + "_" + marker)
		}
	}
	return m
}

func mediaPipeHand(side string) map[string]WeightedMarkers {
	m := map[string]WeightedMarkers{
		side + "_hand_wrist": Single("wrist"),
		side + "_thumb_cmc":  Single("thumb_cmc"),
		side + "_thumb_mcp":  Single("thumb_mcp"),
		side + "_thumb_ip":   Single("thumb_ip"),
		side + "_thumb_tip":  Single("thumb_tip"),
	}
	for _, f := range []string{"index", "middle", "ring"} {
		for _, j := range []string{"mcp", "pip", "dip", "tip"} {
			m[side+"_"+f+"_"+j] = Single(f + "_finger_" + j)
		}
	}
	for _, j := range []string{"mcp", "pip", "dip", "tip"} {
		m[side+"_pinky_"+j] = Single("pinky_" + j)
	}
	return m
}

// MediaPipe returns the mapping for MediaPipe Holistic recordings. Body
// and hand components are mapped; face markers are loaded but have no
// keypoint mapping.
func MediaPipe() *Table {
	return &Table{
		Name: MediaPipeSource,
		Tables: map[string]ComponentTable{
			trajectory.ComponentBody: {
				Markers:   MediaPipeBodyLandmarks,
				Keypoints: mediaPipeBody(),
			},
			trajectory.ComponentLeftHand: {
				Markers:   MediaPipeHandLandmarks,
				Prefix:    "left_hand_",
				Keypoints: mediaPipeHand("left"),
			},
			trajectory.ComponentRightHand: {
				Markers:   MediaPipeHandLandmarks,
				Prefix:    "right_hand_",
				Keypoints: mediaPipeHand("right"),
			},
		},
		Virtual: []trajectory.VirtualMarker{
			Equal("left_ear", "right_ear").AsVirtual("head_center"),
			Equal("left_shoulder", "right_shoulder").AsVirtual("neck_center"),
			Equal("left_hip", "right_hip").AsVirtual("hips_center"),
			Equal("neck_center", "hips_center").AsVirtual("trunk_center"),
		},
		Unmapped: []string{trajectory.ComponentFace},
	}
}
