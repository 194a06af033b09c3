package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/skelly.rig/internal/units"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// DefaultRestPose names the built-in rest pose table.
const DefaultRestPose = "ue_metahuman_tpose"

// AxisLimit is an inclusive rotation range in degrees.
type AxisLimit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// BoneConstraint limits the local rotation of a single bone. Nil axes are
// left free.
type BoneConstraint struct {
	X *AxisLimit `json:"x,omitempty"`
	Y *AxisLimit `json:"y,omitempty"`
	Z *AxisLimit `json:"z,omitempty"`
}

// PipelineConfig is the root configuration for one reconstruction run.
// Every field is optional; the Get* methods supply defaults for omitted
// values so partial configs are safe.
type PipelineConfig struct {
	// Input
	Tracker      *string  `json:"tracker,omitempty"`
	TrackerTable *string  `json:"tracker_table,omitempty"` // extra tracker JSON table, registered before lookup
	InputUnits   *string  `json:"input_units,omitempty"`
	ScaleDivisor *float64 `json:"scale_divisor,omitempty"`
	FrameRate    *float64 `json:"frame_rate,omitempty"`

	// Trajectory processing
	PutOnGround              *bool `json:"put_on_ground,omitempty"`
	EnforceRigidBones        *bool `json:"enforce_rigid_bones,omitempty"`
	KeepSymmetry             *bool `json:"keep_symmetry,omitempty"`
	SkipInsufficientSegments *bool `json:"skip_insufficient_segments,omitempty"`

	// Rig
	AddIKConstraints   *bool                     `json:"add_ik_constraints,omitempty"`
	UseLimitRotation   *bool                     `json:"use_limit_rotation,omitempty"`
	RestPoseDefinition *string                   `json:"rest_pose_definition,omitempty"`
	BoneConstraints    map[string]BoneConstraint `json:"bone_constraints,omitempty"`
	AddMeshes          *bool                     `json:"add_meshes,omitempty"`
	BakeAnimation      *bool                     `json:"bake_animation,omitempty"`

	// Reporting
	SpeedUnits *string `json:"speed_units,omitempty"`

	Workers *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated with
// its default value.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Tracker:                  ptrString("mediapipe"),
		InputUnits:               ptrString(units.MM),
		FrameRate:                ptrFloat64(30),
		PutOnGround:              ptrBool(true),
		EnforceRigidBones:        ptrBool(false),
		KeepSymmetry:             ptrBool(false),
		SkipInsufficientSegments: ptrBool(false),
		AddIKConstraints:         ptrBool(false),
		UseLimitRotation:         ptrBool(false),
		RestPoseDefinition:       ptrString(DefaultRestPose),
		AddMeshes:                ptrBool(true),
		BakeAnimation:            ptrBool(false),
		SpeedUnits:               ptrString(units.MPS),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig decodes and validates a JSON config document.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.Tracker != nil && *c.Tracker == "" {
		return fmt.Errorf("tracker must not be empty")
	}
	if c.TrackerTable != nil && *c.TrackerTable == "" {
		return fmt.Errorf("tracker_table must not be empty")
	}
	if c.SpeedUnits != nil && !units.IsValidSpeed(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidSpeedUnitsString(), *c.SpeedUnits)
	}
	if c.InputUnits != nil && !units.IsValidLength(*c.InputUnits) {
		return fmt.Errorf("input_units must be one of %s, got %q", units.GetValidLengthUnitsString(), *c.InputUnits)
	}
	if c.ScaleDivisor != nil && *c.ScaleDivisor <= 0 {
		return fmt.Errorf("scale_divisor must be positive, got %f", *c.ScaleDivisor)
	}
	if c.FrameRate != nil && *c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %f", *c.FrameRate)
	}
	if c.RestPoseDefinition != nil && *c.RestPoseDefinition == "" {
		return fmt.Errorf("rest_pose_definition must not be empty")
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	for bone, bc := range c.BoneConstraints {
		for axis, lim := range map[string]*AxisLimit{"x": bc.X, "y": bc.Y, "z": bc.Z} {
			if lim != nil && lim.Min > lim.Max {
				return fmt.Errorf("bone_constraints[%s].%s: min %.1f exceeds max %.1f", bone, axis, lim.Min, lim.Max)
			}
		}
	}
	return nil
}

// GetTracker returns the tracker source name or the default.
func (c *PipelineConfig) GetTracker() string {
	if c.Tracker == nil {
		return "mediapipe"
	}
	return *c.Tracker
}

// GetTrackerTable returns the path of an extra tracker table, or "".
func (c *PipelineConfig) GetTrackerTable() string {
	if c.TrackerTable == nil {
		return ""
	}
	return *c.TrackerTable
}

// GetSpeedUnits returns the units speeds are reported in.
func (c *PipelineConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

// GetScaleDivisor returns the explicit scale divisor, else the divisor
// implied by input_units, else 1000 (millimetres).
func (c *PipelineConfig) GetScaleDivisor() float64 {
	if c.ScaleDivisor != nil {
		return *c.ScaleDivisor
	}
	if c.InputUnits != nil {
		if d, err := units.ScaleDivisor(*c.InputUnits); err == nil {
			return d
		}
	}
	return 1000
}

// GetFrameRate returns the recording frame rate in Hz.
func (c *PipelineConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetPutOnGround returns the put_on_ground value or the default.
func (c *PipelineConfig) GetPutOnGround() bool {
	if c.PutOnGround == nil {
		return true
	}
	return *c.PutOnGround
}

// GetEnforceRigidBones returns the enforce_rigid_bones value or the default.
func (c *PipelineConfig) GetEnforceRigidBones() bool {
	return c.EnforceRigidBones != nil && *c.EnforceRigidBones
}

// GetKeepSymmetry returns the keep_symmetry value or the default.
func (c *PipelineConfig) GetKeepSymmetry() bool {
	return c.KeepSymmetry != nil && *c.KeepSymmetry
}

// GetSkipInsufficientSegments returns the skip policy or the default (abort).
func (c *PipelineConfig) GetSkipInsufficientSegments() bool {
	return c.SkipInsufficientSegments != nil && *c.SkipInsufficientSegments
}

// GetAddIKConstraints returns the add_ik_constraints value or the default.
func (c *PipelineConfig) GetAddIKConstraints() bool {
	return c.AddIKConstraints != nil && *c.AddIKConstraints
}

// GetUseLimitRotation returns the use_limit_rotation value or the default.
func (c *PipelineConfig) GetUseLimitRotation() bool {
	return c.UseLimitRotation != nil && *c.UseLimitRotation
}

// GetRestPoseDefinition returns the rest pose table name or path.
func (c *PipelineConfig) GetRestPoseDefinition() string {
	if c.RestPoseDefinition == nil {
		return DefaultRestPose
	}
	return *c.RestPoseDefinition
}

// GetAddMeshes returns the add_meshes value or the default.
func (c *PipelineConfig) GetAddMeshes() bool {
	if c.AddMeshes == nil {
		return true
	}
	return *c.AddMeshes
}

// GetBakeAnimation returns the bake_animation value or the default.
func (c *PipelineConfig) GetBakeAnimation() bool {
	return c.BakeAnimation != nil && *c.BakeAnimation
}

// GetWorkers returns the frame-parallel worker count; 0 means GOMAXPROCS.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// DefaultBoneConstraints returns the joint limits used when the config
// does not override them: hinge limits for elbows and knees and a range
// for the neck.
func DefaultBoneConstraints() map[string]BoneConstraint {
	lim := func(min, max float64) *AxisLimit { return &AxisLimit{Min: min, Max: max} }
	return map[string]BoneConstraint{
		"lowerarm_l": {X: lim(-5, 5), Z: lim(-150, 0)},
		"lowerarm_r": {X: lim(-5, 5), Z: lim(0, 150)},
		"calf_l":     {X: lim(0, 150), Z: lim(-5, 5)},
		"calf_r":     {X: lim(0, 150), Z: lim(-5, 5)},
		"neck_01":    {X: lim(-45, 45), Y: lim(-60, 60), Z: lim(-30, 30)},
	}
}

// GetBoneConstraints returns the configured joint limits or the defaults.
func (c *PipelineConfig) GetBoneConstraints() map[string]BoneConstraint {
	if c.BoneConstraints == nil {
		return DefaultBoneConstraints()
	}
	return c.BoneConstraints
}
