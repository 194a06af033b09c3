package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	recDir := filepath.Join(tmpDir, "recording")
	otherDir := filepath.Join(tmpDir, "other")
	if err := os.MkdirAll(filepath.Join(recDir, "output_data"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(otherDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(otherDir, filepath.Join(recDir, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"component file", filepath.Join(recDir, "output_data", "mediapipe_body_3d_xyz.npy"), recDir, false},
		{"safe dir itself", recDir, recDir, false},
		{"not yet written", filepath.Join(recDir, "new", "rig.json"), recDir, false},
		{"dot dot escape", filepath.Join(recDir, "..", "other", "x.npy"), recDir, true},
		{"sibling", filepath.Join(otherDir, "x.npy"), recDir, true},
		{"symlink escape", filepath.Join(recDir, "escape", "x.npy"), recDir, true},
		{"nonexistent tree", "/nonexistent-root/rec/output_data/a.npy", "/nonexistent-root/rec", false},
		{"nonexistent escape", "/nonexistent-root/other/a.npy", "/nonexistent-root/rec", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q, %q) error = %v, wantError %v", tt.filePath, tt.safeDir, err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"session_2024-01-01", "session_2024-01-01"},
		{"my recording/../x", "my_recording_.._x"},
		{"", "unknown"},
		{"___", "unknown"},
		{"..hidden", "hidden"},
		{"a  b", "a_b"},
		{"ünïcode", "n_code"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
