// Package errkind defines the error categories raised while turning marker
// trajectories into a rig. Callers wrap a kind with context using
// fmt.Errorf("...: %w", errkind.X) and test for it with errors.Is.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Configuration marks invalid definitions: bad weights, name
	// collisions, malformed topologies or unreadable config files.
	Configuration = errors.New("configuration error")

	// MissingMapping marks a canonical keypoint with no entry in the
	// tracker mapping.
	MissingMapping = errors.New("missing mapping")

	// UnsupportedComponent marks a tracker/component pair with no
	// registered mapping.
	UnsupportedComponent = errors.New("unsupported component")

	// InsufficientData marks a segment with no frame where both endpoints
	// are finite.
	InsufficientData = errors.New("insufficient data")

	// InvalidState marks an operation attempted in the wrong rig state.
	InvalidState = errors.New("invalid state")
)

// StageError attaches the pipeline stage name to a failure.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage returns the stage name attached to err, or "" when err did not
// come out of a pipeline stage.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// SkippedSegment records a segment dropped under the skip policy.
type SkippedSegment struct {
	Segment string
	Err     error
}

// SkippedSegments is returned alongside a successful result when one or
// more segments were skipped. It is informational and never wraps a kind.
type SkippedSegments []SkippedSegment

func (s SkippedSegments) Error() string {
	names := make([]string, len(s))
	for i, seg := range s {
		names[i] = seg.Segment
	}
	return fmt.Sprintf("%d segment(s) skipped: %s", len(s), strings.Join(names, ", "))
}

// Names returns the skipped segment names in report order.
func (s SkippedSegments) Names() []string {
	names := make([]string, len(s))
	for i, seg := range s {
		names[i] = seg.Segment
	}
	return names
}
