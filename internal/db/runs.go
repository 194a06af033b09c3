package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/skelly.rig/internal/armature"
	"github.com/banshee-data/skelly.rig/internal/config"
	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/pipeline"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/timeutil"
)

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one pipeline execution over a recording.
type Run struct {
	RunID         string          `json:"run_id"`
	RecordingDir  string          `json:"recording_dir"`
	Tracker       string          `json:"tracker"`
	ConfigJSON    json.RawMessage `json:"config_json,omitempty"`
	Status        string          `json:"status"`
	FailedStage   string          `json:"failed_stage,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAtNs   int64           `json:"created_at_ns"`
	CompletedAtNs *int64          `json:"completed_at_ns,omitempty"`
}

// StageRecord is a persisted pipeline.StageTiming.
type StageRecord struct {
	Stage        string `json:"stage"`
	StartedAtNs  int64  `json:"started_at_ns"`
	DurationNs   int64  `json:"duration_ns"`
	Trajectories int    `json:"trajectories"`
	Error        string `json:"error,omitempty"`
}

// SegmentRecord is a rigid segment length, or the reason it was skipped.
type SegmentRecord struct {
	Segment          string  `json:"segment"`
	ParentTrajectory string  `json:"parent,omitempty"`
	ChildTrajectory  string  `json:"child,omitempty"`
	Length           float64 `json:"length"`
	StdDev           float64 `json:"std_dev"`
	ValidFrames      int     `json:"valid_frames"`
	SkipReason       string  `json:"skip_reason,omitempty"`
}

// BoneRecord is a rest-pose bone of a finalized rig.
type BoneRecord struct {
	Bone          string     `json:"bone"`
	Parent        string     `json:"parent,omitempty"`
	Kind          string     `json:"kind"`
	Length        float64    `json:"length"`
	Head          [3]float64 `json:"head"`
	Tail          [3]float64 `json:"tail"`
	Roll          float64    `json:"roll"`
	RestFromTable bool       `json:"rest_from_table"`
	Constraints   int        `json:"constraints"`
}

// RunStore persists runs. It implements pipeline.PersistenceSink.
type RunStore struct {
	db    *sql.DB
	Clock timeutil.Clock
}

var _ pipeline.PersistenceSink = (*RunStore)(nil)

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, Clock: timeutil.RealClock{}}
}

func (s *RunStore) nowNs() int64 {
	return s.Clock.Now().UnixNano()
}

// StartRun inserts a running run.
func (s *RunStore) StartRun(runID, recordingDir string, cfg *config.PipelineConfig) error {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO runs (run_id, recording_dir, tracker, config_json, status, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, runID, recordingDir, cfg.GetTracker(), string(cfgJSON), RunRunning, s.nowNs()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStage appends a stage timing to the run.
func (s *RunStore) RecordStage(runID string, st pipeline.StageTiming) error {
	query := `
		INSERT INTO run_stages (run_id, ordinal, stage, started_at_ns, duration_ns, trajectories, error)
		VALUES (?, (SELECT COUNT(*) FROM run_stages WHERE run_id = ?), ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		runID, runID,
		st.Stage,
		st.StartedAt.UnixNano(),
		int64(st.Duration),
		st.Trajectories,
		nullString(st.Err),
	)
	if err != nil {
		return fmt.Errorf("insert stage %s: %w", st.Stage, err)
	}
	return nil
}

// RecordSegments stores the rigid lengths and skipped segments of a run.
func (s *RunStore) RecordSegments(runID string, defs rigid.Definitions, skipped errkind.SkippedSegments) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin segments: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO run_segments (
			run_id, segment, parent_trajectory, child_trajectory,
			length_m, std_dev_m, valid_frames, skip_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, d := range defs {
		if _, err := tx.Exec(query, runID, d.Segment, d.ParentTrajectory, d.ChildTrajectory,
			d.Length, d.StdDev, d.ValidFrames, nil); err != nil {
			return fmt.Errorf("insert segment %s: %w", d.Segment, err)
		}
	}
	for _, sk := range skipped {
		if _, err := tx.Exec(query, runID, sk.Segment, nil, nil, nil, nil, 0, sk.Err.Error()); err != nil {
			return fmt.Errorf("insert skipped segment %s: %w", sk.Segment, err)
		}
	}
	return tx.Commit()
}

// RecordBones stores the rest pose of the finalized rig.
func (s *RunStore) RecordBones(runID string, bones []*armature.Bone) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bones: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO run_bones (
			run_id, ordinal, bone, parent, kind, length_m,
			head_x, head_y, head_z, tail_x, tail_y, tail_z,
			roll, rest_from_table, constraints
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, b := range bones {
		_, err := tx.Exec(query,
			runID, i, b.Name, nullString(b.Parent), b.Kind, b.Length,
			b.Head.X, b.Head.Y, b.Head.Z, b.Tail.X, b.Tail.Y, b.Tail.Z,
			b.Roll, b.RestFromTable, len(b.Constraints),
		)
		if err != nil {
			return fmt.Errorf("insert bone %s: %w", b.Name, err)
		}
	}
	return tx.Commit()
}

// CompleteRun marks the run completed.
func (s *RunStore) CompleteRun(runID string) error {
	return s.finish(runID, RunCompleted, "", nil)
}

// FailRun marks the run failed at stage.
func (s *RunStore) FailRun(runID, stage string, cause error) error {
	return s.finish(runID, RunFailed, stage, cause)
}

func (s *RunStore) finish(runID, status, stage string, cause error) error {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE runs
		SET status = ?, failed_stage = ?, error = ?, completed_at_ns = ?
		WHERE run_id = ?
	`
	result, err := s.db.Exec(query, status, nullString(stage), nullString(msg), s.nowNs(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

const runColumns = `run_id, recording_dir, tracker, config_json, status, failed_stage, error, created_at_ns, completed_at_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var cfgJSON, failedStage, runErr sql.NullString
	var completedAtNs sql.NullInt64
	if err := row.Scan(
		&run.RunID,
		&run.RecordingDir,
		&run.Tracker,
		&cfgJSON,
		&run.Status,
		&failedStage,
		&runErr,
		&run.CreatedAtNs,
		&completedAtNs,
	); err != nil {
		return nil, err
	}

	if cfgJSON.Valid && cfgJSON.String != "" {
		run.ConfigJSON = json.RawMessage(cfgJSON.String)
	}
	if failedStage.Valid {
		run.FailedStage = failedStage.String
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	if completedAtNs.Valid {
		v := completedAtNs.Int64
		run.CompletedAtNs = &v
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at_ns DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

// ListStages returns the stages of a run in execution order.
func (s *RunStore) ListStages(runID string) ([]StageRecord, error) {
	query := `
		SELECT stage, started_at_ns, duration_ns, trajectories, error
		FROM run_stages
		WHERE run_id = ?
		ORDER BY ordinal
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var st StageRecord
		var stageErr sql.NullString
		if err := rows.Scan(&st.Stage, &st.StartedAtNs, &st.DurationNs, &st.Trajectories, &stageErr); err != nil {
			return nil, fmt.Errorf("scan stage row: %w", err)
		}
		st.Error = stageErr.String
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stages rows: %w", err)
	}
	return stages, nil
}

// ListSegments returns the segments of a run by name.
func (s *RunStore) ListSegments(runID string) ([]SegmentRecord, error) {
	query := `
		SELECT segment, parent_trajectory, child_trajectory, length_m, std_dev_m, valid_frames, skip_reason
		FROM run_segments
		WHERE run_id = ?
		ORDER BY segment
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []SegmentRecord
	for rows.Next() {
		var seg SegmentRecord
		var parent, child, reason sql.NullString
		var length, stdDev sql.NullFloat64
		if err := rows.Scan(&seg.Segment, &parent, &child, &length, &stdDev, &seg.ValidFrames, &reason); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		seg.ParentTrajectory = parent.String
		seg.ChildTrajectory = child.String
		seg.Length = length.Float64
		seg.StdDev = stdDev.Float64
		seg.SkipReason = reason.String
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list segments rows: %w", err)
	}
	return segments, nil
}

// ListBones returns the bones of a run in rig order.
func (s *RunStore) ListBones(runID string) ([]BoneRecord, error) {
	query := `
		SELECT bone, parent, kind, length_m, head_x, head_y, head_z,
		       tail_x, tail_y, tail_z, roll, rest_from_table, constraints
		FROM run_bones
		WHERE run_id = ?
		ORDER BY ordinal
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("list bones: %w", err)
	}
	defer rows.Close()

	var bones []BoneRecord
	for rows.Next() {
		var b BoneRecord
		var parent sql.NullString
		if err := rows.Scan(&b.Bone, &parent, &b.Kind, &b.Length,
			&b.Head[0], &b.Head[1], &b.Head[2], &b.Tail[0], &b.Tail[1], &b.Tail[2],
			&b.Roll, &b.RestFromTable, &b.Constraints); err != nil {
			return nil, fmt.Errorf("scan bone row: %w", err)
		}
		b.Parent = parent.String
		bones = append(bones, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bones rows: %w", err)
	}
	return bones, nil
}

// DeleteRun deletes a run with its stages, segments and bones.
func (s *RunStore) DeleteRun(runID string) error {
	result, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
