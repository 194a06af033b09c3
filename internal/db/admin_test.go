package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/pipeline"
	"github.com/banshee-data/skelly.rig/internal/rigid"
)

func seededAdmin(t *testing.T) *adminHandlers {
	t.Helper()
	db := newTestDB(t)
	store := NewRunStore(db.DB)
	require.NoError(t, store.StartRun("run-1", "/rec/a", nil))
	require.NoError(t, store.RecordStage("run-1", pipeline.StageTiming{Stage: pipeline.StageLoad, StartedAt: time.Unix(0, 0), Duration: time.Millisecond}))
	require.NoError(t, store.RecordSegments("run-1", rigid.Definitions{
		{Segment: "thigh_l", Length: 0.45, StdDev: 0.01, ParentTrajectory: "left_hip", ChildTrajectory: "left_knee", ValidFrames: 4},
		{Segment: "calf_l", Length: 0.43, ParentTrajectory: "left_knee", ChildTrajectory: "left_ankle", ValidFrames: 4},
	}, errkind.SkippedSegments{{Segment: "foot_l", Err: errkind.InsufficientData}}))
	require.NoError(t, store.CompleteRun("run-1"))
	return &adminHandlers{db: db, runs: store}
}

func TestAttachAdminRoutes_Registered(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	// Debug pages may answer 403 to non-local callers, but must be mounted.
	for _, endpoint := range []string{"/debug/runs", "/debug/run", "/debug/segments", "/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, endpoint, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, endpoint)
	}
}

func TestAdmin_ListRuns(t *testing.T) {
	admin := seededAdmin(t)

	w := httptest.NewRecorder()
	admin.listRuns(w, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var runs []Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, RunCompleted, runs[0].Status)

	w = httptest.NewRecorder()
	admin.listRuns(w, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=ten", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_GetRun(t *testing.T) {
	admin := seededAdmin(t)

	w := httptest.NewRecorder()
	admin.getRun(w, httptest.NewRequest(http.MethodGet, "/debug/run?id=run-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		RunID    string          `json:"run_id"`
		Stages   []StageRecord   `json:"stages"`
		Segments []SegmentRecord `json:"segments"`
		Bones    []BoneRecord    `json:"bones"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "run-1", detail.RunID)
	assert.Len(t, detail.Stages, 1)
	assert.Len(t, detail.Segments, 3)
	assert.Empty(t, detail.Bones)

	w = httptest.NewRecorder()
	admin.getRun(w, httptest.NewRequest(http.MethodGet, "/debug/run?id=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "run not found: nope")
}

func TestAdmin_SegmentChart(t *testing.T) {
	admin := seededAdmin(t)

	w := httptest.NewRecorder()
	admin.segmentChart(w, httptest.NewRequest(http.MethodGet, "/debug/segments?id=run-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "thigh_l")
	assert.Contains(t, body, "calf_l")
	assert.NotContains(t, body, "foot_l")

	w = httptest.NewRecorder()
	admin.segmentChart(w, httptest.NewRequest(http.MethodGet, "/debug/segments?id=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Backup(t *testing.T) {
	admin := seededAdmin(t)

	w := httptest.NewRecorder()
	admin.backup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "backup-")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, len(data) > 16)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}

func TestAdmin_RejectsWrites(t *testing.T) {
	admin := seededAdmin(t)
	for name, h := range map[string]http.HandlerFunc{
		"runs":     admin.listRuns,
		"run":      admin.getRun,
		"segments": admin.segmentChart,
		"backup":   admin.backup,
	} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/debug/"+name, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, name)
	}
}
