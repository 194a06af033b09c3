package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/skelly.rig/internal/httputil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/report"
	"github.com/banshee-data/skelly.rig/internal/rigid"
)

// AttachAdminRoutes mounts the debug pages on mux: live SQL, run listings,
// a segment length chart per run and a database backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Skelly runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	admin := &adminHandlers{db: db, runs: NewRunStore(db.DB)}
	debug.Handle("runs", "Recent reconstruction runs (JSON)", http.HandlerFunc(admin.listRuns))
	debug.Handle("run", "One run with stages, segments and bones (JSON, ?id=)", http.HandlerFunc(admin.getRun))
	debug.Handle("segments", "Segment length chart for a run (?id=)", http.HandlerFunc(admin.segmentChart))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(admin.backup))
	return nil
}

type adminHandlers struct {
	db   *DB
	runs *RunStore
}

func (a *adminHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.GetOnly(w, r) {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit: %v", err))
			return
		}
		limit = n
	}
	list, err := a.runs.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, list)
}

// RunDetail is a run with everything recorded for it.
type RunDetail struct {
	*Run
	Stages   []StageRecord   `json:"stages"`
	Segments []SegmentRecord `json:"segments"`
	Bones    []BoneRecord    `json:"bones"`
}

func (a *adminHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	if !httputil.GetOnly(w, r) {
		return
	}
	id := r.URL.Query().Get("id")
	run, err := a.runs.GetRun(id)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	detail := RunDetail{Run: run}
	if detail.Stages, err = a.runs.ListStages(id); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if detail.Segments, err = a.runs.ListSegments(id); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if detail.Bones, err = a.runs.ListBones(id); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, detail)
}

func (a *adminHandlers) segmentChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.GetOnly(w, r) {
		return
	}
	id := r.URL.Query().Get("id")
	if _, err := a.runs.GetRun(id); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	segments, err := a.runs.ListSegments(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	var defs rigid.Definitions
	for _, s := range segments {
		if s.SkipReason != "" {
			continue
		}
		defs = append(defs, rigid.Definition{
			Segment:          s.Segment,
			Length:           s.Length,
			ParentTrajectory: s.ParentTrajectory,
			ChildTrajectory:  s.ChildTrajectory,
			StdDev:           s.StdDev,
			ValidFrames:      s.ValidFrames,
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderSegmentChart(w, fmt.Sprintf("Segment lengths (%s)", id), defs); err != nil {
		monitoring.Logf("[DB] failed to render segment chart for %s: %v", id, err)
	}
}

func (a *adminHandlers) backup(w http.ResponseWriter, r *http.Request) {
	if !httputil.GetOnly(w, r) {
		return
	}
	backupName := fmt.Sprintf("backup-%d.db", time.Now().UnixNano())
	backupPath := filepath.Join(os.TempDir(), backupName)
	if _, err := a.db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("[DB] failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupName))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("[DB] failed to write backup: %v", err)
	}
}
