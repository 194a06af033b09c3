// Command skelly reconstructs a rigged humanoid armature from a directory
// of tracker marker trajectories and writes the rig with its diagnostics.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/skelly.rig/internal/config"
	"github.com/banshee-data/skelly.rig/internal/db"
	"github.com/banshee-data/skelly.rig/internal/errkind"
	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/pipeline"
	"github.com/banshee-data/skelly.rig/internal/recording"
	"github.com/banshee-data/skelly.rig/internal/report"
	"github.com/banshee-data/skelly.rig/internal/security"
	"github.com/banshee-data/skelly.rig/internal/version"
)

var (
	recordingDir = flag.String("recording", "", "Directory holding the marker trajectory .npy files")
	configPath   = flag.String("config", "", "Pipeline config JSON (default: built-in defaults)")
	dbPath       = flag.String("db", "", "SQLite database to record runs in (optional)")
	outDir       = flag.String("out", "", "Output directory (default: the recording directory)")
	plots        = flag.Bool("plots", false, "Write per-segment length plots")
	charts       = flag.Bool("charts", false, "Write HTML stage, timing and segment charts")
	debugListen  = flag.String("debug-listen", "", "Serve the run database debug pages on this address after the run (requires -db)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	Recording   string
	ConfigPath  string
	DBPath      string
	OutDir      string
	Plots       bool
	Charts      bool
	DebugListen string
	FS          fsutil.FileSystem // default: fsutil.OSFileSystem
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *recordingDir == "" {
		log.Fatal("-recording is required")
	}
	if *debugListen != "" && *dbPath == "" {
		log.Fatal("-debug-listen requires -db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		Recording:   *recordingDir,
		ConfigPath:  *configPath,
		DBPath:      *dbPath,
		OutDir:      *outDir,
		Plots:       *plots,
		Charts:      *charts,
		DebugListen: *debugListen,
	})
	if err != nil {
		if stage := errkind.Stage(err); stage != "" {
			log.Fatalf("run failed at %s: %v", stage, err)
		}
		log.Fatalf("run failed: %v", err)
	}
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		return config.DefaultPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(path)
}

func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fsys := o.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	out := o.OutDir
	if out == "" {
		out = o.Recording
	}
	if err := fsys.MkdirAll(out, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	pc := pipeline.Config{Pipeline: cfg, FS: fsys}
	var database *db.DB
	if o.DBPath != "" {
		database, err = db.NewDB(o.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		pc.Sink = db.NewRunStore(database.DB)
	}

	monitoring.Logf("[Main] %s", version.String())
	res, runErr := pc.Run(ctx, o.Recording)
	if res != nil && o.Charts {
		if err := writeCharts(fsys, res, cfg, out); err != nil {
			monitoring.Logf("[Main] failed to write charts: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	files, err := writeOutputs(fsys, res, out, o.Plots)
	if err != nil {
		return err
	}
	for _, f := range files {
		monitoring.Logf("[Main] wrote %s", f)
	}

	if o.DebugListen != "" && database != nil {
		return serveDebug(ctx, database, o.DebugListen)
	}
	return nil
}

func baseName(res *pipeline.Result) string {
	return security.SanitizeFilename(filepath.Base(filepath.Clean(res.Recording)))
}

// writeFile renders fn into memory and writes path only if rendering
// succeeds.
func writeFile(fsys fsutil.FileSystem, path string, fn func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fsys.WriteFile(path, buf.Bytes(), 0644)
}

// writeKeypoints writes the processed trajectories as a .npy matrix with
// a JSON manifest naming its columns.
func writeKeypoints(fsys fsutil.FileSystem, res *pipeline.Result, out, base string) ([]string, error) {
	npyPath := filepath.Join(out, base+"_keypoints.npy")
	var manifest *recording.Manifest
	err := writeFile(fsys, npyPath, func(w io.Writer) error {
		var err error
		manifest, err = recording.Encode(w, res.Keypoints)
		return err
	})
	if err != nil {
		return nil, err
	}
	jsonPath := filepath.Join(out, base+"_keypoints.json")
	err = writeFile(fsys, jsonPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	})
	if err != nil {
		return []string{npyPath}, err
	}
	return []string{npyPath, jsonPath}, nil
}

// writeOutputs writes the rig description, the bone table, the processed
// keypoints, baked joint angles when present and optionally the length
// plots. It returns the written paths.
func writeOutputs(fsys fsutil.FileSystem, res *pipeline.Result, out string, withPlots bool) ([]string, error) {
	base := baseName(res)
	var files []string

	rigPath := filepath.Join(out, base+"_rig.json")
	if err := writeFile(fsys, rigPath, res.Rig.WriteJSON); err != nil {
		return files, err
	}
	files = append(files, rigPath)

	bonesPath := filepath.Join(out, base+"_bones.csv")
	err := writeFile(fsys, bonesPath, func(w io.Writer) error { return report.WriteBoneCSV(w, res.Rig.Bones()) })
	if err != nil {
		return files, err
	}
	files = append(files, bonesPath)

	written, err := writeKeypoints(fsys, res, out, base)
	files = append(files, written...)
	if err != nil {
		return files, err
	}

	if baked := res.Rig.Baked(); len(baked) > 0 {
		anglesPath := filepath.Join(out, base+"_joint_angles.csv")
		err := writeFile(fsys, anglesPath, func(w io.Writer) error { return report.WriteJointAngleCSV(w, res.Rig, baked) })
		if err != nil {
			return files, err
		}
		files = append(files, anglesPath)
	}

	if withPlots {
		lp := report.NewLengthPlotter(filepath.Join(out, base+"_plots"))
		lp.FS = fsys
		plotted, err := lp.Write(res.Keypoints, res.Rig.Definitions())
		files = append(files, plotted...)
		if err != nil {
			return files, err
		}
	}
	return files, nil
}

func writeCharts(fsys fsutil.FileSystem, res *pipeline.Result, cfg *config.PipelineConfig, out string) error {
	base := baseName(res)
	var errs []error
	if res.Stages != nil && len(res.Stages.Names()) > 0 {
		errs = append(errs, writeFile(fsys, filepath.Join(out, base+"_stages.html"), func(w io.Writer) error {
			return report.RenderStageChart(w, res.Stages, cfg.GetFrameRate(), cfg.GetSpeedUnits())
		}))
	}
	errs = append(errs, writeFile(fsys, filepath.Join(out, base+"_timings.html"), func(w io.Writer) error {
		return report.RenderTimingChart(w, res.Timings)
	}))
	if res.Rig != nil && len(res.Rig.Definitions()) > 0 {
		errs = append(errs, writeFile(fsys, filepath.Join(out, base+"_segments.html"), func(w io.Writer) error {
			return report.RenderSegmentChart(w, "Segment lengths ("+base+")", res.Rig.Definitions())
		}))
	}
	return errors.Join(errs...)
}

func serveDebug(ctx context.Context, database *db.DB, addr string) error {
	mux := http.NewServeMux()
	// accessible only from localhost or over Tailscale
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[Main] debug pages on http://%s/debug/", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("debug server shutdown: %w", err)
	}
	return nil
}
