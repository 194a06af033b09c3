// Package report renders diagnostics for a reconstruction run: per-frame
// segment length plots, HTML charts and CSV exports of the rig.
package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/skelly.rig/internal/fsutil"
	"github.com/banshee-data/skelly.rig/internal/monitoring"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/skeleton"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
)

// LengthPlotter draws the recorded parent→child distance of every segment
// frame by frame, with its rigid length as a dashed line, one PNG per body
// side.
type LengthPlotter struct {
	OutputDir string
	Width     vg.Length
	Height    vg.Length
	Workers   int
	FS        fsutil.FileSystem // default: fsutil.OSFileSystem
}

// NewLengthPlotter returns a plotter writing 14x6 inch images to dir.
func NewLengthPlotter(dir string) *LengthPlotter {
	return &LengthPlotter{OutputDir: dir, Width: 14 * vg.Inch, Height: 6 * vg.Inch}
}

// Write renders the plots and returns the written file paths. Groups with
// no segments are skipped.
func (lp *LengthPlotter) Write(store *trajectory.Store, defs rigid.Definitions) ([]string, error) {
	fsys := lp.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(lp.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	groups := map[skeleton.Side]rigid.Definitions{}
	for _, d := range defs {
		side := skeleton.SideOf(d.Segment)
		groups[side] = append(groups[side], d)
	}

	var files []string
	for _, side := range []skeleton.Side{skeleton.Axial, skeleton.Left, skeleton.Right} {
		group := groups[side]
		if len(group) == 0 {
			continue
		}
		p, err := lp.plotGroup(side, group, store)
		if err != nil {
			return files, err
		}
		path := filepath.Join(lp.OutputDir, fmt.Sprintf("segment_lengths_%s.png", side))
		wt, err := p.WriterTo(lp.Width, lp.Height, "png")
		if err != nil {
			return files, fmt.Errorf("render %s plot: %w", side, err)
		}
		var buf bytes.Buffer
		if _, err := wt.WriteTo(&buf); err != nil {
			return files, fmt.Errorf("render %s plot: %w", side, err)
		}
		if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return files, fmt.Errorf("save %s plot: %w", side, err)
		}
		files = append(files, path)
	}
	monitoring.Logf("[Report] wrote %d length plots to %s", len(files), lp.OutputDir)
	return files, nil
}

func (lp *LengthPlotter) plotGroup(side skeleton.Side, defs rigid.Definitions, store *trajectory.Store) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Segment lengths (%s)", side)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Distance (m)"

	colors := Palette(len(defs))
	for i, d := range defs {
		parent, err := store.Lookup(d.ParentTrajectory)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", d.Segment, err)
		}
		child, err := store.Lookup(d.ChildTrajectory)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", d.Segment, err)
		}
		dist := rigid.Distances(parent, child, lp.Workers)

		pts := make(plotter.XYs, 0, len(dist))
		for f, v := range dist {
			if !math.IsNaN(v) {
				pts = append(pts, plotter.XY{X: float64(f), Y: v})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("create line for %s: %w", d.Segment, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(d.Segment, line)

		rigidLine, err := plotter.NewLine(plotter.XYs{{X: 0, Y: d.Length}, {X: float64(len(dist) - 1), Y: d.Length}})
		if err != nil {
			return nil, fmt.Errorf("create rigid line for %s: %w", d.Segment, err)
		}
		rigidLine.Color = colors[i]
		rigidLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(rigidLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// Palette returns n evenly spaced hues.
func Palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		colors[i] = colorful.Hsl(360*float64(i)/float64(n), 0.7, 0.5).Clamped()
	}
	return colors
}
