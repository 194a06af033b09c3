package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/skelly.rig/internal/pipeline"
	"github.com/banshee-data/skelly.rig/internal/rigid"
	"github.com/banshee-data/skelly.rig/internal/trajectory"
	"github.com/banshee-data/skelly.rig/internal/units"
)

// RenderSegmentChart writes an HTML bar chart of rigid segment lengths and
// their per-frame standard deviation.
func RenderSegmentChart(w io.Writer, title string, defs rigid.Definitions) error {
	x := make([]string, len(defs))
	lengths := make([]opts.BarData, len(defs))
	spreads := make([]opts.BarData, len(defs))
	for i, d := range defs {
		x[i] = d.Segment
		lengths[i] = opts.BarData{Value: d.Length}
		spreads[i] = opts.BarData{Value: d.StdDev}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("segments=%d", len(defs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 60, Interval: "0"}}),
	)
	bar.SetXAxis(x).
		AddSeries("length", lengths).
		AddSeries("std dev", spreads)
	return renderPage(w, bar)
}

// RenderStageChart writes an HTML chart of trajectory counts, non-finite
// points and marker mean speed for every recorded stage. Speeds are shown in
// speedUnits (see units.ConvertSpeed).
func RenderStageChart(w io.Writer, stages *trajectory.Stages, fps float64, speedUnits string) error {
	names := stages.Names()
	counts := make([]opts.BarData, len(names))
	nonFinite := make([]opts.BarData, len(names))
	speeds := make([]opts.BarData, len(names))
	for i, name := range names {
		s, _ := stages.Get(name)
		missing := 0
		for _, cs := range s.Stats(fps) {
			missing += cs.NonFinite
		}
		counts[i] = opts.BarData{Value: s.Len()}
		nonFinite[i] = opts.BarData{Value: missing}
		speeds[i] = opts.BarData{Value: MeanSpeed(s, fps, speedUnits)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Processing stages", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Processing stages"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("trajectories", counts, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("non-finite points", nonFinite).
		AddSeries(fmt.Sprintf("mean speed (%s)", speedUnits), speeds)
	return renderPage(w, bar)
}

// MeanSpeed returns the marker-weighted mean speed of s in speedUnits.
func MeanSpeed(s *trajectory.Store, fps float64, speedUnits string) float64 {
	markers, sum := 0, 0.0
	for _, cs := range s.Stats(fps) {
		markers += cs.Markers
		sum += cs.MeanSpeed * float64(cs.Markers)
	}
	if markers == 0 {
		return 0
	}
	return units.ConvertSpeed(sum/float64(markers), speedUnits)
}

// RenderTimingChart writes an HTML chart of stage durations in
// milliseconds.
func RenderTimingChart(w io.Writer, timings []pipeline.StageTiming) error {
	x := make([]string, len(timings))
	y := make([]opts.BarData, len(timings))
	for i, st := range timings {
		x[i] = st.Stage
		y[i] = opts.BarData{Value: float64(st.Duration.Microseconds()) / 1000}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stage timings", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stage timings"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(x).AddSeries("duration", y, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return renderPage(w, bar)
}

func renderPage(w io.Writer, c *charts.Bar) error {
	page := components.NewPage()
	page.AddCharts(c)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
