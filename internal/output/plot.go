package output

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// PlotWriter renders an HTML page with altitude and vertical rate charts
// for every track, including predicted altitudes.
type PlotWriter struct {
	Path string

	lastState map[string]uint64
}

// NewPlotWriter creates a plot writer for path.
func NewPlotWriter(path string) *PlotWriter {
	return &PlotWriter{Path: path}
}

func (w *PlotWriter) Name() string { return "plot" }

// Write implements the snapshot writer contract.
func (w *PlotWriter) Write(ctx context.Context, snapshot *tracking.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := make(map[string]uint64, len(snapshot.Tracks))
	changed := len(snapshot.Tracks) != len(w.lastState)
	for _, view := range snapshot.Tracks {
		state[view.Callsign] = view.Version
		if w.lastState[view.Callsign] != view.Version {
			changed = true
		}
	}
	if !changed && w.lastState != nil {
		return nil
	}

	var buf bytes.Buffer
	if err := RenderPlot(&buf, snapshot); err != nil {
		return err
	}
	if err := writeFileAtomic(w.Path, buf.Bytes()); err != nil {
		return err
	}
	w.lastState = state
	return nil
}

// RenderPlot writes the chart page for snapshot to buf.
func RenderPlot(buf *bytes.Buffer, snapshot *tracking.Snapshot) error {
	subtitle := snapshot.Time.UTC().Format(time.RFC3339)

	altitude := charts.NewLine()
	altitude.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "balloonscope", Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: "Altitude", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Altitude (m)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	rate := charts.NewLine()
	rate.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vertical rate", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Rate (m/s)"}),
	)

	for _, view := range snapshot.Tracks {
		altitudes := make([]opts.LineData, 0, len(view.Packets))
		for _, p := range view.Packets {
			if !p.Altitude.Valid {
				continue
			}
			altitudes = append(altitudes, opts.LineData{Value: []interface{}{p.Time.UnixMilli(), p.Altitude.Meters}})
		}
		altitude.AddSeries(view.Callsign, altitudes)

		if view.Prediction != nil {
			predicted := make([]opts.LineData, 0, len(view.Prediction.Samples))
			for _, s := range view.Prediction.Samples {
				predicted = append(predicted, opts.LineData{Value: []interface{}{s.Time.UnixMilli(), s.Altitude}})
			}
			altitude.AddSeries(view.Callsign+" predicted", predicted,
				charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
		}

		rates := make([]opts.LineData, 0, len(view.Metrics))
		for i, m := range view.Metrics {
			if !m.HasAltitude {
				continue
			}
			rates = append(rates, opts.LineData{Value: []interface{}{view.Packets[i+1].Time.UnixMilli(), m.AscentRate}})
		}
		rate.AddSeries(view.Callsign, rates)
	}

	page := components.NewPage()
	page.PageTitle = "balloonscope"
	page.AddCharts(altitude, rate)
	if err := page.Render(buf); err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	return nil
}
