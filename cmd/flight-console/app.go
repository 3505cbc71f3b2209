package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/config"
	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// poller is the part of the poll loop the console drives.
type poller interface {
	Latest() *tracking.Snapshot
	Updates() <-chan *tracking.Snapshot
	Trigger()
}

// App is the console application
type App struct {
	name    string
	loop    poller
	station *coordinates.Geographic

	// UI components
	tviewApp  *tview.Application
	tracks    *tview.List
	telemetry *tview.TextView
	status    *tview.TextView
	logs      *LogPane

	// State, only touched from the UI goroutine
	snapshot *tracking.Snapshot
	selected string
	updating bool
}

// NewApp creates the console for loop, showing log lines from logs.
// station may be nil.
func NewApp(name string, loop poller, logs *logging.Buffer, station *config.StationConfig) *App {
	a := &App{
		name: name,
		loop: loop,
		logs: NewLogPane(logs, 200),
	}
	if station != nil {
		a.station = &coordinates.Geographic{
			Latitude:  station.Latitude,
			Longitude: station.Longitude,
			Altitude:  station.Elevation,
		}
	}
	a.setupUI()
	a.apply(loop.Latest(), time.Now())
	return a
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.tracks = tview.NewList().ShowSecondaryText(true)
	a.tracks.SetBorder(true).SetTitle(" Tracks ")
	a.tracks.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if a.updating {
			return
		}
		a.selected = mainText
		a.updateTelemetry(time.Now())
	})

	a.telemetry = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.telemetry.SetBorder(true).SetTitle(" Telemetry ")

	a.status = tview.NewTextView().SetDynamicColors(true)

	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.tracks, 0, 3, true).
		AddItem(a.telemetry, 0, 7, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.status, 1, 0, false).
		AddItem(top, 0, 6, true).
		AddItem(a.logs.GetView(), 0, 4, false)

	a.tviewApp.SetRoot(root, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

// Run drives the console until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.watch(ctx)
	return a.tviewApp.Run()
}

// QueueLogRefresh schedules a redraw of the log pane. Safe from any goroutine.
func (a *App) QueueLogRefresh() {
	go a.tviewApp.QueueUpdateDraw(a.logs.Refresh)
}

func (a *App) watch(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.tviewApp.Stop()
			return
		case snapshot := <-a.loop.Updates():
			a.tviewApp.QueueUpdateDraw(func() {
				a.apply(snapshot, time.Now())
			})
		case now := <-ticker.C:
			a.tviewApp.QueueUpdateDraw(func() {
				a.updateTelemetry(now)
			})
		}
	}
}

// handleKeyboard handles keyboard input
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
		a.tviewApp.Stop()
		return nil
	case event.Rune() == 'r':
		a.loop.Trigger()
		return nil
	}
	return event
}

// apply replaces the displayed snapshot, keeping the selected callsign.
func (a *App) apply(snapshot *tracking.Snapshot, now time.Time) {
	if snapshot == nil {
		a.updateTelemetry(now)
		return
	}
	a.snapshot = snapshot

	a.updating = true
	a.tracks.Clear()
	current := 0
	for i, view := range snapshot.Tracks {
		a.tracks.AddItem(view.Callsign, trackLine(view), 0, nil)
		if view.Callsign == a.selected {
			current = i
		}
	}
	if len(snapshot.Tracks) > 0 {
		a.tracks.SetCurrentItem(current)
		a.selected = snapshot.Tracks[current].Callsign
	}
	a.updating = false

	a.status.SetText(fmt.Sprintf("[::b]%s[::-]  tick %d  %s  [gray]%d tracks, %d packets  r: poll now  q: quit[-]",
		tview.Escape(strings.ToUpper(a.name)), snapshot.Tick, snapshot.Time.Format("15:04:05"),
		len(snapshot.Tracks), snapshot.PacketCount()))
	a.updateTelemetry(now)
}

func (a *App) updateTelemetry(now time.Time) {
	if a.snapshot == nil {
		a.telemetry.SetText("[gray]Waiting for the first poll...[-]")
		return
	}
	view, ok := a.snapshot.Track(a.selected)
	if !ok {
		a.telemetry.SetText("[gray]No tracks yet[-]")
		return
	}
	a.telemetry.SetText(telemetryText(view, now, a.station))
}

// trackLine is the secondary text of a track list entry.
func trackLine(view *tracking.TrackView) string {
	line := fmt.Sprintf("[%s]%s[-]", phaseColor(view.Phase()), strings.ToUpper(view.Phase().String()))
	if last, ok := view.Last(); ok && last.Altitude.Valid {
		line += fmt.Sprintf(" %.0f m", last.Altitude.Meters)
	}
	return line
}

func phaseColor(p tracking.Phase) string {
	switch p {
	case tracking.PhaseAscending:
		return "green"
	case tracking.PhaseFloating:
		return "aqua"
	case tracking.PhaseDescending:
		return "orange"
	case tracking.PhaseLanded:
		return "gray"
	default:
		return "white"
	}
}

func telemetryText(view *tracking.TrackView, now time.Time, station *coordinates.Geographic) string {
	s := view.Summary
	last, _ := view.Last()

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%s[-]  [%s]%s[-]", tview.Escape(view.Callsign),
		phaseColor(view.Phase()), strings.ToUpper(view.Phase().String()))
	if view.Classification.DescentOnly {
		b.WriteString(" [gray](descent only)[-]")
	}
	b.WriteString("\n\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "[gray]%-13s[-] [white]%s[-]\n", label+":", value)
	}
	row("Last packet", fmt.Sprintf("%s (%s ago) via %s", last.Time.Format("15:04:05"),
		now.Sub(last.Time).Round(time.Second), tview.Escape(last.Source)))
	row("Position", last.Position.String())
	if s.HasAltitude {
		row("Altitude", fmt.Sprintf("%.0f m (max %.0f m)", s.CurrentAltitude, s.MaxAltitude))
	}
	row("Packets", fmt.Sprintf("%d, mean interval %s", s.Packets, s.MeanInterval.Round(time.Second)))
	if s.MeanAscentRate > 0 {
		row("Ascent", fmt.Sprintf("%.2f m/s", s.MeanAscentRate))
	}
	if s.MeanDescentRate < 0 {
		row("Descent", fmt.Sprintf("%.2f m/s", s.MeanDescentRate))
	}
	row("Ground speed", fmt.Sprintf("%.1f m/s over %.1f km", s.MeanGroundSpeed, s.Distance/1000))
	if s.Falling {
		row("Free fall", fmt.Sprintf("[red]%s to ground[-]", s.TimeToGround.Round(time.Second)))
	}
	if s.HasLanding {
		landing, _ := view.Prediction.Landing()
		row("Landing", fmt.Sprintf("%s at %s, %.1f km at %.0f°", landing.Position,
			landing.Time.Format("15:04"), s.LandingDistance/1000, s.LandingBearing))
	}
	if station != nil && s.HasAltitude {
		look := coordinates.LookAngleFrom(*station, coordinates.Geographic{
			Latitude:  last.Position.Latitude,
			Longitude: last.Position.Longitude,
			Altitude:  s.CurrentAltitude,
		})
		row("Antenna", fmt.Sprintf("az %.1f° el %.1f°, %.1f km", look.Azimuth, look.Elevation, look.SlantRange/1000))
	}
	return b.String()
}
