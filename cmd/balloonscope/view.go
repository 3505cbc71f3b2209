package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/balloonscope/pkg/tracking"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Background(lipgloss.Color("235")).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Background(lipgloss.Color("237")).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func phaseStyle(p tracking.Phase) lipgloss.Style {
	switch p {
	case tracking.PhaseAscending:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	case tracking.PhaseFloating:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	case tracking.PhaseDescending:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	case tracking.PhaseLanded:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	}
}

func (m model) View() string {
	var s strings.Builder

	title := strings.ToUpper(m.name)
	if m.snapshot != nil {
		title += fmt.Sprintf("  tick %d  %s", m.snapshot.Tick, m.snapshot.Time.Format("15:04:05"))
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	// Title, tabs, blank line and help
	body := m.height - 5
	if view := m.currentTrack(); view != nil {
		s.WriteString(m.renderTrack(view, body))
	} else {
		s.WriteString(m.renderLog(body))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("←/→: switch tab  r: poll now  q/esc: quit"))
	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Log"}
	if m.snapshot != nil {
		for _, view := range m.snapshot.Tracks {
			tabs = append(tabs, view.Callsign)
		}
	}
	rendered := make([]string, len(tabs))
	for i, name := range tabs {
		if i == m.tab {
			rendered[i] = activeTabStyle.Render(name)
		} else {
			rendered[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderLog(height int) string {
	if height < 1 {
		height = 1
	}
	lines := m.logs.Tail(height)
	if len(lines) == 0 {
		return helpStyle.Render("  Waiting for packets...")
	}
	var s strings.Builder
	for _, line := range lines {
		line = truncate(line, m.width)
		switch {
		case strings.Contains(line, "level=ERROR"):
			line = errStyle.Render(line)
		case strings.Contains(line, "level=WARN"):
			line = warnStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return s.String()
}

func (m model) renderTrack(view *tracking.TrackView, height int) string {
	summary := panelStyle.Render(m.renderSummary(view))
	rows := height - lipgloss.Height(summary) - 3
	if rows < 3 {
		rows = 3
	}
	return lipgloss.JoinVertical(lipgloss.Left, summary, "", m.renderPackets(view, rows))
}

func (m model) renderSummary(view *tracking.TrackView) string {
	s := view.Summary
	var b strings.Builder

	b.WriteString(headerStyle.Render(view.Callsign))
	b.WriteString("  ")
	b.WriteString(phaseStyle(view.Phase()).Render(strings.ToUpper(view.Phase().String())))
	if view.Classification.DescentOnly {
		b.WriteString(labelStyle.Render("  (descent only)"))
	}
	b.WriteString("\n")

	last, _ := view.Last()
	age := m.now.Sub(last.Time).Round(time.Second)
	field(&b, "Last packet", fmt.Sprintf("%s (%s ago) via %s", last.Time.Format("15:04:05"), age, last.Source))
	field(&b, "Position", last.Position.String())
	if s.HasAltitude {
		field(&b, "Altitude", fmt.Sprintf("%.0f m  (max %.0f m)", s.CurrentAltitude, s.MaxAltitude))
	}
	field(&b, "Packets", fmt.Sprintf("%d  every %s on average", s.Packets, s.MeanInterval.Round(time.Second)))
	if s.MeanAscentRate > 0 {
		field(&b, "Ascent rate", fmt.Sprintf("%.2f m/s (σ %.2f)", s.MeanAscentRate, s.AscentRateStdDev))
	}
	if s.MeanDescentRate < 0 {
		field(&b, "Descent rate", fmt.Sprintf("%.2f m/s", s.MeanDescentRate))
	}
	field(&b, "Ground speed", fmt.Sprintf("%.1f m/s  over %.1f km", s.MeanGroundSpeed, s.Distance/1000))
	if s.Falling {
		field(&b, "Free fall", warnStyle.Render(fmt.Sprintf("%s to ground", s.TimeToGround.Round(time.Second))))
	}
	if ext, ok := view.Extrapolate(m.now); ok && ext.Confidence < 1 && ext.Confidence > 0 {
		field(&b, "Estimated now", fmt.Sprintf("%s  %.0f m  (%.0f%%)", ext.Position, ext.Altitude, ext.Confidence*100))
	}
	if s.HasLanding {
		landing, _ := view.Prediction.Landing()
		field(&b, "Landing", fmt.Sprintf("%s at %s, %.1f km at %.0f°",
			landing.Position, landing.Time.Format("15:04"), s.LandingDistance/1000, s.LandingBearing))
	}
	return strings.TrimRight(b.String(), "\n")
}

func field(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
	b.WriteString(value)
	b.WriteString("\n")
}

func (m model) renderPackets(view *tracking.TrackView, rows int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s  %10s  %11s  %8s  %8s  %7s  %s",
		"Time", "Latitude", "Longitude", "Alt m", "Rate m/s", "Spd m/s", "Source")))
	b.WriteString("\n")

	start := max(len(view.Packets)-rows, 0)
	// Newest first
	for i := len(view.Packets) - 1; i >= start; i-- {
		p := view.Packets[i]
		alt, rate, speed := "-", "-", "-"
		if p.Altitude.Valid {
			alt = fmt.Sprintf("%.0f", p.Altitude.Meters)
		}
		if metrics, ok := view.MetricsBefore(i); ok {
			speed = fmt.Sprintf("%.1f", metrics.GroundSpeed)
			if metrics.HasAltitude {
				rate = fmt.Sprintf("%+.2f", metrics.AscentRate)
			}
		}
		line := fmt.Sprintf("%-8s  %10.5f  %11.5f  %8s  %8s  %7s  %s",
			p.Time.Format("15:04:05"), p.Position.Latitude, p.Position.Longitude, alt, rate, speed, p.Source)
		b.WriteString(truncate(line, m.width))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width {
		r = r[:width]
	}
	return string(r)
}
