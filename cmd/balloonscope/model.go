package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// poller is the part of the poll loop the UI drives.
type poller interface {
	Latest() *tracking.Snapshot
	Updates() <-chan *tracking.Snapshot
	Trigger()
}

type model struct {
	name     string
	loop     poller
	logs     *logging.Buffer
	snapshot *tracking.Snapshot

	// tab 0 is the log view; tab i > 0 is snapshot.Tracks[i-1]
	tab      int
	callsign string

	width  int
	height int
	now    time.Time
}

type snapshotMsg *tracking.Snapshot

type logMsg struct{}

type clockMsg time.Time

func newModel(name string, loop poller, logs *logging.Buffer) model {
	return model{
		name:     name,
		loop:     loop,
		logs:     logs,
		snapshot: loop.Latest(),
		width:    100,
		height:   30,
		now:      time.Now(),
	}
}

func waitForSnapshot(loop poller) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-loop.Updates())
	}
}

func clock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.loop), clock())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			m.loop.Trigger()
		case "right", "l", "tab":
			m = m.selectTab(m.tab + 1)
		case "left", "h", "shift+tab":
			m = m.selectTab(m.tab - 1)
		case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
			m = m.selectTab(int(msg.String()[0] - '0'))
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.snapshot = msg
		m = m.followCallsign()
		return m, waitForSnapshot(m.loop)

	case clockMsg:
		m.now = time.Time(msg)
		return m, clock()

	case logMsg:
		return m, nil
	}
	return m, nil
}

func (m model) tabCount() int {
	if m.snapshot == nil {
		return 1
	}
	return len(m.snapshot.Tracks) + 1
}

// selectTab moves to tab i, wrapping around.
func (m model) selectTab(i int) model {
	n := m.tabCount()
	m.tab = ((i % n) + n) % n
	m.callsign = ""
	if view := m.currentTrack(); view != nil {
		m.callsign = view.Callsign
	}
	return m
}

// followCallsign keeps the selected callsign selected when tracks are
// added before it.
func (m model) followCallsign() model {
	if m.callsign == "" || m.snapshot == nil {
		if m.tab >= m.tabCount() {
			m.tab = 0
		}
		return m
	}
	for i, view := range m.snapshot.Tracks {
		if view.Callsign == m.callsign {
			m.tab = i + 1
			return m
		}
	}
	m.tab = 0
	m.callsign = ""
	return m
}

func (m model) currentTrack() *tracking.TrackView {
	if m.tab == 0 || m.snapshot == nil || m.tab > len(m.snapshot.Tracks) {
		return nil
	}
	return m.snapshot.Tracks[m.tab-1]
}
