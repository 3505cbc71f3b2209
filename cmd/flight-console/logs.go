package main

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/unklstewy/balloonscope/internal/logging"
)

// LogPane renders the tail of the log buffer with colour-coded levels.
type LogPane struct {
	textView *tview.TextView
	buffer   *logging.Buffer
	maxLines int
}

// NewLogPane creates a log pane showing up to maxLines lines of buffer.
func NewLogPane(buffer *logging.Buffer, maxLines int) *LogPane {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxLines)
	textView.SetBorder(true).SetTitle(" Logs ")

	return &LogPane{textView: textView, buffer: buffer, maxLines: maxLines}
}

// GetView returns the tview component
func (lp *LogPane) GetView() tview.Primitive {
	return lp.textView
}

// Refresh redraws the pane from the buffer. Call from the UI goroutine.
func (lp *LogPane) Refresh() {
	lp.textView.Clear()
	fmt.Fprint(lp.textView, formatLines(lp.buffer.Tail(lp.maxLines)))
	lp.textView.ScrollToEnd()
}

func formatLines(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "[%s]%s[-]\n", colorForLine(line), tview.Escape(line))
	}
	return b.String()
}

// colorForLine returns the tview color tag for a slog text or JSON line.
func colorForLine(line string) string {
	switch {
	case strings.Contains(line, "level=ERROR"), strings.Contains(line, `"level":"ERROR"`):
		return "red"
	case strings.Contains(line, "level=WARN"), strings.Contains(line, `"level":"WARN"`):
		return "yellow"
	case strings.Contains(line, "level=DEBUG"), strings.Contains(line, `"level":"DEBUG"`):
		return "gray"
	default:
		return "white"
	}
}
