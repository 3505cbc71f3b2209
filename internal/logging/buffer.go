package logging

import (
	"strings"
	"sync"
)

// Buffer keeps the most recent log lines in memory for the terminal UIs.
// It is an io.Writer and safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial string
	notify  func()
}

// NewBuffer creates a buffer holding up to size lines.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 500
	}
	return &Buffer{max: size}
}

// OnWrite registers fn to be called after each write that completes a line.
func (b *Buffer) OnWrite(fn func()) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	text := b.partial + string(p)
	parts := strings.Split(text, "\n")
	b.partial = parts[len(parts)-1]
	complete := parts[:len(parts)-1]
	b.lines = append(b.lines, complete...)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
	}
	notify := b.notify
	b.mu.Unlock()

	if notify != nil && len(complete) > 0 {
		notify()
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Tail returns up to n of the most recent lines.
func (b *Buffer) Tail(n int) []string {
	lines := b.Lines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
