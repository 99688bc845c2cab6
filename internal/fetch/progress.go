// Package fetch implements the download pipeline: upload selection,
// streaming disk writes, and the bounded-concurrency worker pool.
package fetch

import (
	"log/slog"
	"sync"
)

// ProgressSink receives progress for a single in-flight download. Each
// unit of work owns exactly one sink; implementations must be safe to
// call from the unit's goroutine while a display reads them.
type ProgressSink interface {
	// SetTotal declares the expected byte count, 0 when unknown.
	SetTotal(n int64)
	// Advance moves the position forward by n bytes.
	Advance(n int64)
	// SetMessage updates the status text.
	SetMessage(msg string)
	// Finish marks the sink terminal with a final message. Later
	// SetMessage/Finish calls may still update the text (a download
	// can finish and then report extraction).
	Finish(msg string)
}

// Tracker is a mutex-guarded ProgressSink meant to be polled by a
// display. Workers write through the sink methods; the UI reads
// consistent Snapshot values on its own tick.
type Tracker struct {
	mu      sync.Mutex
	title   string
	total   int64
	pos     int64
	message string
	done    bool
}

// NewTracker creates a tracker labeled with a display title.
func NewTracker(title string) *Tracker {
	return &Tracker{title: title}
}

// Title returns the display label given at construction.
func (t *Tracker) Title() string { return t.title }

func (t *Tracker) SetTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = n
}

func (t *Tracker) Advance(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos += n
}

func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
}

func (t *Tracker) Finish(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.done = true
}

// Snapshot is a point-in-time copy of a tracker's state.
type Snapshot struct {
	Title   string
	Total   int64
	Pos     int64
	Message string
	Done    bool
}

// Snapshot returns a consistent copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Title:   t.title,
		Total:   t.total,
		Pos:     t.pos,
		Message: t.message,
		Done:    t.done,
	}
}

// LogSink is a ProgressSink for non-interactive runs. It stays quiet
// for per-chunk updates and logs status changes only.
type LogSink struct {
	Logger *slog.Logger
	Name   string
}

func (s *LogSink) SetTotal(n int64) {}
func (s *LogSink) Advance(n int64)  {}

func (s *LogSink) SetMessage(msg string) {
	s.Logger.Debug(msg, "item", s.Name)
}

func (s *LogSink) Finish(msg string) {
	s.Logger.Info(msg, "item", s.Name)
}
