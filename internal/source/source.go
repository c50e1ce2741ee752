// Package source yields classified frames from the detector.
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/showgayaki/camenashi-kun/internal/frame"
)

// FrameSource is a blocking, ordered stream of classified frames.
// Next returns io.EOF when the stream ends.
type FrameSource interface {
	Next(ctx context.Context) (frame.Event, error)
	Close() error
}

// Error is an I/O failure of the frame source.
type Error struct {
	Op         string
	StderrTail string
	Err        error
}

func (e *Error) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("source %s: %v (stderr: %s)", e.Op, e.Err, e.StderrTail)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SliceSource replays a fixed list of events, then returns io.EOF.
type SliceSource struct {
	events []frame.Event
	pos    int
	// OnEnd, when set, is returned instead of io.EOF after the last event.
	OnEnd error
}

func NewSliceSource(events ...frame.Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (frame.Event, error) {
	if err := ctx.Err(); err != nil {
		return frame.Event{}, err
	}
	if s.pos >= len(s.events) {
		if s.OnEnd != nil {
			return frame.Event{}, s.OnEnd
		}
		return frame.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	if ev.Seq == 0 {
		ev.Seq = uint64(s.pos)
	}
	return ev, nil
}

func (s *SliceSource) Close() error {
	return nil
}
