// Package recording writes a confirmed incident to a timestamped video
// file, plus a JPEG snapshot of the frame that confirmed it.
package recording

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/logging"
)

const (
	// TimeLayout names recordings YYYYmmdd-HHMMSS.
	TimeLayout      = "20060102-150405"
	VideoExt        = ".mp4"
	ImageExt        = ".jpg"
	snapshotQuality = 85
)

// Error is an I/O failure while opening, writing or closing a recording.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recording %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FrameWriter receives packed BGR24 frames.
type FrameWriter interface {
	WriteFrame(pix []byte) error
	Close() error
}

// Encoder starts a video file.
type Encoder interface {
	Start(path string, width, height int, fps float64) (FrameWriter, error)
}

// Clip is a closed recording.
type Clip struct {
	VideoPath string
	ImagePath string
	StartedAt time.Time
	EndedAt   time.Time
	FPS       float64
	Frames    int
}

// Session is an open recording.
type Session interface {
	Path() string
	Write(f *frame.Frame) error
	Close() (Clip, error)
	// Abort closes the writer and removes whatever was written.
	Abort() error
}

// Controller opens recording sessions in a directory.
type Controller struct {
	dir     string
	encoder Encoder
	now     func() time.Time
	logger  *slog.Logger
}

func NewController(dir string, encoder Encoder, logger *slog.Logger) *Controller {
	return &Controller{
		dir:     dir,
		encoder: encoder,
		now:     time.Now,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "recording"),
	}
}

// Dir returns the directory recordings are written to.
func (c *Controller) Dir() string {
	return c.dir
}

// Open starts a session sized to first. first is snapshotted but not
// written; the caller writes subsequent frames.
func (c *Controller) Open(first *frame.Frame, fps float64) (Session, error) {
	if first == nil {
		return nil, &Error{Op: "open", Path: c.dir, Err: errors.New("no frame")}
	}
	if fps <= 0 {
		return nil, &Error{Op: "open", Path: c.dir, Err: fmt.Errorf("invalid fps %v", fps)}
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, &Error{Op: "open", Path: c.dir, Err: err}
	}

	started := c.now()
	path, err := c.nextPath(started)
	if err != nil {
		return nil, &Error{Op: "open", Path: c.dir, Err: err}
	}

	w, err := c.encoder.Start(path, first.Width, first.Height, fps)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	s := &session{
		path:    path,
		width:   first.Width,
		height:  first.Height,
		fps:     fps,
		started: started,
		writer:  w,
		now:     c.now,
		logger:  c.logger,
	}

	imagePath := path[:len(path)-len(VideoExt)] + ImageExt
	if err := first.WriteJPEG(imagePath, snapshotQuality); err != nil {
		c.logger.Warn("failed to write snapshot", "path", imagePath, "error", err)
	} else {
		s.imagePath = imagePath
	}

	c.logger.Info("recording started", "path", path, "fps", fps, "width", first.Width, "height", first.Height)
	return s, nil
}

// nextPath returns <dir>/<timestamp>.mp4, adding -1, -2, ... when taken.
func (c *Controller) nextPath(t time.Time) (string, error) {
	stem := t.Format(TimeLayout)
	for i := 0; i < 1000; i++ {
		name := stem
		if i > 0 {
			name += "-" + strconv.Itoa(i)
		}
		path := filepath.Join(c.dir, name+VideoExt)
		taken, err := exists(path, filepath.Join(c.dir, name+ImageExt))
		if err != nil {
			return "", err
		}
		if !taken {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s", stem)
}

func exists(paths ...string) (bool, error) {
	for _, p := range paths {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

type session struct {
	path      string
	imagePath string
	width     int
	height    int
	fps       float64
	started   time.Time
	frames    int
	writer    FrameWriter
	closed    bool
	now       func() time.Time
	logger    *slog.Logger
}

func (s *session) Path() string {
	return s.path
}

func (s *session) Write(f *frame.Frame) error {
	if s.closed {
		return &Error{Op: "write", Path: s.path, Err: os.ErrClosed}
	}
	if f.Width != s.width || f.Height != s.height {
		return &Error{Op: "write", Path: s.path,
			Err: fmt.Errorf("frame %dx%d does not match recording %dx%d", f.Width, f.Height, s.width, s.height)}
	}
	if err := s.writer.WriteFrame(f.Pix); err != nil {
		return &Error{Op: "write", Path: s.path, Err: err}
	}
	s.frames++
	return nil
}

func (s *session) Close() (Clip, error) {
	if s.closed {
		return Clip{}, &Error{Op: "close", Path: s.path, Err: os.ErrClosed}
	}
	s.closed = true

	clip := Clip{
		VideoPath: s.path,
		ImagePath: s.imagePath,
		StartedAt: s.started,
		EndedAt:   s.now(),
		FPS:       s.fps,
		Frames:    s.frames,
	}
	if err := s.writer.Close(); err != nil {
		return clip, &Error{Op: "close", Path: s.path, Err: err}
	}

	s.logger.Info("recording finished", "path", s.path, "frames", s.frames,
		"duration_ms", clip.EndedAt.Sub(clip.StartedAt).Milliseconds())
	return clip, nil
}

func (s *session) Abort() error {
	if !s.closed {
		s.closed = true
		_ = s.writer.Close()
	}
	var errs []error
	for _, p := range []string{s.path, s.imagePath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.logger.Warn("recording aborted", "path", s.path, "frames", s.frames)
	return errors.Join(errs...)
}
