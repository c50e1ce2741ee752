package recording

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/frame"
)

type fakeWriter struct {
	frames   [][]byte
	closed   bool
	writeErr error
	closeErr error
}

func (w *fakeWriter) WriteFrame(pix []byte) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames = append(w.frames, pix)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type fakeEncoder struct {
	startErr error
	writers  []*fakeWriter
	paths    []string
}

func (e *fakeEncoder) Start(path string, width, height int, fps float64) (FrameWriter, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	// create the file the way a real encoder would
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	w := &fakeWriter{}
	e.writers = append(e.writers, w)
	e.paths = append(e.paths, path)
	return w, nil
}

func testFrame(w, h int) *frame.Frame {
	return &frame.Frame{Width: w, Height: h, Pix: bytes.Repeat([]byte{90}, w*h*3)}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestController_OpenNamesByTimestamp(t *testing.T) {
	dir := t.TempDir()
	enc := &fakeEncoder{}
	c := NewController(dir, enc, nil)
	c.now = fixedClock(time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local))

	s, err := c.Open(testFrame(4, 2), 15)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if want := filepath.Join(dir, "20240501-130405.mp4"); s.Path() != want {
		t.Errorf("Path() = %q, want %q", s.Path(), want)
	}
	if _, err := os.Stat(filepath.Join(dir, "20240501-130405.jpg")); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
	if len(enc.writers[0].frames) != 0 {
		t.Error("first frame must not be written by Open")
	}
}

func TestController_CollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	enc := &fakeEncoder{}
	c := NewController(dir, enc, nil)
	c.now = fixedClock(time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local))

	for _, want := range []string{"20240501-130405.mp4", "20240501-130405-1.mp4", "20240501-130405-2.mp4"} {
		s, err := c.Open(testFrame(2, 2), 10)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if filepath.Base(s.Path()) != want {
			t.Errorf("Path() = %q, want %q", filepath.Base(s.Path()), want)
		}
	}
}

func TestController_OpenFailure(t *testing.T) {
	c := NewController(t.TempDir(), &fakeEncoder{startErr: errors.New("no codec")}, nil)

	_, err := c.Open(testFrame(2, 2), 10)
	var recErr *Error
	if !errors.As(err, &recErr) || recErr.Op != "open" {
		t.Fatalf("Open() error = %v, want *recording.Error op=open", err)
	}

	if _, err := c.Open(testFrame(2, 2), 0); err == nil {
		t.Error("expected error for zero fps")
	}
}

func TestSession_WriteAndClose(t *testing.T) {
	enc := &fakeEncoder{}
	c := NewController(t.TempDir(), enc, nil)

	s, err := c.Open(testFrame(4, 2), 30)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(testFrame(4, 2)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if err := s.Write(testFrame(8, 2)); err == nil {
		t.Error("expected error for mismatched frame size")
	}

	clip, err := s.Close()
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if clip.Frames != 3 || clip.FPS != 30 || clip.VideoPath != s.Path() || clip.ImagePath == "" {
		t.Errorf("clip = %+v", clip)
	}
	if !enc.writers[0].closed {
		t.Error("writer not closed")
	}

	if err := s.Write(testFrame(4, 2)); err == nil {
		t.Error("expected error writing to closed session")
	}
}

func TestSession_CloseErrorIsRecordingError(t *testing.T) {
	enc := &fakeEncoder{}
	c := NewController(t.TempDir(), enc, nil)
	s, _ := c.Open(testFrame(2, 2), 10)
	enc.writers[0].closeErr = errors.New("moov atom not written")

	_, err := s.Close()
	var recErr *Error
	if !errors.As(err, &recErr) || recErr.Op != "close" {
		t.Errorf("Close() error = %v, want op=close", err)
	}
}

func TestSession_AbortRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewController(dir, &fakeEncoder{}, nil)
	s, _ := c.Open(testFrame(2, 2), 10)

	if err := s.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("dir has %d entries after abort, want 0", len(entries))
	}
}

func TestFFmpegEncoder_Args(t *testing.T) {
	args := strings.Join(FFmpegEncoder{}.Args("/v/out.mp4", 640, 360, 30), " ")
	for _, want := range []string{"-f rawvideo", "-pix_fmt bgr24", "-s 640x360", "-r 30", "-i -", "/v/out.mp4"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestFFmpegEncoder_Roundtrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	w, err := FFmpegEncoder{}.Start(path, 64, 32, 10)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := w.WriteFrame(testFrame(64, 32).Pix); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("output missing or empty: %v", err)
	}
}

func TestNewEncoder(t *testing.T) {
	if _, err := NewEncoder("ffmpeg", "ffmpeg", nil); err != nil {
		t.Errorf("NewEncoder(ffmpeg) error = %v", err)
	}
	if _, err := NewEncoder("vlc", "", nil); err == nil {
		t.Error("expected error for unknown encoder")
	}
}
