package recording

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/proc"
)

// FFmpegEncoder pipes raw BGR24 frames into an ffmpeg child process.
type FFmpegEncoder struct {
	Binary string
	Logger *slog.Logger
}

// Args returns the ffmpeg arguments for one recording.
func (e FFmpegEncoder) Args(path string, width, height int, fps float64) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	}
}

func (e FFmpegEncoder) Start(path string, width, height int, fps float64) (FrameWriter, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	// the process outlives the call; Close ends it
	cmd := exec.CommandContext(context.Background(), bin, e.Args(path, width, height, fps)...)
	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logging.OrDiscard(e.Logger).Debug("ffmpeg encoder started", "pid", cmd.Process.Pid, "path", path)
	return &ffmpegWriter{cmd: cmd, stdin: stdin, stderr: stderr, frameSize: width * height * 3}, nil
}

type ffmpegWriter struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *proc.TailBuffer
	frameSize int
}

func (w *ffmpegWriter) WriteFrame(pix []byte) error {
	if len(pix) != w.frameSize {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", len(pix), w.frameSize)
	}
	if _, err := w.stdin.Write(pix); err != nil {
		return fmt.Errorf("ffmpeg write: %w (stderr: %s)", err, proc.Truncate(w.stderr.String(), 512))
	}
	return nil
}

func (w *ffmpegWriter) Close() error {
	closeErr := w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited %d: %s", proc.ExitCode(err), proc.Truncate(w.stderr.String(), 512))
	}
	return closeErr
}
