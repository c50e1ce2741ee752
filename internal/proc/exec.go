// Package proc runs the external binaries the agent depends on (ffmpeg,
// the detector) with bounded stderr capture.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// MaxStderrBytes is the tail of stderr kept for diagnostics.
const MaxStderrBytes = 8 * 1024

// Result describes one finished subprocess.
type Result struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.ExitCode == 0
}

// Err returns nil on success, otherwise an error carrying the stderr tail.
func (r Result) Err(name string) error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s exited %d: %s", name, r.ExitCode, Truncate(r.StderrTail, 512))
}

// Run executes name with args and waits for it to finish.
func Run(ctx context.Context, logger *slog.Logger, name string, args ...string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	stderr := NewTailBuffer(MaxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	logger.Info("executing command", "name", name, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := ExitCode(err)
	tail := stderr.String()

	if exitCode != 0 {
		logger.Warn("command failed",
			"name", name,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", Truncate(tail, 512),
		)
	} else {
		logger.Info("command succeeded",
			"name", name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return Result{ExitCode: exitCode, StderrTail: tail, Duration: elapsed}
}

// ExitCode maps a cmd.Run/Wait error to an exit code; -1 when the
// process never ran or was killed without one.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Resolve finds a binary on PATH or at an explicit path.
func Resolve(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%q not found: %w", name, err)
	}
	return p, nil
}

func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// TailBuffer is an io.Writer that keeps only the last limit bytes.
// It is safe for concurrent use, so a running process may write to it
// while another goroutine reads the tail.
type TailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{limit: limit}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		// Keep only the tail
		b := t.buf.Bytes()
		tail := make([]byte, t.limit)
		copy(tail, b[len(b)-t.limit:])
		t.buf.Reset()
		t.buf.Write(tail)
	}
	return n, nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
