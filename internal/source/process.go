package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/proc"
)

// ProcessConfig describes the detector sidecar.
type ProcessConfig struct {
	Command string
	// Args may contain {url} and {area}, replaced by StreamURL and Area.
	Args      []string
	StreamURL string
	Area      []int
	Logger    *slog.Logger
}

// ProcessSource runs the detector as a child process and decodes records
// from its stdout.
type ProcessSource struct {
	cfg    ProcessConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdout *bufio.Reader
	stderr *proc.TailBuffer
	seq    uint64

	closeOnce sync.Once
	waitErr   error
}

func NewProcessSource(cfg ProcessConfig) *ProcessSource {
	return &ProcessSource{
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "source"),
		stderr: proc.NewTailBuffer(proc.MaxStderrBytes),
	}
}

// Args returns the detector arguments with placeholders expanded.
func (s *ProcessSource) Args() []string {
	area := strings.Join(lo.Map(s.cfg.Area, func(v int, _ int) string { return strconv.Itoa(v) }), ",")
	r := strings.NewReplacer("{url}", s.cfg.StreamURL, "{area}", area)
	return lo.Map(s.cfg.Args, func(a string, _ int) string { return r.Replace(a) })
}

// Start launches the detector. The process is killed when ctx is done.
func (s *ProcessSource) Start(ctx context.Context) error {
	s.cmd = exec.CommandContext(ctx, s.cfg.Command, s.Args()...)
	s.cmd.Stderr = s.stderr

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return &Error{Op: "start", Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	s.stdout = bufio.NewReaderSize(stdout, 1<<20)

	if err := s.cmd.Start(); err != nil {
		return &Error{Op: "start", Err: err}
	}

	s.logger.Info("detector started",
		"command", s.cfg.Command,
		"pid", s.cmd.Process.Pid,
		"source", logging.SanitizeURL(s.cfg.StreamURL),
	)
	return nil
}

func (s *ProcessSource) Next(ctx context.Context) (frame.Event, error) {
	if err := ctx.Err(); err != nil {
		return frame.Event{}, err
	}
	if s.stdout == nil {
		return frame.Event{}, &Error{Op: "read", Err: errors.New("detector not started")}
	}

	rec, err := ReadRecord(s.stdout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return frame.Event{}, ctxErr
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("detector exited: %w", io.ErrUnexpectedEOF)
		}
		return frame.Event{}, &Error{Op: "read", StderrTail: proc.Truncate(s.stderr.String(), 512), Err: err}
	}

	s.seq++
	ev, err := rec.Event(s.seq)
	if err != nil {
		return frame.Event{}, &Error{Op: "decode", Err: err}
	}
	return ev, nil
}

// Close kills the detector and reaps it.
func (s *ProcessSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		_ = s.cmd.Process.Kill()
		s.waitErr = s.cmd.Wait()
		s.logger.Info("detector stopped", "exit_code", proc.ExitCode(s.waitErr))
	})
	return nil
}
