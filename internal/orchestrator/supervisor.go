package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/notify"
	"github.com/showgayaki/camenashi-kun/internal/recording"
	"github.com/showgayaki/camenashi-kun/internal/source"
)

// Kind is the class of error that ended the loop.
type Kind int

const (
	KindShutdown Kind = iota
	KindUnreachable
	KindIO
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindShutdown:
		return "shutdown"
	case KindUnreachable:
		return "unreachable"
	case KindIO:
		return "io"
	case KindUnexpected:
		return "unexpected"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Classify maps an error returned by the loop to its Kind.
func Classify(err error) Kind {
	if err == nil || errors.Is(err, ErrShutdown) {
		return KindShutdown
	}
	if errors.Is(err, ErrUnreachable) {
		return KindUnreachable
	}

	var (
		pathErr *fs.PathError
		netErr  net.Error
		recErr  *recording.Error
		srcErr  *source.Error
		errno   syscall.Errno
	)
	switch {
	case errors.As(err, &pathErr),
		errors.As(err, &netErr),
		errors.As(err, &recErr),
		errors.As(err, &srcErr),
		errors.As(err, &errno),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return KindIO
	}
	return KindUnexpected
}

// LevelCritical ranks unexpected failures above ordinary I/O errors.
const LevelCritical = slog.LevelError + 4

// Supervisor wraps the loop. Shutdown returns nil. A fault is surfaced to
// the operator, followed by a pause, and then returned so the process
// manager restarts the agent.
type Supervisor struct {
	notifier notify.Sender
	pause    time.Duration
	logger   *slog.Logger
}

func NewSupervisor(notifier notify.Sender, pause time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		notifier: notifier,
		pause:    pause,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "supervisor"),
	}
}

// Run calls run once and applies the recovery policy to its result. The
// pause ends early when ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, run func(ctx context.Context) error) error {
	err := run(ctx)
	if err != nil && ctx.Err() != nil && Classify(err) != KindShutdown {
		// a signal arrived while the loop was failing; treat it as shutdown
		s.logger.Info("loop stopped during shutdown", "error", err)
		err = ErrShutdown
	}

	kind := Classify(err)
	switch kind {
	case KindShutdown:
		s.logger.Info("stopped by operator")
		return nil
	case KindUnreachable:
		s.logger.Error("camera is not responding, check the device")
		return err
	case KindIO:
		s.logger.Error("i/o failure", "kind", kind.String(), "error", err)
	default:
		s.logger.Log(context.WithoutCancel(ctx), LevelCritical, "unexpected failure", "kind", kind.String(), "error", err)
	}

	secs := int(s.pause.Seconds())
	if s.notifier != nil {
		res := s.notifier.Send(context.WithoutCancel(ctx), notify.Message{
			Text: fmt.Sprintf("Something went wrong:\n\n%v\n\nRestarting in %d seconds.", err, secs),
		})
		if !res.OK() {
			s.logger.Error("failure alert not delivered", "channel", res.Channel, "detail", res.Detail)
		}
	}

	s.logger.Info("pausing before restart", "seconds", secs)
	t := time.NewTimer(s.pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		s.logger.Info("pause interrupted")
	}
	s.logger.Info("exiting for restart")
	return err
}
