// Package orchestrator runs the detection loop and decides what happens
// when it fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/showgayaki/camenashi-kun/internal/detect"
	"github.com/showgayaki/camenashi-kun/internal/events"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/pipeline"
	"github.com/showgayaki/camenashi-kun/internal/source"
	"github.com/showgayaki/camenashi-kun/internal/watchdog"
)

// ErrShutdown is returned when the operator asked the agent to stop.
// It is not a fault.
var ErrShutdown = errors.New("shutdown requested")

// ErrUnreachable is returned when the camera did not answer the
// connectivity check; the gate has already alerted.
var ErrUnreachable = errors.New("camera unreachable")

// Gate checks the camera before streaming starts.
type Gate interface {
	Check(ctx context.Context, host string) bool
}

// starter is a source that must be launched before Next is called.
type starter interface {
	Start(ctx context.Context) error
}

// Runner handles a finished incident clip.
type Runner interface {
	Run(ctx context.Context, a pipeline.Artifact) pipeline.Report
}

type LoopConfig struct {
	Host     string
	Gate     Gate
	Source   source.FrameSource
	Detector *detect.Accumulator
	Watchdog *watchdog.Watchdog
	Pipeline Runner
	Events   events.Publisher
	History  *History
	Logger   *slog.Logger
}

// Loop pulls frames and drives the accumulator and the watchdog. All
// incident state is owned by the goroutine calling Run.
type Loop struct {
	host       string
	gate       Gate
	src        source.FrameSource
	detector   *detect.Accumulator
	watchdog   *watchdog.Watchdog
	pipeline   Runner
	events     events.Publisher
	history    *History
	logger     *slog.Logger
	now        func() time.Time
	incidentID string

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Source == nil || cfg.Detector == nil || cfg.Watchdog == nil || cfg.Pipeline == nil {
		return nil, errors.New("source, detector, watchdog and pipeline are required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.History == nil {
		cfg.History = NewHistory(50)
	}
	return &Loop{
		host:     cfg.Host,
		gate:     cfg.Gate,
		src:      cfg.Source,
		detector: cfg.Detector,
		watchdog: cfg.Watchdog,
		pipeline: cfg.Pipeline,
		events:   cfg.Events,
		history:  cfg.History,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "loop"),
		now:      time.Now,
		snapshot: Snapshot{State: "starting"},
	}, nil
}

func (l *Loop) History() *History {
	return l.history
}

// Run checks the camera, then consumes frames until the source fails or
// ctx is cancelled. Cancellation returns ErrShutdown. An open recording
// is aborted on the way out.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if l.detector.State().Session != nil {
			l.logger.Warn("aborting unfinished recording", "incident_id", l.incidentID)
			if aerr := l.detector.Abort(); aerr != nil {
				l.logger.Error("failed to abort recording", "error", aerr)
			}
		}
		l.setState("stopped")
	}()

	if l.gate != nil && !l.gate.Check(ctx, l.host) {
		if ctx.Err() != nil {
			return ErrShutdown
		}
		l.publish(ctx, events.Event{IncidentID: uuid.NewString(), Type: events.PingError, Label: l.host, At: l.now()})
		return ErrUnreachable
	}

	if s, ok := l.src.(starter); ok {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	defer func() {
		if cerr := l.src.Close(); cerr != nil {
			l.logger.Warn("failed to close frame source", "error", cerr)
		}
	}()

	l.logger.Info("start streaming and detecting", "host", l.host)
	l.mu.Lock()
	l.snapshot.StartedAt = l.now()
	l.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ErrShutdown
		}
		ev, err := l.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ErrShutdown
			}
			return fmt.Errorf("frame source: %w", err)
		}
		if err := l.Step(ctx, ev); err != nil {
			return err
		}
	}
}

// Snapshot returns the state published after the last frame.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Loop) setState(state string) {
	l.mu.Lock()
	l.snapshot.State = state
	l.mu.Unlock()
}

func (l *Loop) publish(ctx context.Context, ev events.Event) {
	if err := l.events.Publish(ctx, ev); err != nil {
		l.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
