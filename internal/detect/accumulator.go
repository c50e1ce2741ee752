// Package detect turns per-frame detections into confirmed incidents.
//
// An incident is confirmed after a run of consecutive detections reaches
// the confirmation threshold, and ends once the target has been absent
// for longer than the no-detection threshold. Brief misses in between do
// not end it.
package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/recording"
)

// Phase is where the accumulator stands between frames.
type Phase int

const (
	Idle Phase = iota
	Accumulating
	Recording
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Recording:
		return "recording"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Transition is what a single frame changed.
type Transition int

const (
	None Transition = iota
	// Started is the first detection of a new run.
	Started
	// Confirmed means the recording opened on this frame.
	Confirmed
	// Discarded is an unconfirmed run that timed out.
	Discarded
	// Finalized is a recorded incident that timed out; the clip is closed.
	Finalized
)

func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case Started:
		return "started"
	case Confirmed:
		return "confirmed"
	case Discarded:
		return "discarded"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("transition(%d)", int(t))
}

// Recorder opens a recording session sized to the first frame.
type Recorder interface {
	Open(first *frame.Frame, fps float64) (recording.Session, error)
}

type Config struct {
	// Labels are the target labels; any of them counts as a detection.
	Labels                []string
	ConfirmationThreshold int
	NoDetectionThreshold  time.Duration
	// Speed multiplies the recorded frame rate so clips play back faster.
	Speed float64
}

func (c Config) validate() error {
	var errs []error
	if len(c.Labels) == 0 {
		errs = append(errs, errors.New("no target labels"))
	}
	if c.ConfirmationThreshold < 1 {
		errs = append(errs, fmt.Errorf("confirmation threshold must be >= 1, got %d", c.ConfirmationThreshold))
	}
	if c.NoDetectionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("no-detection threshold must be > 0, got %s", c.NoDetectionThreshold))
	}
	if c.Speed <= 0 {
		errs = append(errs, fmt.Errorf("speed must be > 0, got %v", c.Speed))
	}
	return errors.Join(errs...)
}

// IncidentState is the accumulator's whole state. Its zero value is idle.
type IncidentState struct {
	ConsecutiveDetections int
	// NoDetectionSince is zero while unset.
	NoDetectionSince time.Time
	Session          recording.Session
	SampledFPS       []float64
	Label            string
	ConfirmedAt      time.Time
}

// IsIdle reports whether s equals the reset state.
func (s IncidentState) IsIdle() bool {
	return s.ConsecutiveDetections == 0 && s.NoDetectionSince.IsZero() && s.Session == nil &&
		len(s.SampledFPS) == 0 && s.Label == "" && s.ConfirmedAt.IsZero()
}

func (s IncidentState) Phase() Phase {
	switch {
	case s.Session != nil:
		return Recording
	case s.ConsecutiveDetections > 0:
		return Accumulating
	}
	return Idle
}

// Outcome describes what Observe did with one frame.
type Outcome struct {
	Transition Transition
	Phase      Phase
	Label      string
	// Count is the consecutive detection count after the frame.
	Count int
	// ConfirmedAt is set once the incident is confirmed.
	ConfirmedAt time.Time
	// Clip is the closed recording on Finalized.
	Clip *recording.Clip
}

// Accumulator is the detection state machine. It is not safe for
// concurrent use; the main loop owns it.
type Accumulator struct {
	cfg      Config
	recorder Recorder
	state    IncidentState
	now      func() time.Time
	logger   *slog.Logger
}

func NewAccumulator(cfg Config, recorder Recorder, logger *slog.Logger) (*Accumulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}
	if recorder == nil {
		return nil, errors.New("recorder is required")
	}
	return &Accumulator{
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "detect"),
	}, nil
}

// State returns a copy of the current state.
func (a *Accumulator) State() IncidentState {
	s := a.state
	s.SampledFPS = append([]float64(nil), a.state.SampledFPS...)
	return s
}

// Observe advances the state machine by one frame.
//
// While recording, every frame is written before it is classified. A
// write, open or close failure is returned; open and close failures
// also reset the state, a write failure leaves the session for Abort.
func (a *Accumulator) Observe(ev frame.Event) (Outcome, error) {
	now := a.now()

	if a.state.Session != nil {
		if err := a.state.Session.Write(ev.Frame); err != nil {
			return a.outcome(None), err
		}
	}

	if label, ok := a.match(ev); ok {
		return a.detected(ev, label, now)
	}
	return a.absent(now)
}

func (a *Accumulator) match(ev frame.Event) (string, bool) {
	return lo.Find(a.cfg.Labels, func(l string) bool {
		_, ok := ev.Labels[l]
		return ok
	})
}

func (a *Accumulator) detected(ev frame.Event, label string, now time.Time) (Outcome, error) {
	s := &a.state
	s.ConsecutiveDetections++
	s.NoDetectionSince = time.Time{}
	s.SampledFPS = append(s.SampledFPS, ev.FPS)

	if s.Session != nil {
		return a.outcome(None), nil
	}

	transition := None
	if s.ConsecutiveDetections == 1 {
		transition = Started
		s.Label = label
	}

	if s.ConsecutiveDetections != a.cfg.ConfirmationThreshold {
		a.logger.Info("detected", "label", label, "count", s.ConsecutiveDetections)
		return a.outcome(transition), nil
	}

	fps := a.recordingFPS()
	session, err := a.recorder.Open(ev.Frame, fps)
	if err != nil {
		a.reset()
		return a.outcome(None), fmt.Errorf("failed to open recording: %w", err)
	}

	// one past the threshold so this branch is not taken again
	s.ConsecutiveDetections = a.cfg.ConfirmationThreshold + 1
	s.Session = session
	s.ConfirmedAt = now
	a.logger.Info("incident confirmed", "label", s.Label, "fps", fps, "path", session.Path())
	return a.outcome(Confirmed), nil
}

func (a *Accumulator) absent(now time.Time) (Outcome, error) {
	s := &a.state
	if s.ConsecutiveDetections == 0 {
		return a.outcome(None), nil
	}
	if s.NoDetectionSince.IsZero() {
		s.NoDetectionSince = now
		a.logger.Info("no detection started", "count", s.ConsecutiveDetections)
		return a.outcome(None), nil
	}
	if now.Sub(s.NoDetectionSince) <= a.cfg.NoDetectionThreshold {
		return a.outcome(None), nil
	}

	if s.Session == nil {
		a.logger.Info("unconfirmed detections discarded", "label", s.Label, "count", s.ConsecutiveDetections)
		out := a.outcome(Discarded)
		a.reset()
		out.Phase = Idle
		return out, nil
	}

	out := a.outcome(Finalized)
	session := s.Session
	clip, err := session.Close()
	a.reset()
	out.Phase = Idle
	if err != nil {
		// an unfinished clip never reaches the pipeline, so drop it here
		if aerr := session.Abort(); aerr != nil {
			a.logger.Error("failed to remove unfinished recording", "path", session.Path(), "error", aerr)
		}
		return out, fmt.Errorf("failed to close recording: %w", err)
	}
	out.Clip = &clip
	a.logger.Info("incident finalized", "label", out.Label, "path", clip.VideoPath, "frames", clip.Frames)
	return out, nil
}

// recordingFPS is the rounded mean of the sampled rates times the speed.
func (a *Accumulator) recordingFPS() float64 {
	samples := a.state.SampledFPS
	mean := lo.Sum(samples) / float64(len(samples))
	fps := math.Round(mean) * a.cfg.Speed
	if fps < 1 {
		fps = 1
	}
	return fps
}

// Abort drops an open recording, removing its files, and resets.
func (a *Accumulator) Abort() error {
	var err error
	if a.state.Session != nil {
		err = a.state.Session.Abort()
	}
	a.reset()
	return err
}

func (a *Accumulator) reset() {
	a.state = IncidentState{}
}

func (a *Accumulator) outcome(t Transition) Outcome {
	return Outcome{
		Transition:  t,
		Phase:       a.state.Phase(),
		Label:       a.state.Label,
		Count:       a.state.ConsecutiveDetections,
		ConfirmedAt: a.state.ConfirmedAt,
	}
}
