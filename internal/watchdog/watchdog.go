// Package watchdog raises an alert when the camera feed stays black.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/notify"
)

const snapshotQuality = 80

// State is the black-screen episode. A zero Start means no episode.
type State struct {
	Start           time.Time
	AlreadyNotified bool
}

func (s State) Active() bool {
	return !s.Start.IsZero()
}

// Event is what one frame did to the watchdog.
type Event int

const (
	NoChange Event = iota
	// WentBlack is the first black frame of an episode.
	WentBlack
	// Alerted means the degraded-feed alert was delivered on this frame.
	Alerted
	// AlertFailed means the alert was due but not delivered.
	AlertFailed
	// Recovered is the first non-black frame after an episode.
	Recovered
)

func (e Event) String() string {
	switch e {
	case NoChange:
		return "no_change"
	case WentBlack:
		return "went_black"
	case Alerted:
		return "alerted"
	case AlertFailed:
		return "alert_failed"
	case Recovered:
		return "recovered"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Watchdog tracks black frames. Recovery is logged, never notified.
type Watchdog struct {
	threshold time.Duration
	sender    notify.Sender
	state     State
	now       func() time.Time
	logger    *slog.Logger
}

func New(threshold time.Duration, sender notify.Sender, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		threshold: threshold,
		sender:    sender,
		now:       time.Now,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "watchdog"),
	}
}

func (w *Watchdog) State() State {
	return w.state
}

// Observe checks one frame. It sends at most one alert per episode, and
// retries on later frames only when a send fails.
func (w *Watchdog) Observe(ctx context.Context, f *frame.Frame) Event {
	now := w.now()

	if !f.CornersBlack() {
		if !w.state.Active() {
			return NoChange
		}
		w.logger.Info("recovered from black screen",
			"black_for_s", int(now.Sub(w.state.Start).Seconds()), "notified", w.state.AlreadyNotified)
		w.state = State{}
		return Recovered
	}

	if !w.state.Active() {
		w.state = State{Start: now}
		w.logger.Error("screen has gone black")
		return WentBlack
	}

	elapsed := now.Sub(w.state.Start)
	if w.state.AlreadyNotified || elapsed < w.threshold {
		return NoChange
	}

	w.logger.Error("screen black past threshold", "elapsed_s", int(elapsed.Seconds()))
	msg := notify.Message{
		Text: fmt.Sprintf("The camera picture has been black for %d minutes.\nRebooting the camera may help.",
			int(elapsed.Minutes())),
	}
	if data, err := f.JPEG(snapshotQuality); err != nil {
		w.logger.Warn("failed to encode black frame", "error", err)
	} else {
		msg.Attachments = []notify.Attachment{{
			Name: "black-" + now.Format("20060102-150405") + ".jpg",
			Data: data,
		}}
	}

	res := w.sender.Send(ctx, msg)
	if !res.OK() {
		w.logger.Error("black screen alert not delivered", "channel", res.Channel, "detail", res.Detail)
		return AlertFailed
	}
	w.state.AlreadyNotified = true
	w.logger.Info("black screen alert delivered", "channel", res.Channel)
	return Alerted
}
