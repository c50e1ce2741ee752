package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/showgayaki/camenashi-kun/internal/detect"
	"github.com/showgayaki/camenashi-kun/internal/events"
	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/pipeline"
	"github.com/showgayaki/camenashi-kun/internal/watchdog"
)

// Snapshot is what the status API sees of the loop.
type Snapshot struct {
	State                 string            `json:"state"`
	IncidentID            string            `json:"incident_id,omitempty"`
	Label                 string            `json:"label,omitempty"`
	ConsecutiveDetections int               `json:"consecutive_detections"`
	Recording             string            `json:"recording,omitempty"`
	BlackScreen           BlackScreenStatus `json:"black_screen"`
	FramesSeen            uint64            `json:"frames_seen"`
	LastFrameAt           time.Time         `json:"last_frame_at,omitempty"`
	StartedAt             time.Time         `json:"started_at,omitempty"`
}

type BlackScreenStatus struct {
	Active   bool      `json:"active"`
	Since    time.Time `json:"since,omitempty"`
	Notified bool      `json:"notified"`
}

// Step feeds one frame to the accumulator and the watchdog. Both always
// see the frame; an accumulator error is returned after the watchdog ran.
func (l *Loop) Step(ctx context.Context, ev frame.Event) error {
	out, err := l.detector.Observe(ev)
	wd := l.watchdog.Observe(ctx, ev.Frame)

	l.handleDetection(ctx, out)
	if wd == watchdog.Alerted {
		l.publish(ctx, events.Event{IncidentID: uuid.NewString(), Type: events.BlackScreen, At: l.now()})
	}
	l.updateSnapshot()

	if err != nil {
		l.logger.Error("incident failed", "incident_id", l.incidentID, "error", err)
		if l.detector.State().Session == nil {
			l.incidentID = ""
		}
		return err
	}
	return nil
}

func (l *Loop) handleDetection(ctx context.Context, out detect.Outcome) {
	switch out.Transition {
	case detect.Started, detect.Confirmed:
		if l.incidentID == "" {
			l.incidentID = uuid.NewString()
		}
		if out.Transition == detect.Confirmed {
			l.publish(ctx, events.Event{IncidentID: l.incidentID, Type: events.Confirmed, Label: out.Label, At: out.ConfirmedAt})
		}

	case detect.Discarded:
		l.history.Add(Incident{ID: l.incidentID, Label: out.Label, Outcome: "discarded", EndedAt: l.now()})
		l.publish(ctx, events.Event{IncidentID: l.incidentID, Type: events.Discarded, Label: out.Label, At: l.now()})
		l.incidentID = ""

	case detect.Finalized:
		if out.Clip != nil {
			l.finalize(ctx, out)
		}
		l.incidentID = ""
	}
}

// finalize runs the pipeline to completion even when shutdown was
// requested mid-way, so local files are not left behind.
func (l *Loop) finalize(ctx context.Context, out detect.Outcome) {
	id := l.incidentID
	if id == "" {
		id = uuid.NewString()
	}
	artifact := pipeline.Artifact{
		ID:         id,
		ImagePath:  out.Clip.ImagePath,
		VideoPath:  out.Clip.VideoPath,
		Label:      out.Label,
		CapturedAt: out.Clip.StartedAt,
		FPS:        out.Clip.FPS,
		Frames:     out.Clip.Frames,
	}
	if artifact.CapturedAt.IsZero() {
		artifact.CapturedAt = out.ConfirmedAt
	}

	l.setState("finalizing")
	logging.WithIncident(l.logger, id).Info("running artifact pipeline", "video", artifact.VideoPath)
	report := l.pipeline.Run(context.WithoutCancel(ctx), artifact)

	l.history.Add(Incident{
		ID:          id,
		Label:       out.Label,
		Outcome:     "finalized",
		ConfirmedAt: out.ConfirmedAt,
		EndedAt:     l.now(),
		Frames:      out.Clip.Frames,
		Report:      &report,
	})
	l.publish(ctx, events.Event{IncidentID: id, Type: events.Finalized, Label: out.Label, At: l.now(), Report: &report})
}

func (l *Loop) updateSnapshot() {
	st := l.detector.State()
	bs := l.watchdog.State()

	l.mu.Lock()
	defer l.mu.Unlock()

	s := &l.snapshot
	s.State = st.Phase().String()
	s.IncidentID = l.incidentID
	s.Label = st.Label
	s.ConsecutiveDetections = st.ConsecutiveDetections
	s.Recording = ""
	if st.Session != nil {
		s.Recording = st.Session.Path()
	}
	s.BlackScreen = BlackScreenStatus{Active: bs.Active(), Since: bs.Start, Notified: bs.AlreadyNotified}
	s.FramesSeen++
	s.LastFrameAt = l.now()
}
