package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/frame"
	"github.com/showgayaki/camenashi-kun/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	fail bool
	sent []notify.Message
}

func (f *fakeSender) Send(ctx context.Context, msg notify.Message) notify.DeliveryResult {
	f.sent = append(f.sent, msg)
	if f.fail {
		return notify.Failed("fake", errors.New("webhook down"))
	}
	return notify.Delivered("fake", "ok")
}

func black() *frame.Frame {
	return &frame.Frame{Width: 4, Height: 3, Pix: make([]byte, 4*3*3)}
}

func picture() *frame.Frame {
	f := black()
	f.Pix[0] = 200
	return f
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newWatchdog(sender notify.Sender) (*Watchdog, *clock) {
	w := New(5*time.Minute, sender, testLogger())
	c := &clock{t: time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)}
	w.now = c.now
	return w, c
}

func TestObserve_AlertsOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	w, c := newWatchdog(sender)

	steps := []struct {
		advance time.Duration
		frame   *frame.Frame
		want    Event
	}{
		{0, picture(), NoChange},
		{0, black(), WentBlack},
		{time.Minute, black(), NoChange},
		{4 * time.Minute, black(), Alerted},
		{time.Minute, black(), NoChange},
		{time.Hour, black(), NoChange},
		{time.Second, picture(), Recovered},
		{time.Second, picture(), NoChange},
	}
	for i, s := range steps {
		c.advance(s.advance)
		if got := w.Observe(ctx, s.frame); got != s.want {
			t.Errorf("step %d: event = %s, want %s", i, got, s.want)
		}
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1 (recovery is silent)", len(sender.sent))
	}
	att := sender.sent[0].Attachments
	if len(att) != 1 || len(att[0].Data) == 0 {
		t.Errorf("alert attachments = %+v, want one jpeg", att)
	}
	if w.State() != (State{}) {
		t.Errorf("state after recovery = %+v, want zero", w.State())
	}
}

func TestObserve_FailedAlertRetriesOnNextFrame(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{fail: true}
	w, c := newWatchdog(sender)

	w.Observe(ctx, black())
	c.advance(6 * time.Minute)
	if got := w.Observe(ctx, black()); got != AlertFailed {
		t.Fatalf("event = %s, want alert_failed", got)
	}
	if w.State().AlreadyNotified {
		t.Fatal("AlreadyNotified must stay false when delivery failed")
	}

	sender.fail = false
	if got := w.Observe(ctx, black()); got != Alerted {
		t.Errorf("event = %s, want alerted", got)
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent %d, want 2", len(sender.sent))
	}
}

func TestObserve_NewEpisodeAlertsAgain(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	w, c := newWatchdog(sender)

	for i := 0; i < 2; i++ {
		w.Observe(ctx, black())
		c.advance(10 * time.Minute)
		w.Observe(ctx, black())
		w.Observe(ctx, picture())
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent %d alerts, want one per episode", len(sender.sent))
	}
}

func TestObserve_OnlyCornersMatter(t *testing.T) {
	w, _ := newWatchdog(&fakeSender{})

	f := black()
	// centre pixel lit, corners still black
	f.Pix[(1*4+1)*3] = 255
	if got := w.Observe(context.Background(), f); got != WentBlack {
		t.Errorf("event = %s, want went_black", got)
	}
}
