package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/flags"
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
		return notify.Failed("fake", errors.New("down"))
	}
	return notify.Delivered("fake", "ok")
}

// scriptedPinger fails the first failures calls, then succeeds.
func scriptedPinger(failures int, calls *int) Pinger {
	return PingerFunc(func(ctx context.Context, host string) error {
		*calls++
		if *calls <= failures {
			return errors.New("timeout")
		}
		return nil
	})
}

func newGate(p Pinger, s notify.Sender, store flags.Store) *Gate {
	return NewGate(p, s, store, GateConfig{Attempts: 3, Delay: time.Millisecond, Logger: testLogger()})
}

func TestReachable_RetriesUpToAttempts(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		want      bool
		wantCalls int
	}{
		{"first try", 0, true, 1},
		{"third try", 2, true, 3},
		{"never", 10, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			g := newGate(scriptedPinger(tt.failures, &calls), &fakeSender{}, flags.NewMemoryStore())

			if got := g.Reachable(context.Background(), "10.0.0.2"); got != tt.want {
				t.Errorf("Reachable() = %v, want %v", got, tt.want)
			}
			if calls != tt.wantCalls {
				t.Errorf("ping calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestReachable_CancelledDuringDelay(t *testing.T) {
	calls := 0
	g := NewGate(scriptedPinger(10, &calls), &fakeSender{}, flags.NewMemoryStore(),
		GateConfig{Attempts: 3, Delay: time.Hour, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if g.Reachable(ctx, "10.0.0.2") {
		t.Error("Reachable() = true after cancellation")
	}
	if calls != 1 {
		t.Errorf("ping calls = %d, want 1", calls)
	}
}

func TestCheck_UnreachableAlertsOnce(t *testing.T) {
	ctx := context.Background()
	store := flags.NewMemoryStore()
	sender := &fakeSender{}

	for i := 0; i < 3; i++ {
		calls := 0
		if newGate(scriptedPinger(10, &calls), sender, store).Check(ctx, "10.0.0.2") {
			t.Fatal("Check() = true for dead camera")
		}
	}

	if len(sender.sent) != 1 {
		t.Errorf("sent %d alerts, want 1", len(sender.sent))
	}
	if sent, _ := flags.GetBool(ctx, store, flags.PingErrorSent); !sent {
		t.Error("ping flag should be set")
	}
}

func TestCheck_UndeliveredAlertIsRetried(t *testing.T) {
	ctx := context.Background()
	store := flags.NewMemoryStore()
	sender := &fakeSender{fail: true}

	calls := 0
	newGate(scriptedPinger(10, &calls), sender, store).Check(ctx, "10.0.0.2")
	if sent, _ := flags.GetBool(ctx, store, flags.PingErrorSent); sent {
		t.Fatal("flag must stay false when the alert failed")
	}

	sender.fail = false
	calls = 0
	newGate(scriptedPinger(10, &calls), sender, store).Check(ctx, "10.0.0.2")
	if len(sender.sent) != 2 {
		t.Errorf("sent %d alerts, want 2", len(sender.sent))
	}
}

func TestCheck_RecoveryClearsFlag(t *testing.T) {
	ctx := context.Background()
	store := flags.NewMemoryStore()
	flags.SetBool(ctx, store, flags.PingErrorSent, true)
	sender := &fakeSender{}

	calls := 0
	if !newGate(scriptedPinger(0, &calls), sender, store).Check(ctx, "10.0.0.2") {
		t.Fatal("Check() = false for live camera")
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1 recovery notice", len(sender.sent))
	}
	if sent, _ := flags.GetBool(ctx, store, flags.PingErrorSent); sent {
		t.Error("flag should be cleared after recovery notice")
	}
}

func TestCheck_ReachableWithoutFlagIsSilent(t *testing.T) {
	sender := &fakeSender{}
	calls := 0
	newGate(scriptedPinger(0, &calls), sender, flags.NewMemoryStore()).Check(context.Background(), "10.0.0.2")
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}
