// Package connectivity decides whether the camera is reachable before the
// main loop starts, and alerts once per outage.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/flags"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/notify"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
)

// Pinger performs one reachability probe.
type Pinger interface {
	Ping(ctx context.Context, host string) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context, host string) error

func (f PingerFunc) Ping(ctx context.Context, host string) error {
	return f(ctx, host)
}

type GateConfig struct {
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

// Gate probes the camera and keeps the ping alert idempotent.
type Gate struct {
	pinger   Pinger
	notifier notify.Sender
	flags    flags.Store
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

func NewGate(pinger Pinger, notifier notify.Sender, store flags.Store, cfg GateConfig) *Gate {
	g := &Gate{
		pinger:   pinger,
		notifier: notifier,
		flags:    store,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "connectivity"),
	}
	if g.attempts < 1 {
		g.attempts = DefaultAttempts
	}
	return g
}

// Reachable pings host up to the configured attempts, pausing between
// failures. It returns on the first success.
func (g *Gate) Reachable(ctx context.Context, host string) bool {
	for attempt := 1; attempt <= g.attempts; attempt++ {
		err := g.pinger.Ping(ctx, host)
		if err == nil {
			g.logger.Info("ping ok", "host", host, "attempt", attempt)
			return true
		}
		g.logger.Warn("ping failed", "host", host, "attempt", attempt, "of", g.attempts, "error", err)

		if attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(g.delay):
		}
	}
	return false
}

// Check runs Reachable and sends the unreachable or recovered alert when
// the persisted flag says it is due. The flag only changes after the
// alert was delivered, so an undelivered alert is retried next start.
func (g *Gate) Check(ctx context.Context, host string) bool {
	reachable := g.Reachable(ctx, host)

	sent, err := flags.GetBool(ctx, g.flags, flags.PingErrorSent)
	if err != nil {
		g.logger.Warn("failed to read ping flag", "error", err)
	}

	switch {
	case !reachable && !sent:
		g.logger.Error("camera is not responding", "host", host)
		res := g.notifier.Send(ctx, notify.Message{
			Text: fmt.Sprintf("ping NG\n%s is not responding. Please check the device.", host),
		})
		g.record(ctx, res, true)

	case !reachable:
		g.logger.Error("camera is not responding, alert already sent", "host", host)

	case sent:
		res := g.notifier.Send(ctx, notify.Message{
			Text: fmt.Sprintf("ping OK\n%s is responding again.", host),
		})
		g.record(ctx, res, false)
	}

	return reachable
}

func (g *Gate) record(ctx context.Context, res notify.DeliveryResult, value bool) {
	if !res.OK() {
		g.logger.Warn("ping alert not delivered", "channel", res.Channel, "detail", res.Detail)
		return
	}
	if err := flags.SetBool(ctx, g.flags, flags.PingErrorSent, value); err != nil {
		g.logger.Error("failed to persist ping flag", "error", err)
		return
	}
	g.logger.Info("ping flag updated", "key", flags.PingErrorSent, "before", !value, "after", value)
}
