package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/showgayaki/camenashi-kun/internal/flags"
	"github.com/showgayaki/camenashi-kun/internal/logging"
)

// Router sends through the primary channel unless its quota would be
// exceeded, in which case it sends through the fallback. The switch and
// the one-time "limit reached" notice are persisted in the flag store.
type Router struct {
	primary  Channel
	fallback Channel
	flags    flags.Store
	logger   *slog.Logger
}

// NewRouter builds a router. fallback may be nil, in which case every
// message goes through primary.
func NewRouter(primary, fallback Channel, store flags.Store, logger *slog.Logger) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		flags:    store,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "notify"),
	}
}

// QuotaExceeded reports whether one more push would exceed the quota:
// usage + audience > limit.
func QuotaExceeded(usage, audience, limit int) bool {
	return usage+audience > limit
}

// Send picks a channel and delivers msg once.
func (r *Router) Send(ctx context.Context, msg Message) DeliveryResult {
	ch := r.Select(ctx)
	res := ch.Send(ctx, msg)

	if res.OK() {
		r.logger.Info("notification sent", "channel", res.Channel, "detail", res.Detail)
	} else {
		r.logger.Error("notification failed", "channel", res.Channel, "detail", res.Detail)
	}
	return res
}

// Select returns the channel the next message should use, updating the
// persisted switch state when it changes.
func (r *Router) Select(ctx context.Context) Channel {
	if r.fallback == nil {
		return r.primary
	}
	q, ok := r.primary.(QuotaChannel)
	if !ok {
		return r.primary
	}

	exceeded, err := r.checkQuota(ctx, q)
	if err != nil {
		// the quota is unknown, not exhausted: fall back for this message
		// but leave the persisted switch and the limit notice alone
		r.logger.Error("quota check failed, using fallback", "channel", q.Name(), "error", err)
		return r.fallback
	}

	active, err := flags.GetBool(ctx, r.flags, flags.QuotaFallbackActive)
	if err != nil {
		r.logger.Warn("failed to read fallback flag", "error", err)
	}
	if active != exceeded {
		r.setFlag(ctx, flags.QuotaFallbackActive, active, exceeded)
	}

	limitSent, err := flags.GetBool(ctx, r.flags, flags.QuotaLimitSent)
	if err != nil {
		r.logger.Warn("failed to read quota limit flag", "error", err)
	}

	if !exceeded {
		if limitSent {
			r.setFlag(ctx, flags.QuotaLimitSent, true, false)
		}
		return r.primary
	}

	if !limitSent {
		res := r.fallback.Send(ctx, Message{
			Text: fmt.Sprintf("%s has reached its monthly message limit (%d). Switching to %s.",
				r.primary.Name(), q.Limit(), r.fallback.Name()),
		})
		if res.OK() {
			r.setFlag(ctx, flags.QuotaLimitSent, false, true)
		} else {
			r.logger.Warn("quota limit notice not delivered", "channel", res.Channel, "detail", res.Detail)
		}
	}
	return r.fallback
}

// checkQuota reports whether one more push would exceed the quota. A
// lookup error is returned so the caller can fail open.
func (r *Router) checkQuota(ctx context.Context, q QuotaChannel) (bool, error) {
	usage, err := q.QuotaUsage(ctx)
	if err != nil {
		return false, fmt.Errorf("quota usage: %w", err)
	}
	audience, err := q.AudienceSize(ctx)
	if err != nil {
		return false, fmt.Errorf("audience size: %w", err)
	}

	exceeded := QuotaExceeded(usage, audience, q.Limit())
	r.logger.Debug("quota checked",
		"channel", q.Name(),
		"usage", usage,
		"audience", audience,
		"limit", q.Limit(),
		"exceeded", exceeded,
	)
	return exceeded, nil
}

func (r *Router) setFlag(ctx context.Context, key string, before, after bool) {
	if err := flags.SetBool(ctx, r.flags, key, after); err != nil {
		r.logger.Error("failed to persist flag", "key", key, "error", err)
		return
	}
	r.logger.Info("flag toggled", "key", key, "before", before, "after", after)
}
