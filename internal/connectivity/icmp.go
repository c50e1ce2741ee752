package connectivity

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMPPinger sends a single echo request per Ping.
type ICMPPinger struct {
	Timeout    time.Duration
	Privileged bool
}

func (p ICMPPinger) Ping(ctx context.Context, host string) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = 2 * time.Second
	}
	pinger.SetPrivileged(p.Privileged)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ping %s: %w", host, err)
		}
	}

	if stats := pinger.Statistics(); stats.PacketsRecv == 0 {
		return fmt.Errorf("ping %s: no reply within %s", host, pinger.Timeout)
	}
	return nil
}
