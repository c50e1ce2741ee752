package proc

import (
	"bufio"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// DepInfo represents the availability status of a single executable.
type DepInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which external executables are usable.
type Capabilities struct {
	Executables map[string]DepInfo `json:"executables"`
	ProbedAt    time.Time          `json:"probed_at"`
}

// AllOK reports whether every probed executable is available.
func (c *Capabilities) AllOK() bool {
	for _, d := range c.Executables {
		if !d.Available {
			return false
		}
	}
	return true
}

// Prober checks executables.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ExecProber resolves each binary and runs it with its version flag.
type ExecProber struct {
	// Binaries maps a display name to the command and version argument,
	// e.g. "ffmpeg": {"ffmpeg", "-version"}.
	Binaries map[string][]string
}

func (p *ExecProber) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{Executables: make(map[string]DepInfo, len(p.Binaries)), ProbedAt: time.Now()}
	for name, argv := range p.Binaries {
		if len(argv) == 0 {
			continue
		}
		path, err := Resolve(argv[0])
		if err != nil {
			caps.Executables[name] = DepInfo{Error: err.Error()}
			continue
		}
		info := DepInfo{Available: true, Path: path}
		if len(argv) > 1 {
			out, err := exec.CommandContext(ctx, path, argv[1:]...).CombinedOutput()
			if err != nil {
				info.Available = false
				info.Error = Truncate(strings.TrimSpace(string(out)), 256)
			} else {
				info.Version = firstLine(string(out))
			}
		}
		caps.Executables[name] = info
	}
	return caps, nil
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

// CachedDoctor wraps a Prober to cache probe results with a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("doctor probe failed", "error", err)
		}
		// Return stale cache if available
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
