// Package compress re-encodes a finished clip with ffmpeg to shrink it
// before upload.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/proc"
)

// Suffix is appended to the stem of a compressed file.
const Suffix = "_compressed"

const mega = 1e6

type runFunc func(ctx context.Context, logger *slog.Logger, name string, args ...string) proc.Result

// FFmpeg runs `ffmpeg -i IN OPTIONS... OUT`.
type FFmpeg struct {
	binary  string
	options []string
	timeout time.Duration
	run     runFunc
	logger  *slog.Logger
}

// New returns a compressor. options are passed to ffmpeg verbatim between
// the input and the output; a zero timeout means no limit.
func New(binary string, options []string, timeout time.Duration, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary:  binary,
		options: options,
		timeout: timeout,
		run:     proc.Run,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "compress"),
	}
}

// OutputPath returns <dir>/<stem>_compressed<ext>.
func OutputPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + Suffix + ext
}

// Args returns the ffmpeg arguments for compressing in to out.
func (c *FFmpeg) Args(in, out string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", in}
	args = append(args, c.options...)
	return append(args, out)
}

// Compress writes the compressed copy and removes the original. On any
// failure the original is kept and the partial output removed.
func (c *FFmpeg) Compress(ctx context.Context, path string) (string, error) {
	before, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat input: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := OutputPath(path)
	res := c.run(ctx, c.logger, c.binary, c.Args(path, out)...)
	if err := res.Err(c.binary); err != nil {
		_ = os.Remove(out)
		return "", err
	}

	after, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("compressed output missing: %w", err)
	}
	if after.Size() == 0 {
		_ = os.Remove(out)
		return "", fmt.Errorf("compressed output %s is empty", out)
	}

	c.logger.Info("compression succeeded",
		"before_mb", fmt.Sprintf("%.1f", float64(before.Size())/mega),
		"after_mb", fmt.Sprintf("%.1f", float64(after.Size())/mega),
		"duration_ms", res.Duration.Milliseconds(),
	)

	if err := os.Remove(path); err != nil {
		c.logger.Warn("failed to remove original", "path", path, "error", err)
	}
	return out, nil
}
