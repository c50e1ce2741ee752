package compress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/showgayaki/camenashi-kun/internal/proc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v/20240501-130405.mp4", "/v/20240501-130405_compressed.mp4"},
		{"/v/20240501-130405-1.mp4", "/v/20240501-130405-1_compressed.mp4"},
		{"clip", "clip_compressed"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.in); got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArgs_OptionsBetweenInputAndOutput(t *testing.T) {
	c := New("", []string{"-vcodec", "libx264", "-crf", "28"}, 0, testLogger())
	args := c.Args("in.mp4", "out.mp4")

	want := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", "in.mp4", "-vcodec", "libx264", "-crf", "28", "out.mp4"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestCompress_SuccessRemovesOriginal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "clip.mp4")
	writeFile(t, in, "uncompressed video bytes")

	c := New("ffmpeg", nil, 0, testLogger())
	c.run = func(ctx context.Context, logger *slog.Logger, name string, args ...string) proc.Result {
		writeFile(t, args[len(args)-1], "small")
		return proc.Result{}
	}

	out, err := c.Compress(context.Background(), in)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if out != filepath.Join(dir, "clip_compressed.mp4") {
		t.Errorf("out = %q", out)
	}
	if _, err := os.Stat(in); !os.IsNotExist(err) {
		t.Error("original should be removed after success")
	}
}

func TestCompress_FailureKeepsOriginal(t *testing.T) {
	tests := []struct {
		name string
		run  runFunc
	}{
		{"non-zero exit", func(ctx context.Context, logger *slog.Logger, name string, args ...string) proc.Result {
			writeFile(t, args[len(args)-1], "partial")
			return proc.Result{ExitCode: 1, StderrTail: "Invalid data found"}
		}},
		{"empty output", func(ctx context.Context, logger *slog.Logger, name string, args ...string) proc.Result {
			writeFile(t, args[len(args)-1], "")
			return proc.Result{}
		}},
		{"no output", func(ctx context.Context, logger *slog.Logger, name string, args ...string) proc.Result {
			return proc.Result{}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "clip.mp4")
			writeFile(t, in, "video")

			c := New("ffmpeg", nil, 0, testLogger())
			c.run = tt.run

			if _, err := c.Compress(context.Background(), in); err == nil {
				t.Fatal("expected error")
			}
			if _, err := os.Stat(in); err != nil {
				t.Errorf("original must survive a failed compression: %v", err)
			}
			if _, err := os.Stat(OutputPath(in)); !os.IsNotExist(err) {
				t.Error("partial output should be removed")
			}
		})
	}
}

func TestCompress_MissingInput(t *testing.T) {
	c := New("ffmpeg", nil, 0, testLogger())
	if _, err := c.Compress(context.Background(), filepath.Join(t.TempDir(), "nope.mp4")); err == nil {
		t.Error("expected error for missing input")
	}
}
