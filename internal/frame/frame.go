// Package frame holds the per-frame record produced by the detector.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"github.com/samber/lo"
)

// BytesPerPixel of a packed BGR24 frame.
const BytesPerPixel = 3

// Frame is a packed BGR24 image, row major.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// New validates that pix matches the dimensions.
func New(width, height int, pix []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if want := width * height * BytesPerPixel; len(pix) != want {
		return nil, fmt.Errorf("frame %dx%d needs %d bytes, got %d", width, height, want, len(pix))
	}
	return &Frame{Width: width, Height: height, Pix: pix}, nil
}

// At returns the B, G, R channels of pixel (x, y).
func (f *Frame) At(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * BytesPerPixel
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// CornersBlack reports whether all four corner pixels are (0,0,0), the
// signature of a feed that stopped delivering picture data.
func (f *Frame) CornersBlack() bool {
	if f == nil || len(f.Pix) < f.Width*f.Height*BytesPerPixel || f.Width == 0 || f.Height == 0 {
		return false
	}
	corners := [][2]int{
		{0, 0},
		{f.Width - 1, 0},
		{f.Width - 1, f.Height - 1},
		{0, f.Height - 1},
	}
	return lo.EveryBy(corners, func(c [2]int) bool {
		b, g, r := f.At(c[0], c[1])
		return b == 0 && g == 0 && r == 0
	})
}

// Clone returns a deep copy so the frame can outlive the loop iteration.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// Image converts the frame to an image.RGBA.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			b, g, r := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}

// JPEG encodes the frame at the given quality.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJPEG encodes the frame to path.
func (f *Frame) WriteJPEG(path string, quality int) error {
	data, err := f.JPEG(quality)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Event is one classified frame from the source.
type Event struct {
	Seq        uint64
	Labels     map[string]struct{}
	Frame      *Frame
	FPS        float64
	Annotation string
}

// NewEvent builds an Event, collapsing labels into a set.
func NewEvent(labels []string, f *Frame, fps float64, annotation string) Event {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return Event{Labels: set, Frame: f, FPS: fps, Annotation: annotation}
}

// HasAny reports whether any of targets was detected in the frame.
func (e Event) HasAny(targets []string) bool {
	return lo.SomeBy(targets, func(t string) bool {
		_, ok := e.Labels[t]
		return ok
	})
}

// LabelList returns the detected labels in no particular order.
func (e Event) LabelList() []string {
	return lo.Keys(e.Labels)
}
