//go:build gocv

package recording

import (
	"fmt"

	"gocv.io/x/gocv"
)

// GoCVEncoder writes through OpenCV's VideoWriter with the avc1 codec.
// Build with -tags gocv; it needs OpenCV installed.
type GoCVEncoder struct {
	Codec string
}

func (e GoCVEncoder) Start(path string, width, height int, fps float64) (FrameWriter, error) {
	codec := e.Codec
	if codec == "" {
		codec = "avc1"
	}
	vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer: %w", err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}
	return &gocvWriter{vw: vw, width: width, height: height}, nil
}

type gocvWriter struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (w *gocvWriter) WriteFrame(pix []byte) error {
	mat, err := gocv.NewMatFromBytes(w.height, w.width, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

func (w *gocvWriter) Close() error {
	return w.vw.Close()
}

func init() {
	encoders["gocv"] = func(string) Encoder { return GoCVEncoder{} }
}
