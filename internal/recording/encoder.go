package recording

import (
	"fmt"
	"log/slog"
	"sort"
)

// encoders holds the encoders compiled into this binary, by config name.
var encoders = map[string]func(binary string) Encoder{
	"ffmpeg": func(binary string) Encoder { return FFmpegEncoder{Binary: binary} },
}

// NewEncoder returns the encoder registered under name.
func NewEncoder(name, binary string, logger *slog.Logger) (Encoder, error) {
	mk, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("encoder %q is not available in this build (have %v)", name, Available())
	}
	enc := mk(binary)
	if ff, ok := enc.(FFmpegEncoder); ok {
		ff.Logger = logger
		enc = ff
	}
	return enc, nil
}

// Available lists the compiled-in encoder names.
func Available() []string {
	names := make([]string, 0, len(encoders))
	for n := range encoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
