package source

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/showgayaki/camenashi-kun/internal/frame"
)

// MaxRecordBytes bounds a single record; a 4K BGR frame is ~25 MiB.
const MaxRecordBytes = 64 << 20

// Record is one detector message: 4-byte big-endian length followed by
// this struct encoded as a msgpack map.
type Record struct {
	Labels []string `msgpack:"labels"`
	Width  int      `msgpack:"width"`
	Height int      `msgpack:"height"`
	Pix    []byte   `msgpack:"pix"`
	FPS    float64  `msgpack:"fps"`
	Log    string   `msgpack:"log"`
}

// ReadRecord reads one length-prefixed record. A clean end of stream
// before the prefix returns io.EOF; a truncated record returns
// io.ErrUnexpectedEOF.
func ReadRecord(r io.Reader) (Record, error) {
	var rec Record

	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return rec, err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > MaxRecordBytes {
		return rec, fmt.Errorf("record of %d bytes exceeds limit %d", n, MaxRecordBytes)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return rec, err
	}

	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// WriteRecord writes rec with its length prefix.
func WriteRecord(w io.Writer, rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Event converts the record into a frame event.
func (r Record) Event(seq uint64) (frame.Event, error) {
	f, err := frame.New(r.Width, r.Height, r.Pix)
	if err != nil {
		return frame.Event{}, err
	}
	ev := frame.NewEvent(r.Labels, f, r.FPS, r.Log)
	ev.Seq = seq
	return ev, nil
}
