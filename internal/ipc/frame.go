// ABOUTME: Length-prefixed frame codec shared by every IPC transport.
// ABOUTME: 4-byte big-endian size header; a zero-length frame signals an orderly close.

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a single frame may carry.
const MaxFrameSize = 3 << 20

const headerSize = 4

var (
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrNotConnected is returned by Read and Write before Connect succeeds.
	ErrNotConnected = errors.New("channel not connected")
)

// WriteFrame writes data as one frame. Header and payload go out in a single
// Write call so concurrent writers on a pipe cannot interleave them.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[headerSize:], data)
	_, err := w.Write(buf)
	return err
}

// writeCloseFrame writes the zero-length frame that tells the peer we are done.
func writeCloseFrame(w io.Writer) error {
	var hdr [headerSize]byte
	_, err := w.Write(hdr[:])
	return err
}

// ReadFrame reads one frame. It returns io.EOF when the stream ends cleanly
// between frames or when the peer sends a close frame, and
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 {
		return nil, io.EOF
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: header announces %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
