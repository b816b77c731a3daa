package server

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/evmacro/evmacro/types"
)

// MaxFrameSize caps a single message at 1 MiB. A client announcing a larger
// frame is treated as malformed and disconnected.
const MaxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed message: a 4-byte little-endian
// payload length followed by the payload itself.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, types.NewError(types.KindMalformed, "frame of %d bytes exceeds %d byte limit", length, MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading %d byte frame: %w", length, err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed message.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return types.NewError(types.KindMalformed, "frame of %d bytes exceeds %d byte limit", len(payload), MaxFrameSize)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
