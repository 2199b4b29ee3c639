package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Each message is prefixed with a 4-byte big-endian length that counts the
// prefix itself, so the smallest legal frame header reads 4.
const headerSize = 4

// ErrBadFrame means the length prefix itself was unusable. The stream cannot
// be resynchronized after it, so the connection has to go.
var ErrBadFrame = errors.New("invalid frame header")

// WriteFrame writes one length-prefixed message.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)+headerSize))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed message of at most maxPayload bytes.
// The size check happens before any payload byte is read.
func ReadFrame(r io.Reader, maxPayload int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size < headerSize {
		return nil, fmt.Errorf("%w: length %d below header size", ErrBadFrame, size)
	}
	payloadLen := int(size) - headerSize
	if payloadLen > maxPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds limit %d", ErrBadFrame, payloadLen, maxPayload)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
