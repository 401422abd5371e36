// Package tcpserv implements the framed TCP listener. A receiver port
// carries request/response frames, a sender port carries server-initiated
// pushes through registered sessions, and an endpoint port hands the raw
// duplex stream to a handler.
package tcpserv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize caps inbound frames at 16 MiB
const DefaultMaxFrameSize = 16 << 20

// readFrame reads one length-prefixed frame. The prefix is a 4-byte
// big-endian payload length.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if int(size) > maxSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes one length-prefixed frame
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
