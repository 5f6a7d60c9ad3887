// Package wire implements the peer-to-peer wire protocol: the fixed
// handshake record and the length-prefixed message frames that follow it.
package wire

import (
	"errors"
	"fmt"
	"io"
)

const (
	handshakeLiteral = "P2PFILESHARINGPROJ"
	handshakeZeros   = 10
	handshakeLen     = len(handshakeLiteral) + handshakeZeros + 4
)

// ErrHandshakeMismatch is returned when the 18-byte literal does not match
// exactly, or the record is not exactly 32 bytes.
var ErrHandshakeMismatch = errors.New("wire: handshake literal mismatch")

// Handshake is the fixed 32-byte record exchanged before any framed
// message: 18-byte ASCII literal, 10 zero bytes, then a 4-byte big-endian
// peer id.
type Handshake struct {
	PeerID uint32
}

// MarshalBinary encodes h into its 32-byte wire representation.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := make([]byte, handshakeLen)
	copy(buf, handshakeLiteral)
	putUint32(buf[len(handshakeLiteral)+handshakeZeros:], h.PeerID)
	return buf, nil
}

// UnmarshalBinary decodes a handshake from exactly 32 bytes. It fails if
// the length is wrong or the literal does not match byte-for-byte.
func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) != handshakeLen {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrHandshakeMismatch, handshakeLen, len(b))
	}
	if string(b[:len(handshakeLiteral)]) != handshakeLiteral {
		return ErrHandshakeMismatch
	}
	h.PeerID = getUint32(b[len(handshakeLiteral)+handshakeZeros:])
	return nil
}

// WriteHandshake writes h's wire representation to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	b, _ := h.MarshalBinary()
	_, err := w.Write(b)
	return err
}

// ReadHandshake reads a full 32-byte handshake record from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Handshake{}, fmt.Errorf("%w: short read", ErrHandshakeMismatch)
		}
		return Handshake{}, err
	}

	var h Handshake
	if err := h.UnmarshalBinary(buf); err != nil {
		return Handshake{}, err
	}
	return h, nil
}
