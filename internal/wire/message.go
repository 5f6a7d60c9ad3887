package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType is the single byte following a message's length prefix.
type MessageType uint8

const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ErrFraming covers malformed or truncated message frames.
var ErrFraming = errors.New("wire: framing error")

// Message is a single length-prefixed frame: <length:u32_be><type:u8><payload>.
// length covers the type byte plus the payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

func NewChoke() *Message         { return &Message{Type: Choke} }
func NewUnchoke() *Message       { return &Message{Type: Unchoke} }
func NewInterested() *Message    { return &Message{Type: Interested} }
func NewNotInterested() *Message { return &Message{Type: NotInterested} }

func NewHave(index uint32) *Message {
	p := make([]byte, 4)
	putUint32(p, index)
	return &Message{Type: Have, Payload: p}
}

func NewBitfield(b []byte) *Message {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Message{Type: Bitfield, Payload: cp}
}

func NewRequest(index uint32) *Message {
	p := make([]byte, 4)
	putUint32(p, index)
	return &Message{Type: Request, Payload: p}
}

func NewPiece(index uint32, data []byte) *Message {
	p := make([]byte, 4+len(data))
	putUint32(p, index)
	copy(p[4:], data)
	return &Message{Type: Piece, Payload: p}
}

// ParseIndex extracts the 4-byte big-endian piece index carried by HAVE and
// REQUEST payloads.
func (m *Message) ParseIndex() (uint32, error) {
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("%w: want 4-byte index payload, got %d", ErrFraming, len(m.Payload))
	}
	return getUint32(m.Payload), nil
}

// ParsePiece splits a PIECE payload into its index and raw piece bytes.
func (m *Message) ParsePiece() (index uint32, data []byte, err error) {
	if len(m.Payload) < 4 {
		return 0, nil, fmt.Errorf("%w: piece payload too short", ErrFraming)
	}
	return getUint32(m.Payload), m.Payload[4:], nil
}

// Encode returns the full wire frame for m.
func (m *Message) Encode() []byte {
	length := 1 + len(m.Payload)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(m.Type)
	copy(buf[5:], m.Payload)
	return buf
}

// WriteMessage writes m to w as a single frame. Callers must serialize
// writes to the same stream themselves; WriteMessage issues exactly one
// Write call so a frame is never interleaved with another.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Encode())
	return err
}

// ReadMessage reads one complete frame from r. Short reads are retried
// internally by io.ReadFull; an EOF mid-frame is reported as ErrFraming
// wrapping the underlying error.
func ReadMessage(r io.Reader) (*Message, error) {
	var lp [4]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrFraming, err)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(lp[:])
	if length < 1 {
		return nil, fmt.Errorf("%w: zero-length frame", ErrFraming)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrFraming, err)
		}
		return nil, err
	}

	return &Message{Type: MessageType(buf[0]), Payload: buf[1:]}, nil
}

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
