package wire

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestHandshake_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 100; trial++ {
		id := rng.Uint32() % (1 << 31)
		h := Handshake{PeerID: id}

		var buf bytes.Buffer
		if err := WriteHandshake(&buf, h); err != nil {
			t.Fatalf("trial %d: WriteHandshake: %v", trial, err)
		}
		if buf.Len() != handshakeLen {
			t.Fatalf("trial %d: wrote %d bytes, want %d", trial, buf.Len(), handshakeLen)
		}

		got, err := ReadHandshake(&buf)
		if err != nil {
			t.Fatalf("trial %d: ReadHandshake: %v", trial, err)
		}
		if got.PeerID != id {
			t.Fatalf("trial %d: PeerID = %d, want %d", trial, got.PeerID, id)
		}
	}
}

func TestHandshake_Literal(t *testing.T) {
	b, _ := Handshake{PeerID: 3}.MarshalBinary()
	if got := string(b[:len(handshakeLiteral)]); got != "P2PFILESHARINGPROJ" {
		t.Fatalf("literal = %q", got)
	}
}

func TestHandshake_CorruptedLiteralRejected(t *testing.T) {
	b, _ := Handshake{PeerID: 1}.MarshalBinary()
	b[0] = 'X'

	var h Handshake
	if err := h.UnmarshalBinary(b); !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("want ErrHandshakeMismatch, got %v", err)
	}
}

func TestHandshake_WrongLengthRejected(t *testing.T) {
	var h Handshake
	if err := h.UnmarshalBinary([]byte("too short")); !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("want ErrHandshakeMismatch, got %v", err)
	}
}

func TestReadHandshake_ShortStream(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2, 3})
	if _, err := ReadHandshake(r); err == nil {
		t.Fatal("want error reading a truncated handshake")
	}
}
