// Package store implements the on-disk piece store: indexed read/write of
// whole pieces, a local bitfield, and a completion flag. Pieces are trusted
// as delivered; this package performs no integrity verification.
package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/gopeers/p2pfileshare/internal/bitfield"
)

// Layout describes the fixed geometry of the shared file, derived from
// RunParameters at startup.
type Layout struct {
	// FileSize is the total byte size S of the shared file.
	FileSize int64
	// PieceSize is the byte size P of every piece but the last.
	PieceSize int64
	// PieceCount is the derived piece count N = ceil(S/P).
	PieceCount int
}

// PieceLen returns the byte length of piece i: PieceSize for every piece
// but the last, and S - PieceSize*(N-1) for the last when S is not an
// exact multiple of P.
func (l Layout) PieceLen(i int) int64 {
	if i == l.PieceCount-1 {
		return l.FileSize - l.PieceSize*int64(l.PieceCount-1)
	}
	return l.PieceSize
}

// Store is the collaborator contract the core protocol engine depends on:
// has/read/write/complete operations over indexed pieces, plus the local
// bitfield those operations maintain.
type Store interface {
	// Has reports whether piece i is already present.
	Has(i int) bool
	// Read returns the bytes of piece i. It is an error to call Read for a
	// piece that Has reports false for.
	Read(i int) ([]byte, error)
	// Write durably stores piece i's bytes and marks it present in the
	// local bitfield. The write is flushed to stable storage before this
	// call returns.
	Write(i int, data []byte) error
	// Bitfield returns a snapshot of the local bitfield.
	Bitfield() *bitfield.Bitfield
	// Complete reports whether every piece is present.
	Complete() bool
	// Close releases the underlying file.
	Close() error
}

// Disk is a Store backed by a single pre-sized file on disk, one file per
// peer subdirectory per the filesystem layout in §6.
type Disk struct {
	layout Layout

	mu   sync.RWMutex
	f    *os.File
	have *bitfield.Bitfield
}

// OpenSeed opens path as a complete file of the given layout. The file must
// already exist and have the expected size; the local bitfield starts all
// ones.
func OpenSeed(path string, layout Layout) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open seed file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: stat seed file: %w", err)
	}
	if info.Size() != layout.FileSize {
		_ = f.Close()
		return nil, fmt.Errorf("store: seed file size %d, want %d", info.Size(), layout.FileSize)
	}

	have := bitfield.New(layout.PieceCount)
	for i := 0; i < layout.PieceCount; i++ {
		have.Set(i)
	}

	return &Disk{layout: layout, f: f, have: have}, nil
}

// OpenLeecher creates (or extends) the file at path to layout.FileSize
// bytes and starts with an all-zero local bitfield.
func OpenLeecher(path string, layout Layout) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: create file: %w", err)
	}

	if err := f.Truncate(layout.FileSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: pre-allocate file: %w", err)
	}

	return &Disk{layout: layout, f: f, have: bitfield.New(layout.PieceCount)}, nil
}

func (d *Disk) Has(i int) bool {
	return d.have.Has(i)
}

func (d *Disk) Read(i int) ([]byte, error) {
	if !d.Has(i) {
		return nil, fmt.Errorf("store: piece %d not present", i)
	}

	n := d.layout.PieceLen(i)
	buf := make([]byte, n)

	d.mu.RLock()
	_, err := d.f.ReadAt(buf, int64(i)*d.layout.PieceSize)
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: read piece %d: %w", i, err)
	}
	return buf, nil
}

// Write stores data for piece i and flushes it to stable storage before
// marking the bit set, matching §4.3's durability requirement.
func (d *Disk) Write(i int, data []byte) error {
	want := d.layout.PieceLen(i)
	if int64(len(data)) != want {
		return fmt.Errorf("store: piece %d: got %d bytes, want %d", i, len(data), want)
	}

	d.mu.Lock()
	_, err := d.f.WriteAt(data, int64(i)*d.layout.PieceSize)
	if err == nil {
		err = d.f.Sync()
	}
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: write piece %d: %w", i, err)
	}

	d.have.Set(i)
	return nil
}

func (d *Disk) Bitfield() *bitfield.Bitfield {
	return d.have.Snapshot()
}

func (d *Disk) Complete() bool {
	return d.have.Complete()
}

func (d *Disk) Close() error {
	return d.f.Close()
}
