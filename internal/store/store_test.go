package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLayout_PieceLen(t *testing.T) {
	l := Layout{FileSize: 25, PieceSize: 10, PieceCount: 3}
	if got := l.PieceLen(0); got != 10 {
		t.Fatalf("piece 0 length = %d, want 10", got)
	}
	if got := l.PieceLen(2); got != 5 {
		t.Fatalf("last piece length = %d, want 5", got)
	}
}

func TestDisk_LeecherWriteReadComplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	layout := Layout{FileSize: 25, PieceSize: 10, PieceCount: 3}

	d, err := OpenLeecher(path, layout)
	if err != nil {
		t.Fatalf("OpenLeecher: %v", err)
	}
	defer d.Close()

	if d.Complete() {
		t.Fatal("fresh leecher should not be complete")
	}

	pieces := [][]byte{
		bytes.Repeat([]byte{0xAA}, 10),
		bytes.Repeat([]byte{0xBB}, 10),
		bytes.Repeat([]byte{0xCC}, 5),
	}
	for i, p := range pieces {
		if err := d.Write(i, p); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}

	if !d.Complete() {
		t.Fatal("should be complete after writing every piece")
	}

	for i, want := range pieces {
		got, err := d.Read(i)
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Read(%d) mismatch", i)
		}
	}
}

func TestDisk_WriteWrongSizeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	layout := Layout{FileSize: 25, PieceSize: 10, PieceCount: 3}

	d, err := OpenLeecher(path, layout)
	if err != nil {
		t.Fatalf("OpenLeecher: %v", err)
	}
	defer d.Close()

	if err := d.Write(0, []byte{1, 2, 3}); err == nil {
		t.Fatal("want error writing a short piece")
	}
}

func TestDisk_ReadBeforeHaveRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	layout := Layout{FileSize: 10, PieceSize: 10, PieceCount: 1}

	d, err := OpenLeecher(path, layout)
	if err != nil {
		t.Fatalf("OpenLeecher: %v", err)
	}
	defer d.Close()

	if _, err := d.Read(0); err == nil {
		t.Fatal("want error reading an absent piece")
	}
}

func TestOpenSeed_StartsComplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	layout := Layout{FileSize: 20, PieceSize: 10, PieceCount: 2}

	if err := os.WriteFile(path, bytes.Repeat([]byte{0x11}, 20), 0o644); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	d, err := OpenSeed(path, layout)
	if err != nil {
		t.Fatalf("OpenSeed: %v", err)
	}
	defer d.Close()

	if !d.Complete() {
		t.Fatal("a seed should start complete")
	}
	if d.Bitfield().Count() != 2 {
		t.Fatalf("seed bitfield count = %d, want 2", d.Bitfield().Count())
	}
}

func TestOpenSeed_WrongSizeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	layout := Layout{FileSize: 20, PieceSize: 10, PieceCount: 2}

	if err := os.WriteFile(path, bytes.Repeat([]byte{0x11}, 5), 0o644); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	if _, err := OpenSeed(path, layout); err == nil {
		t.Fatal("want error when the seed file size does not match the layout")
	}
}
