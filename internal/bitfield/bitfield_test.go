package bitfield

import (
	"math/rand"
	"testing"
)

func TestRoundTrip_VariousSizes(t *testing.T) {
	for _, n := range []int{1, 7, 8, 9, 100} {
		t.Run(sizeName(n), func(t *testing.T) {
			bf := New(n)
			for i := 0; i < n; i += 3 {
				bf.Set(i)
			}

			wire := bf.Bytes()
			if got, want := len(wire), (n+7)/8; got != want {
				t.Fatalf("Bytes() length = %d, want %d", got, want)
			}

			got, err := FromBytes(n, wire)
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			for i := 0; i < n; i++ {
				if got.Has(i) != bf.Has(i) {
					t.Fatalf("bit %d mismatch after round-trip", i)
				}
			}

			// padding bits beyond n-1, in the final byte, must read as zero
			for i := n; i < len(wire)*8; i++ {
				if got.has(i) {
					t.Fatalf("padding bit %d reads set", i)
				}
			}
		})
	}
}

func sizeName(n int) string {
	switch n {
	case 1:
		return "n=1"
	case 7:
		return "n=7"
	case 8:
		return "n=8"
	case 9:
		return "n=9"
	default:
		return "n=100"
	}
}

func TestFromBytes_WrongLength(t *testing.T) {
	if _, err := FromBytes(9, make([]byte, 1)); err == nil {
		t.Fatal("want error for short payload")
	}
}

func TestSet_ReportsChange(t *testing.T) {
	bf := New(10)
	if !bf.Set(3) {
		t.Fatal("first Set(3) should report a change")
	}
	if bf.Set(3) {
		t.Fatal("second Set(3) should report no change")
	}
}

func TestSet_OutOfRange(t *testing.T) {
	bf := New(5)
	if bf.Set(5) || bf.Set(-1) {
		t.Fatal("out-of-range Set should report no change")
	}
}

func TestComplete(t *testing.T) {
	bf := New(4)
	if bf.Complete() {
		t.Fatal("empty bitfield should not be complete")
	}
	for i := 0; i < 4; i++ {
		bf.Set(i)
	}
	if !bf.Complete() {
		t.Fatal("fully set bitfield should be complete")
	}
}

func TestWantedFrom_Interesting(t *testing.T) {
	remote := New(8)
	local := New(8)
	for _, i := range []int{1, 3, 5} {
		remote.Set(i)
	}
	local.Set(3)

	want := remote.WantedFrom(local)
	if len(want) != 2 || want[0] != 1 || want[1] != 5 {
		t.Fatalf("WantedFrom = %v, want [1 5]", want)
	}
	if !remote.Interesting(local) {
		t.Fatal("remote should be interesting to local")
	}

	local.Set(1)
	local.Set(5)
	if remote.Interesting(local) {
		t.Fatal("remote should no longer be interesting once local has everything it offers")
	}
}

func TestReplace(t *testing.T) {
	a := New(8)
	a.Set(2)
	b := New(8)
	b.Set(7)

	a.Replace(b)
	if a.Has(2) || !a.Has(7) {
		t.Fatal("Replace should fully overwrite prior contents")
	}
}

func TestSnapshot_Independent(t *testing.T) {
	bf := New(8)
	bf.Set(1)
	snap := bf.Snapshot()

	bf.Set(2)
	if snap.Has(2) {
		t.Fatal("snapshot should not observe writes made after it was taken")
	}
}

func TestRandomizedRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(200) + 1
		bf := New(n)

		var indices []int
		for i := 0; i < n; i++ {
			if rng.Intn(2) == 0 {
				bf.Set(i)
				indices = append(indices, i)
			}
		}

		round, err := FromBytes(n, bf.Bytes())
		if err != nil {
			t.Fatalf("trial %d: FromBytes: %v", trial, err)
		}
		for _, i := range indices {
			if !round.Has(i) {
				t.Fatalf("trial %d: expected bit %d set after round-trip", trial, i)
			}
		}
		if round.Count() != len(indices) {
			t.Fatalf("trial %d: Count() = %d, want %d", trial, round.Count(), len(indices))
		}
	}
}
