package swarm

import (
	"context"
	"sync"
	"testing"

	"github.com/gopeers/p2pfileshare/internal/bitfield"
)

type fakeStore struct {
	mu   sync.Mutex
	have *bitfield.Bitfield
	data map[int][]byte
}

func newFakeStore(n int) *fakeStore {
	return &fakeStore{have: bitfield.New(n), data: map[int][]byte{}}
}

func (s *fakeStore) Has(i int) bool { return s.have.Has(i) }

func (s *fakeStore) Read(i int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[i], nil
}

func (s *fakeStore) Write(i int, data []byte) error {
	s.mu.Lock()
	s.data[i] = append([]byte(nil), data...)
	s.mu.Unlock()
	s.have.Set(i)
	return nil
}

func (s *fakeStore) Bitfield() *bitfield.Bitfield { return s.have.Snapshot() }
func (s *fakeStore) Complete() bool               { return s.have.Complete() }
func (s *fakeStore) Close() error                 { return nil }

type fakeLog struct {
	mu         sync.Mutex
	downloaded int
	complete   int
}

func (l *fakeLog) DownloadedPiece(index, from, have int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downloaded++
}

func (l *fakeLog) LocalComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complete++
}

func TestHandlePieceReceived_DedupsAgainstStore(t *testing.T) {
	st := newFakeStore(2)
	log := &fakeLog{}
	s := New(context.Background(), st, log)

	s.HandlePieceReceived(1, 0, []byte("aaaa"))
	if !st.Has(0) {
		t.Fatal("store should have piece 0 after first receipt")
	}

	// a duplicate receipt of an already-held piece must be a no-op
	s.HandlePieceReceived(2, 0, []byte("bbbb"))

	log.mu.Lock()
	downloaded := log.downloaded
	log.mu.Unlock()
	if downloaded != 1 {
		t.Fatalf("DownloadedPiece called %d times, want 1", downloaded)
	}
}

func TestHandlePieceReceived_FiresLocalCompleteOnce(t *testing.T) {
	st := newFakeStore(1)
	log := &fakeLog{}
	s := New(context.Background(), st, log)

	s.HandlePieceReceived(1, 0, []byte("x"))
	s.HandlePieceReceived(1, 0, []byte("x")) // already complete; must not refire

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.complete != 1 {
		t.Fatalf("LocalComplete called %d times, want 1", log.complete)
	}
}

func TestHandlePieceReceived_ClearsOutstanding(t *testing.T) {
	st := newFakeStore(2)
	s := New(context.Background(), st, &fakeLog{})

	s.SetOutstanding(7, 0)
	s.HandlePieceReceived(7, 0, []byte("x"))

	if _, pending := s.Outstanding(7); pending {
		t.Fatal("outstanding request for peer 7 should be cleared after receipt")
	}
}

func TestOutstandingRequests(t *testing.T) {
	s := New(context.Background(), newFakeStore(4), &fakeLog{})

	if s.IsRequestedElsewhere(3) {
		t.Fatal("nothing outstanding yet")
	}

	s.SetOutstanding(1, 3)
	if !s.IsRequestedElsewhere(3) {
		t.Fatal("piece 3 should now be reported as requested elsewhere")
	}

	s.ClearOutstanding(1)
	if s.IsRequestedElsewhere(3) {
		t.Fatal("clearing the outstanding request should un-mark it")
	}
}

func TestPreferredAndOptimisticSelection(t *testing.T) {
	s := New(context.Background(), newFakeStore(1), &fakeLog{})

	s.SetPreferred([]int{1, 2, 3})
	pref := s.Preferred()
	if !pref[1] || !pref[2] || !pref[3] || len(pref) != 3 {
		t.Fatalf("Preferred() = %v", pref)
	}

	if _, ok := s.Optimistic(); ok {
		t.Fatal("optimistic neighbor should be unset initially")
	}
	s.SetOptimistic(5)
	id, ok := s.Optimistic()
	if !ok || id != 5 {
		t.Fatalf("Optimistic() = (%d, %v), want (5, true)", id, ok)
	}
	s.ClearOptimistic()
	if _, ok := s.Optimistic(); ok {
		t.Fatal("ClearOptimistic should unset the optimistic neighbor")
	}
}
