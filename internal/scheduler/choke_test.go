package scheduler

import (
	"testing"

	"github.com/gopeers/p2pfileshare/internal/peerlink"
)

func newRankedLink(id int, rate int64) *peerlink.Link {
	l := peerlink.New(id, nil, 0, nil, nil, nil)
	l.CreditDownloaded(rate)
	return l
}

func TestSortByRateDesc(t *testing.T) {
	links := []*peerlink.Link{
		newRankedLink(1, 100),
		newRankedLink(2, 500),
		newRankedLink(3, 300),
	}

	sortByRateDesc(links)

	for i := 0; i+1 < len(links); i++ {
		if links[i].DownloadedSinceReset() < links[i+1].DownloadedSinceReset() {
			t.Fatalf("not sorted descending at %d: %v", i, links)
		}
	}
	if links[0].ID != 2 {
		t.Fatalf("highest-rate link should sort first, got id %d", links[0].ID)
	}
}

func TestSortByRateDesc_PreservesElementsAmongTies(t *testing.T) {
	// with equal rates, the sort should still keep every element (no panic,
	// no lost elements), regardless of which random permutation the shuffle
	// step lands on.
	links := []*peerlink.Link{
		newRankedLink(1, 50),
		newRankedLink(2, 50),
		newRankedLink(3, 50),
		newRankedLink(4, 50),
	}

	sortByRateDesc(links)

	seen := map[int]bool{}
	for _, l := range links {
		seen[l.ID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("sort should preserve all elements, got %v", links)
	}
}
