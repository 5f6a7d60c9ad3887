// Package swarm holds the process-wide registry of peer links, the
// preferred-neighbor and optimistic-neighbor selections, and the global
// outstanding-request map. It is the "single swarm value" described in the
// core design's notes on shared mutable state.
package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gopeers/p2pfileshare/internal/peerlink"
	"github.com/gopeers/p2pfileshare/internal/store"
)

// EventLog is the subset of the event-logging collaborator contract the
// swarm needs for piece-ingest and completion events.
type EventLog interface {
	DownloadedPiece(index, from, have int)
	LocalComplete()
}

// State is the process-wide registry described in §3: a mapping from
// remote peer id to PeerLink, the current preferred-neighbor set, the
// current optimistic neighbor, and the outstanding-request map.
type State struct {
	ctx context.Context

	store store.Store
	log   EventLog

	mu    sync.RWMutex
	links map[int]*peerlink.Link

	selMu      sync.RWMutex
	preferred  map[int]bool
	optimistic *int

	reqMu       sync.Mutex
	outstanding map[int]int // peer id -> piece index

	completeOnce sync.Once

	fatal chan error
}

// New constructs an empty swarm bound to st and log. ctx is used to bound
// outbound sends issued by swarm-wide fan-out (HAVE broadcast, interest
// recompute) during shutdown.
func New(ctx context.Context, st store.Store, log EventLog) *State {
	return &State{
		ctx:         ctx,
		store:       st,
		log:         log,
		links:       make(map[int]*peerlink.Link),
		preferred:   make(map[int]bool),
		outstanding: make(map[int]int),
		fatal:       make(chan error, 1),
	}
}

// Fatal returns the channel the lifecycle controller watches for a
// process-level error (§7: "Piece store I/O error — Fatal"). At most one
// error is ever delivered; later fatal conditions are dropped since the
// first one is already driving shutdown.
func (s *State) Fatal() <-chan error {
	return s.fatal
}

func (s *State) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// Add installs a link, inserted during handshake completion per §5.
func (s *State) Add(l *peerlink.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ID] = l
}

// Remove tears down bookkeeping for a link that has gone away (stream
// error or shutdown). Its outstanding request, if any, is cleared.
func (s *State) Remove(id int) {
	s.mu.Lock()
	delete(s.links, id)
	s.mu.Unlock()

	s.reqMu.Lock()
	delete(s.outstanding, id)
	s.reqMu.Unlock()
}

// Links returns a stable snapshot slice of the currently installed links,
// safe for concurrent reads by schedulers and the request driver.
func (s *State) Links() []*peerlink.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*peerlink.Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

func (s *State) get(id int) (*peerlink.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

// Store returns the swarm's piece-store handle.
func (s *State) Store() store.Store { return s.store }

// Preferred returns the current preferred-neighbor set.
func (s *State) Preferred() map[int]bool {
	s.selMu.RLock()
	defer s.selMu.RUnlock()

	out := make(map[int]bool, len(s.preferred))
	for id := range s.preferred {
		out[id] = true
	}
	return out
}

// SetPreferred atomically replaces the preferred-neighbor set (§4.5 step 6).
func (s *State) SetPreferred(ids []int) {
	next := make(map[int]bool, len(ids))
	for _, id := range ids {
		next[id] = true
	}

	s.selMu.Lock()
	s.preferred = next
	s.selMu.Unlock()
}

// Optimistic returns the current optimistic neighbor id, or (0, false) if
// unset.
func (s *State) Optimistic() (int, bool) {
	s.selMu.RLock()
	defer s.selMu.RUnlock()

	if s.optimistic == nil {
		return 0, false
	}
	return *s.optimistic, true
}

// SetOptimistic replaces the optimistic neighbor.
func (s *State) SetOptimistic(id int) {
	s.selMu.Lock()
	s.optimistic = &id
	s.selMu.Unlock()
}

// ClearOptimistic unsets the optimistic slot.
func (s *State) ClearOptimistic() {
	s.selMu.Lock()
	s.optimistic = nil
	s.selMu.Unlock()
}

// Outstanding reports the piece index, if any, outstanding for peer.
func (s *State) Outstanding(peer int) (int, bool) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	idx, ok := s.outstanding[peer]
	return idx, ok
}

// SetOutstanding records that a REQUEST for index was sent to peer.
func (s *State) SetOutstanding(peer, index int) {
	s.reqMu.Lock()
	s.outstanding[peer] = index
	s.reqMu.Unlock()
}

// ClearOutstanding drops peer's outstanding request, if any.
func (s *State) ClearOutstanding(peer int) {
	s.reqMu.Lock()
	delete(s.outstanding, peer)
	s.reqMu.Unlock()
}

// IsRequestedElsewhere reports whether index is already some peer's
// outstanding request — a best-effort global dedup hint (§4.4, §9: races
// are acceptable since duplicate PIECE receipts are idempotent).
func (s *State) IsRequestedElsewhere(index int) bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	for _, idx := range s.outstanding {
		if idx == index {
			return true
		}
	}
	return false
}

// HandlePieceReceived implements §4.3 in full: dedup against the local
// store, durable write, rate credit, outstanding-request cleanup, HAVE
// fan-out, swarm-wide interest recompute, and completion logging. A
// piece store I/O error is Fatal per §7: it is reported on the Fatal
// channel for the lifecycle controller to escalate into process exit,
// rather than silently dropping the piece.
func (s *State) HandlePieceReceived(fromPeer, index int, data []byte) {
	if s.store.Has(index) {
		s.ClearOutstanding(fromPeer)
		return
	}

	if err := s.store.Write(index, data); err != nil {
		s.reportFatal(fmt.Errorf("swarm: write piece %d: %w", index, err))
		return
	}

	if l, ok := s.get(fromPeer); ok {
		l.CreditDownloaded(int64(len(data)))
	}

	s.log.DownloadedPiece(index, fromPeer, s.store.Bitfield().Count())

	s.ClearOutstanding(fromPeer)

	s.BroadcastHave(index, fromPeer)
	s.RecomputeInterestAll()

	if s.store.Complete() {
		s.completeOnce.Do(func() { s.log.LocalComplete() })
	}
}

// BroadcastHave sends HAVE(index) on every link other than exceptPeer.
func (s *State) BroadcastHave(index, exceptPeer int) {
	for _, l := range s.Links() {
		if l.ID == exceptPeer {
			continue
		}
		l.SendHave(s.ctx, index)
	}
}

// RecomputeInterestAll re-runs the interest update on every installed
// link.
func (s *State) RecomputeInterestAll() {
	for _, l := range s.Links() {
		l.UpdateInterest(s.ctx)
	}
}

// InterestedLinks returns the links currently advertising interest in us,
// sorted by id for deterministic iteration order prior to any
// randomization the caller applies.
func (s *State) InterestedLinks() []*peerlink.Link {
	all := s.Links()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := all[:0:0]
	for _, l := range all {
		if l.PeerInterested.Load() {
			out = append(out, l)
		}
	}
	return out
}
