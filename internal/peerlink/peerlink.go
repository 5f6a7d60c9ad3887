// Package peerlink implements the per-connection peer state machine: the
// four choke/interest flags, the remote bitfield, rate accounting, and
// message dispatch.
package peerlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gopeers/p2pfileshare/internal/bitfield"
	"github.com/gopeers/p2pfileshare/internal/store"
	"github.com/gopeers/p2pfileshare/internal/wire"
	"golang.org/x/sync/errgroup"
)

const outboundBacklog = 256

// EventLog is the subset of the event-logging collaborator contract that a
// link needs to record the events it observes directly.
type EventLog interface {
	ChokedBy(peer int)
	UnchokedBy(peer int)
	ReceivedHave(peer, index int)
	ReceivedInterested(peer int)
	ReceivedNotInterested(peer int)
}

// Swarm is the process-wide coordination a link defers to: piece ingest
// (which fans out to the store, the outstanding-request map, HAVE
// broadcast, and every other link's interest state) is swarm-wide, so the
// link only reports the event rather than performing it itself. Modeled as
// an interface so peerlink never imports the swarm package back.
type Swarm interface {
	HandlePieceReceived(fromPeer, index int, data []byte)
}

// Link is one connected peer: the remote id, the bidirectional byte
// stream, the four choke/interest flags, the remote's bitfield, and a
// download-rate counter reset once per choke-scheduler tick.
type Link struct {
	ID   int
	conn net.Conn

	store store.Store
	swarm Swarm
	log   EventLog

	AmChoked       atomic.Bool
	AmInterested   atomic.Bool
	PeerChoked     atomic.Bool
	PeerInterested atomic.Bool

	peerBitfield *bitfield.Bitfield

	downloadedSinceReset atomic.Int64
	lastReset            atomic.Pointer[time.Time]

	outq   chan *wire.Message
	grp    *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Link in its post-handshake initial state: am_choked and
// peer_choked true, am_interested and peer_interested false.
func New(id int, conn net.Conn, pieceCount int, st store.Store, sw Swarm, log EventLog) *Link {
	l := &Link{
		ID:           id,
		conn:         conn,
		store:        st,
		swarm:        sw,
		log:          log,
		peerBitfield: bitfield.New(pieceCount),
		outq:         make(chan *wire.Message, outboundBacklog),
	}
	l.AmChoked.Store(true)
	l.PeerChoked.Store(true)
	now := time.Now()
	l.lastReset.Store(&now)
	return l
}

// Start launches the link's read and write loops under ctx.
func (l *Link) Start(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	g, gctx := errgroup.WithContext(childCtx)
	l.grp = g

	g.Go(func() error { return l.readLoop(gctx) })
	g.Go(func() error { return l.writeLoop(gctx) })
}

// Wait blocks until both loops exit and returns the first error, if any.
// A framing error or stream close is fatal for this link only.
func (l *Link) Wait() error {
	if l.grp == nil {
		return nil
	}
	err := l.grp.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears the link down: cancels its loops, closes the socket, and
// waits for both goroutines to exit.
func (l *Link) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	_ = l.conn.Close()
	return l.Wait()
}

// PeerBitfield returns a read-safe snapshot of the remote's bitfield.
func (l *Link) PeerBitfield() *bitfield.Bitfield {
	return l.peerBitfield.Snapshot()
}

// HasInterestingPieces reports whether the remote has at least one piece
// the local store lacks.
func (l *Link) HasInterestingPieces() bool {
	return l.peerBitfield.Interesting(l.store.Bitfield())
}

// DownloadedSinceReset returns the bytes credited to this link since the
// last choke-scheduler tick.
func (l *Link) DownloadedSinceReset() int64 {
	return l.downloadedSinceReset.Load()
}

// ResetDownloadCounter zeroes the rate counter; called once per
// choke-scheduler tick (§4.5 step 6).
func (l *Link) ResetDownloadCounter() {
	l.downloadedSinceReset.Store(0)
	now := time.Now()
	l.lastReset.Store(&now)
}

// send enqueues a message for the write loop, blocking while the queue is
// full. The message is dropped only once ctx is done; otherwise no frame is
// dropped, so per-link writes stay in program order.
func (l *Link) send(ctx context.Context, m *wire.Message) {
	select {
	case l.outq <- m:
	case <-ctx.Done():
	}
}

// UpdateInterest recomputes am_interested from the current local and
// remote bitfields and emits INTERESTED/NOT_INTERESTED only on change, per
// §4.2. Safe to call from any goroutine.
func (l *Link) UpdateInterest(ctx context.Context) {
	wantsSomething := l.peerBitfield.Interesting(l.store.Bitfield())

	if !l.AmInterested.CompareAndSwap(!wantsSomething, wantsSomething) {
		return
	}

	if wantsSomething {
		l.send(ctx, wire.NewInterested())
	} else {
		l.send(ctx, wire.NewNotInterested())
	}
}

// SendChoke transitions peer_choked to true and emits CHOKE only if it
// was previously false.
func (l *Link) SendChoke(ctx context.Context) {
	if l.PeerChoked.CompareAndSwap(false, true) {
		l.send(ctx, wire.NewChoke())
	}
}

// SendUnchoke transitions peer_choked to false and emits UNCHOKE only if
// it was previously true.
func (l *Link) SendUnchoke(ctx context.Context) {
	if l.PeerChoked.CompareAndSwap(true, false) {
		l.send(ctx, wire.NewUnchoke())
	}
}

// PeekBitfield attempts to read one BITFIELD frame within timeout, before
// the link's read loop starts. Absence (timeout or any other error) is not
// an error per §4.7 steps 4-5 — a peer with no pieces sends no BITFIELD.
// If a frame of a different type arrives first it is discarded; in
// practice the only message a well-behaved peer sends before its first
// REQUEST is BITFIELD.
func (l *Link) PeekBitfield(timeout time.Duration) {
	_ = l.conn.SetReadDeadline(time.Now().Add(timeout))
	defer l.conn.SetReadDeadline(time.Time{})

	msg, err := wire.ReadMessage(l.conn)
	if err != nil || msg == nil || msg.Type != wire.Bitfield {
		return
	}

	bf, err := bitfield.FromBytes(l.peerBitfield.Len(), msg.Payload)
	if err != nil {
		return
	}
	l.peerBitfield.Replace(bf)
}

// SendBitfieldIfNonEmpty sends the local bitfield if it has at least one
// set bit, per §4.7 steps 4-5.
func (l *Link) SendBitfieldIfNonEmpty(ctx context.Context) {
	bf := l.store.Bitfield()
	if bf.Count() == 0 {
		return
	}
	l.send(ctx, wire.NewBitfield(bf.Bytes()))
}

// SendRequest issues a REQUEST for piece index. Callers (the request
// driver) are responsible for the single-in-flight-per-peer gate.
func (l *Link) SendRequest(ctx context.Context, index int) {
	l.send(ctx, wire.NewRequest(uint32(index)))
}

// SendHave broadcasts that the local store now has piece index.
func (l *Link) SendHave(ctx context.Context, index int) {
	l.send(ctx, wire.NewHave(uint32(index)))
}

func (l *Link) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.outq:
			if err := wire.WriteMessage(l.conn, msg); err != nil {
				return fmt.Errorf("peerlink: write to peer %d: %w", l.ID, err)
			}
		}
	}
}

func (l *Link) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := wire.ReadMessage(l.conn)
		if err != nil {
			return fmt.Errorf("peerlink: read from peer %d: %w", l.ID, err)
		}

		l.dispatch(ctx, msg)
	}
}

func (l *Link) dispatch(ctx context.Context, m *wire.Message) {
	switch m.Type {
	case wire.Choke:
		l.AmChoked.Store(true)
		l.log.ChokedBy(l.ID)

	case wire.Unchoke:
		l.AmChoked.Store(false)
		l.log.UnchokedBy(l.ID)

	case wire.Interested:
		l.PeerInterested.Store(true)
		l.log.ReceivedInterested(l.ID)

	case wire.NotInterested:
		l.PeerInterested.Store(false)
		l.log.ReceivedNotInterested(l.ID)

	case wire.Have:
		index, err := m.ParseIndex()
		if err != nil {
			return
		}
		l.peerBitfield.Set(int(index))
		l.log.ReceivedHave(l.ID, int(index))
		l.UpdateInterest(ctx)

	case wire.Bitfield:
		bf, err := bitfield.FromBytes(l.peerBitfield.Len(), m.Payload)
		if err != nil {
			return
		}
		l.peerBitfield.Replace(bf)
		l.UpdateInterest(ctx)

	case wire.Request:
		index, err := m.ParseIndex()
		if err != nil {
			return
		}
		l.handleRequest(ctx, int(index))

	case wire.Piece:
		index, data, err := m.ParsePiece()
		if err != nil {
			return
		}
		l.swarm.HandlePieceReceived(l.ID, int(index), data)
	}
}

// CreditDownloaded adds n bytes to the link's rate counter. Called by the
// swarm only for pieces it actually accepted (§4.3 step 3); duplicate
// deliveries of an already-held piece are not credited.
func (l *Link) CreditDownloaded(n int64) {
	l.downloadedSinceReset.Add(n)
}

// handleRequest serves PIECE if the remote is unchoked and the local
// store has the piece; otherwise it is silently dropped per §4.2 — the
// remote must retry after a subsequent UNCHOKE.
func (l *Link) handleRequest(ctx context.Context, index int) {
	if l.PeerChoked.Load() {
		return
	}
	if !l.store.Has(index) {
		return
	}

	data, err := l.store.Read(index)
	if err != nil {
		return
	}
	l.send(ctx, wire.NewPiece(uint32(index), data))
}
