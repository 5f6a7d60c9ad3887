// Package lifecycle implements the controller described in §4.7: startup
// ordering, dialing lower-id peers, accepting inbound connections,
// monitoring global completion, and orchestrating shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gopeers/p2pfileshare/internal/config"
	"github.com/gopeers/p2pfileshare/internal/eventlog"
	"github.com/gopeers/p2pfileshare/internal/peerlink"
	"github.com/gopeers/p2pfileshare/internal/requestdriver"
	"github.com/gopeers/p2pfileshare/internal/scheduler"
	"github.com/gopeers/p2pfileshare/internal/store"
	"github.com/gopeers/p2pfileshare/internal/swarm"
	"github.com/gopeers/p2pfileshare/internal/wire"
	"golang.org/x/sync/errgroup"
)

const (
	bitfieldWaitTimeout = 5 * time.Second
	completionInterval  = 5 * time.Second

	dialMaxAttempts  = 4
	dialInitialDelay = 200 * time.Millisecond
	dialMaxDelay     = 2 * time.Second
)

// Controller drives one peer process through startup, steady-state
// operation, and shutdown.
type Controller struct {
	self   config.PeerDescriptor
	roster []config.PeerDescriptor
	params config.RunParameters

	workDir string

	store store.Store
	log   *eventlog.Log
	sw    *swarm.State

	choke      *scheduler.Choke
	optimistic *scheduler.Optimistic
	driver     *requestdriver.Driver

	listener net.Listener
}

// New loads no files itself; it wires together an already-opened store,
// log, roster, and run parameters for peer id self into a Controller.
func New(workDir string, params config.RunParameters, roster []config.PeerDescriptor, self config.PeerDescriptor, st store.Store, log *eventlog.Log) *Controller {
	sw := swarm.New(context.Background(), st, log)

	return &Controller{
		self:       self,
		roster:     roster,
		params:     params,
		workDir:    workDir,
		store:      st,
		log:        log,
		sw:         sw,
		choke:      scheduler.NewChoke(sw, log, params.PreferredNeighborCount, params.UnchokingInterval),
		optimistic: scheduler.NewOptimistic(sw, log, params.OptimisticInterval),
		driver:     requestdriver.New(sw),
	}
}

// Run executes the full lifecycle: bind, dial lower-id peers, accept
// inbound connections, start the schedulers and completion monitor, and
// block until the swarm is globally complete or ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.listen(); err != nil {
		return err
	}
	defer c.listener.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)

	for _, peer := range config.LowerIDPeers(c.roster, c.self.ID) {
		peer := peer
		eg.Go(func() error {
			c.dial(egCtx, peer)
			return nil
		})
	}

	eg.Go(func() error { return c.acceptLoop(egCtx) })
	eg.Go(func() error { c.choke.Run(egCtx); return nil })
	eg.Go(func() error { c.optimistic.Run(egCtx); return nil })
	eg.Go(func() error { c.driver.Run(egCtx); return nil })
	eg.Go(func() error { return c.completionMonitor(egCtx, cancel) })
	eg.Go(func() error { return c.watchFatal(egCtx) })

	err := eg.Wait()
	c.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.self.Port))
	if err != nil {
		return fmt.Errorf("lifecycle: bind port %d: %w", c.self.Port, err)
	}
	c.listener = ln
	return nil
}

// dial connects outbound to a lower-id peer, exchanges handshake and
// bitfield, and installs the link. A lower-id peer may not have started
// listening yet, so the connection attempt is retried a handful of times
// with backoff before being treated as the non-fatal dial failure
// described in §7 — the peer may later dial us instead.
func (c *Controller) dial(ctx context.Context, peer config.PeerDescriptor) {
	addr := net.JoinHostPort(peer.Host, strconv.Itoa(peer.Port))

	conn := c.dialPeerWithBackoff(ctx, addr)
	if conn == nil {
		return
	}

	if err := wire.WriteHandshake(conn, wire.Handshake{PeerID: uint32(c.self.ID)}); err != nil {
		conn.Close()
		return
	}
	remote, err := wire.ReadHandshake(conn)
	if err != nil || remote.PeerID != uint32(peer.ID) {
		conn.Close()
		return
	}

	c.log.ConnectedOutbound(peer.ID)

	link := peerlink.New(peer.ID, conn, c.params.PieceCount, c.store, c.sw, c.log)
	link.SendBitfieldIfNonEmpty(ctx)
	readInboundBitfieldBestEffort(link, bitfieldWaitTimeout)

	c.sw.Add(link)
	link.UpdateInterest(ctx)
	link.Start(ctx)
	c.trackLink(link)
}

// dialPeerWithBackoff attempts to connect to addr up to dialMaxAttempts
// times, doubling the wait between attempts (capped at dialMaxDelay) so a
// lower-id peer that hasn't opened its listening socket yet still gets
// picked up. Returns nil once attempts are exhausted or ctx is done.
func (c *Controller) dialPeerWithBackoff(ctx context.Context, addr string) net.Conn {
	delay := dialInitialDelay

	for attempt := 1; attempt <= dialMaxAttempts; attempt++ {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn
		}
		if attempt == dialMaxAttempts {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		delay *= 2
		if delay > dialMaxDelay {
			delay = dialMaxDelay
		}
	}
	return nil
}

func (c *Controller) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.listener.Close()
	}()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("lifecycle: accept: %w", err)
			}
		}

		go c.acceptOne(ctx, conn)
	}
}

func (c *Controller) acceptOne(ctx context.Context, conn net.Conn) {
	remote, err := wire.ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	if _, err := config.Self(c.roster, int(remote.PeerID)); err != nil {
		conn.Close()
		return
	}

	if err := wire.WriteHandshake(conn, wire.Handshake{PeerID: uint32(c.self.ID)}); err != nil {
		conn.Close()
		return
	}

	c.log.ConnectedInbound(int(remote.PeerID))

	link := peerlink.New(int(remote.PeerID), conn, c.params.PieceCount, c.store, c.sw, c.log)
	link.SendBitfieldIfNonEmpty(ctx)
	readInboundBitfieldBestEffort(link, bitfieldWaitTimeout)

	c.sw.Add(link)
	link.UpdateInterest(ctx)
	link.Start(ctx)
	c.trackLink(link)
}

// trackLink removes link from the swarm once its read/write loops exit —
// on a framing error, a stream close, or process shutdown — so a dead
// peer's link neither lingers in the completion monitor's bitfield scan
// nor leaves its outbound queue undrained for the choke/optimistic
// schedulers and request driver to eventually block on (§3, §7).
func (c *Controller) trackLink(link *peerlink.Link) {
	go func() {
		link.Wait()
		c.sw.Remove(link.ID)
	}()
}

// readInboundBitfieldBestEffort waits up to timeout for an initial
// BITFIELD frame, before the link's read loop starts. Absence is not an
// error: a peer with no pieces sends none.
func readInboundBitfieldBestEffort(l *peerlink.Link, timeout time.Duration) {
	l.PeekBitfield(timeout)
}

// watchFatal escalates a piece-store I/O error reported on the swarm's
// Fatal channel (§7: "Piece store I/O error — Fatal") into this run's
// error return, which cancels every other goroutine in the group and
// propagates up to cmd/peer/main.go's non-zero exit.
func (c *Controller) watchFatal(ctx context.Context) error {
	select {
	case err := <-c.sw.Fatal():
		return err
	case <-ctx.Done():
		return nil
	}
}

func (c *Controller) completionMonitor(ctx context.Context, shutdown context.CancelFunc) error {
	ticker := time.NewTicker(completionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.globallyComplete() {
				shutdown()
				return nil
			}
		}
	}
}

// globallyComplete implements the deadlock-safeguard weakening of §9's
// open question: the local file is complete and no installed link still
// has pieces we lack. Requiring every remote bitfield to reach full
// cardinality can stall forever if a peer disconnects before its final
// HAVE broadcasts land.
func (c *Controller) globallyComplete() bool {
	if !c.store.Complete() {
		return false
	}
	for _, l := range c.sw.Links() {
		if l.HasInterestingPieces() {
			return false
		}
	}
	return true
}

func (c *Controller) shutdown() {
	for _, l := range c.sw.Links() {
		_ = l.Close()
	}
	_ = c.store.Close()
	_ = c.log.Close()
}

// WorkFilePath returns the path to the shared file inside this peer's
// subdirectory, per the filesystem layout in §6.
func WorkFilePath(workDir string, peerID int, fileName string) string {
	return filepath.Join(workDir, strconv.Itoa(peerID), fileName)
}
