// Package requestdriver implements the continuous sweep that picks pieces
// to request from unchoked, interesting neighbors (§4.4).
package requestdriver

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gopeers/p2pfileshare/internal/swarm"
)

const sweepInterval = 100 * time.Millisecond

// Driver runs the request-pipelining sweep: one outstanding REQUEST per
// peer at a time, picked uniformly at random from pieces the peer has
// and we lack, with a best-effort global dedup against other peers'
// outstanding requests.
type Driver struct {
	sw *swarm.State
}

func New(sw *swarm.State) *Driver {
	return &Driver{sw: sw}
}

func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Driver) sweep(ctx context.Context) {
	for _, l := range d.sw.Links() {
		if l.AmChoked.Load() || !l.HasInterestingPieces() {
			d.sw.ClearOutstanding(l.ID)
			continue
		}

		if _, pending := d.sw.Outstanding(l.ID); pending {
			continue
		}

		local := d.sw.Store().Bitfield()
		wanted := l.PeerBitfield().WantedFrom(local)

		var eligible []int
		for _, idx := range wanted {
			if local.Has(idx) || d.sw.IsRequestedElsewhere(idx) {
				continue
			}
			eligible = append(eligible, idx)
		}
		if len(eligible) == 0 {
			continue
		}

		index := eligible[rand.IntN(len(eligible))]
		l.SendRequest(ctx, index)
		d.sw.SetOutstanding(l.ID, index)
	}
}
