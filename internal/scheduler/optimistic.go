package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gopeers/p2pfileshare/internal/swarm"
)

// Optimistic runs the independent periodic optimistic-unchoke rotation
// described in §4.6: every interval it picks one uniformly-random choked,
// interested, non-preferred peer and unchokes it, choking the previous
// optimistic neighbor unless it is currently in the preferred set.
type Optimistic struct {
	sw       *swarm.State
	log      EventLog
	interval time.Duration
}

func NewOptimistic(sw *swarm.State, log EventLog, interval time.Duration) *Optimistic {
	return &Optimistic{sw: sw, log: log, interval: interval}
}

func (o *Optimistic) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Optimistic) tick(ctx context.Context) {
	preferred := o.sw.Preferred()

	var candidates []int
	for _, l := range o.sw.Links() {
		if l.PeerChoked.Load() && l.PeerInterested.Load() && !preferred[l.ID] {
			candidates = append(candidates, l.ID)
		}
	}

	if len(candidates) == 0 {
		o.sw.ClearOptimistic()
		return
	}

	next := candidates[rand.IntN(len(candidates))]

	current, hasCurrent := o.sw.Optimistic()
	if hasCurrent && current == next {
		return
	}

	if hasCurrent && !preferred[current] {
		for _, l := range o.sw.Links() {
			if l.ID == current {
				l.SendChoke(ctx)
				break
			}
		}
	}

	o.sw.SetOptimistic(next)
	for _, l := range o.sw.Links() {
		if l.ID == next {
			l.SendUnchoke(ctx)
			break
		}
	}
	o.log.OptimisticChanged(next)
}
