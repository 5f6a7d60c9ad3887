// Package scheduler implements the two independent periodic tasks that
// drive the tit-for-tat choking discipline: the preferred-neighbor
// rechoke (§4.5) and the optimistic unchoke (§4.6).
package scheduler

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/gopeers/p2pfileshare/internal/peerlink"
	"github.com/gopeers/p2pfileshare/internal/swarm"
)

// EventLog is the logging collaborator both schedulers in this package
// depend on.
type EventLog interface {
	PreferredChanged(ids []int)
	OptimisticChanged(peer int)
}

// Choke runs the periodic preferred-neighbor reselection described in
// §4.5: every interval it ranks interested peers by measured download
// rate (or, once this peer is a seed, by a uniform random permutation),
// unchokes the top k, chokes everyone else not also the optimistic
// neighbor, and resets every link's rate counter.
type Choke struct {
	sw       *swarm.State
	log      EventLog
	k        int
	interval time.Duration
}

func NewChoke(sw *swarm.State, log EventLog, k int, interval time.Duration) *Choke {
	return &Choke{sw: sw, log: log, k: k, interval: interval}
}

// Run ticks every c.interval until ctx is done.
func (c *Choke) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Choke) tick(ctx context.Context) {
	candidates := c.sw.InterestedLinks()

	if len(candidates) == 0 {
		c.resetCounters(c.sw.Links())
		return
	}

	seeding := c.sw.Store().Complete()
	if seeding {
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	} else {
		sortByRateDesc(candidates)
	}

	n := min(c.k, len(candidates))
	selected := candidates[:n]

	newPreferred := make([]int, 0, n)
	for _, l := range selected {
		newPreferred = append(newPreferred, l.ID)
	}

	optimistic, hasOptimistic := c.sw.Optimistic()
	preferredSet := make(map[int]bool, n)
	for _, id := range newPreferred {
		preferredSet[id] = true
	}

	for _, l := range c.sw.Links() {
		shouldUnchoke := preferredSet[l.ID] || (hasOptimistic && l.ID == optimistic)
		if shouldUnchoke {
			l.SendUnchoke(ctx)
		} else {
			l.SendChoke(ctx)
		}
	}

	c.sw.SetPreferred(newPreferred)
	c.log.PreferredChanged(newPreferred)

	c.resetCounters(c.sw.Links())
}

func (c *Choke) resetCounters(links []*peerlink.Link) {
	for _, l := range links {
		l.ResetDownloadCounter()
	}
}

// sortByRateDesc sorts by downloaded-bytes descending, breaking ties
// uniformly at random (by shuffling first, then using a stable sort on
// the rate key so equal-rate entries keep their shuffled relative order).
func sortByRateDesc(links []*peerlink.Link) {
	rand.Shuffle(len(links), func(i, j int) {
		links[i], links[j] = links[j], links[i]
	})
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].DownloadedSinceReset() > links[j].DownloadedSinceReset()
	})
}
