package leader

import (
	"context"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// decidedMsg is emitted by a commander once its pvalue is decided, so the
// leader can prune it from proposals and advance its decided watermark.
type decidedMsg struct {
	Slot    paxos.Slot
	Command []byte
}

// commander drives phase 2 for a single pvalue: send P2A to every
// acceptor, collect P2B, re-send to stragglers on timeout, broadcast
// Decision to every replica on quorum, or report Preempted on a higher
// observed ballot.
type commander struct {
	leaderID     int
	pvalue       wire.Pvalue
	acceptors    []int
	replicas     []int
	quorum       int
	transport    paxos.Transport
	timeout      time.Duration
}

func (c *commander) run(ctx context.Context, decidedCh chan<- decidedMsg, preemptedCh chan<- paxos.Ballot) {
	type result struct {
		peer int
		p2b  wire.P2B
		err  error
	}
	resultCh := make(chan result, len(c.acceptors))
	pending := make(map[int]bool, len(c.acceptors))
	for _, p := range c.acceptors {
		pending[p] = true
	}
	ballot := fromWireBallot(c.pvalue.Ballot)

	send := func(peer int) {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			resp, err := c.transport.SendP2A(cctx, peer, wire.P2A{FromLeader: c.leaderID, Pvalue: c.pvalue})
			select {
			case resultCh <- result{peer, resp, err}:
			case <-ctx.Done():
			}
		}()
	}
	for p := range pending {
		send(p)
	}

	matched := make(map[int]bool, len(c.acceptors))
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-resultCh:
			if r.err != nil {
				continue
			}
			rb := fromWireBallot(r.p2b.BallotNum)
			if rb.Greater(ballot) {
				select {
				case preemptedCh <- rb:
				case <-ctx.Done():
				}
				return
			}
			if rb == ballot && !matched[r.peer] {
				matched[r.peer] = true
				delete(pending, r.peer)
				if len(matched) >= c.quorum {
					c.broadcastDecision(ctx)
					select {
					case decidedCh <- decidedMsg{Slot: c.pvalue.Slot, Command: c.pvalue.Command}:
					case <-ctx.Done():
					}
					return
				}
			}
		case <-timer.C:
			for p := range pending {
				send(p)
			}
			timer.Reset(c.timeout)
		}
	}
}

func (c *commander) broadcastDecision(ctx context.Context) {
	dec := wire.Decision{Slot: c.pvalue.Slot, Command: c.pvalue.Command}
	for _, r := range c.replicas {
		go func(replica int) {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			_ = c.transport.SendDecision(cctx, replica, dec)
		}(r)
	}
}
