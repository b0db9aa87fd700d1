package leader

import (
	"context"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// adoptedMsg is emitted by a scout once a majority of acceptors has
// promised its ballot.
type adoptedMsg struct {
	Ballot  paxos.Ballot
	Pvalues []wire.Pvalue
}

// scout drives phase 1 for a single ballot: send P1A to every acceptor,
// collect P1B, re-send to stragglers on timeout, report Adopted on quorum
// or Preempted on a higher observed ballot.
type scout struct {
	leaderID  int
	ballot    paxos.Ballot
	peers     []int
	quorum    int
	transport paxos.Transport
	timeout   time.Duration
	decided   *uint64
}

func (s *scout) run(ctx context.Context, adoptedCh chan<- adoptedMsg, preemptedCh chan<- paxos.Ballot) {
	type result struct {
		peer int
		p1b  wire.P1B
		err  error
	}
	resultCh := make(chan result, len(s.peers))
	pending := make(map[int]bool, len(s.peers))
	for _, p := range s.peers {
		pending[p] = true
	}

	send := func(peer int) {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			resp, err := s.transport.SendP1A(cctx, peer, wire.P1A{
				FromLeader: s.leaderID,
				Ballot:     toWireBallot(s.ballot),
				Decided:    s.decided,
			})
			select {
			case resultCh <- result{peer, resp, err}:
			case <-ctx.Done():
			}
		}()
	}
	for p := range pending {
		send(p)
	}

	matched := make(map[int]bool, len(s.peers))
	var pvalues []wire.Pvalue
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-resultCh:
			if r.err != nil {
				continue // stays pending, retried on next timeout
			}
			rb := fromWireBallot(r.p1b.BallotNum)
			if rb.Greater(s.ballot) {
				select {
				case preemptedCh <- rb:
				case <-ctx.Done():
				}
				return
			}
			if rb == s.ballot && !matched[r.peer] {
				matched[r.peer] = true
				delete(pending, r.peer)
				pvalues = append(pvalues, r.p1b.Accepted...)
				if len(matched) >= s.quorum {
					select {
					case adoptedCh <- adoptedMsg{Ballot: s.ballot, Pvalues: pvalues}:
					case <-ctx.Done():
					}
					return
				}
			}
		case <-timer.C:
			for p := range pending {
				send(p)
			}
			timer.Reset(s.timeout)
		}
	}
}
