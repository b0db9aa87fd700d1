// Package acceptor implements the acceptor role-state-machine: durably
// voting on P1A/P2A messages, never forgetting a promise or an accepted
// pvalue. An Acceptor has no notion of commands, only opaque bytes — it
// is the one role that never needs the application's Codec.
package acceptor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/paxoslabs/go-mpaxos/pkg/internal/logutil"
	obsmetrics "github.com/paxoslabs/go-mpaxos/pkg/observability/metrics"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
	"github.com/paxoslabs/go-mpaxos/pkg/storage"
)

// Acceptor holds the highest ballot it has promised and the pvalues it has
// accepted, one per slot (ballot monotonicity means a later accept at the
// same slot always supersedes an earlier one, so a plain map suffices in
// place of a general set).
type Acceptor struct {
	id     int
	store  storage.AcceptorStore
	logger *log.Logger
	fatal  func(error)

	mu       sync.Mutex
	ballot   paxos.Ballot
	accepted map[paxos.Slot]storage.PvalueRecord
}

// New creates an Acceptor and replays store to recover ballot_num and
// accepted from a prior run.
func New(id int, store storage.AcceptorStore, logger *log.Logger) (*Acceptor, error) {
	a := &Acceptor{id: id, store: store, logger: logger, fatal: func(error) {}, accepted: make(map[paxos.Slot]storage.PvalueRecord)}
	b, err := store.LoadBallot()
	if err != nil {
		return nil, err
	}
	a.ballot = b
	recs, err := store.LoadAccepted()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if cur, ok := a.accepted[r.Slot]; !ok || cur.Ballot.Less(r.Ballot) {
			a.accepted[r.Slot] = r
		}
	}
	obsmetrics.BallotNum.Set(float64(a.ballot.Round))
	logutil.Infof(logger, "acceptor %d recovered: ballot=%s accepted_slots=%d", id, a.ballot, len(a.accepted))
	return a, nil
}

// OnFatal installs fn to be called when a durable write fails. The
// acceptor withholds the dependent ack either way; fn is how the owning
// process learns it must abort rather than let callers retry forever
// against a disk that is no longer accepting writes.
func (a *Acceptor) OnFatal(fn func(error)) {
	a.mu.Lock()
	a.fatal = fn
	a.mu.Unlock()
}

// HandleP1A processes a scout's prepare, promising req.Ballot durably
// before replying if it is higher than the current promise.
func (a *Acceptor) HandleP1A(ctx context.Context, req wire.P1A) (wire.P1B, error) {
	b := fromWireBallot(req.Ballot)
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.Greater(a.ballot) {
		if err := a.store.SetBallot(b); err != nil {
			obsmetrics.DurabilityFailures.Inc()
			fatal := a.fatal
			go fatal(fmt.Errorf("acceptor %d: durable SetBallot failed: %w: %v", a.id, paxos.ErrDurabilityFailed, err))
			return wire.P1B{}, err
		}
		a.ballot = b
		obsmetrics.BallotNum.Set(float64(a.ballot.Round))
	}
	return wire.P1B{
		FromAcceptor: a.id,
		BallotNum:    toWireBallot(a.ballot),
		Accepted:     a.snapshotAccepted(req.Decided),
	}, nil
}

// HandleP2A processes a commander's accept request, recording the pvalue
// durably before replying if its ballot is at least the current promise.
func (a *Acceptor) HandleP2A(ctx context.Context, req wire.P2A) (wire.P2B, error) {
	b := fromWireBallot(req.Pvalue.Ballot)
	a.mu.Lock()
	defer a.mu.Unlock()
	if !b.Less(a.ballot) {
		rec := storage.PvalueRecord{Ballot: b, Slot: req.Pvalue.Slot, Command: req.Pvalue.Command}
		if err := a.store.AppendAccepted(rec); err != nil {
			obsmetrics.DurabilityFailures.Inc()
			fatal := a.fatal
			go fatal(fmt.Errorf("acceptor %d: durable AppendAccepted failed: %w: %v", a.id, paxos.ErrDurabilityFailed, err))
			return wire.P2B{}, err
		}
		if b.Greater(a.ballot) {
			if err := a.store.SetBallot(b); err != nil {
				obsmetrics.DurabilityFailures.Inc()
				fatal := a.fatal
				go fatal(fmt.Errorf("acceptor %d: durable SetBallot failed: %w: %v", a.id, paxos.ErrDurabilityFailed, err))
				return wire.P2B{}, err
			}
		}
		a.ballot = b
		if cur, ok := a.accepted[req.Pvalue.Slot]; !ok || cur.Ballot.Less(b) {
			a.accepted[req.Pvalue.Slot] = rec
		}
		obsmetrics.BallotNum.Set(float64(a.ballot.Round))
		obsmetrics.AcceptedTotal.Inc()
	}
	return wire.P2B{FromAcceptor: a.id, BallotNum: toWireBallot(a.ballot)}, nil
}

// snapshotAccepted returns the current accepted set as wire pvalues,
// pruning anything at or below decided since the requesting leader
// already knows those slots.
func (a *Acceptor) snapshotAccepted(decided *uint64) []wire.Pvalue {
	out := make([]wire.Pvalue, 0, len(a.accepted))
	for slot, rec := range a.accepted {
		if decided != nil && slot <= *decided {
			continue
		}
		out = append(out, wire.Pvalue{
			Ballot:  toWireBallot(rec.Ballot),
			Slot:    rec.Slot,
			Command: rec.Command,
		})
	}
	return out
}

func toWireBallot(b paxos.Ballot) wire.Ballot {
	return wire.Ballot{Round: b.Round, LeaderID: b.LeaderID}
}

func fromWireBallot(b wire.Ballot) paxos.Ballot {
	return paxos.Ballot{Round: b.Round, LeaderID: b.LeaderID}
}
