// Package storage defines the durable append-only log contracts used by the
// acceptor and replica roles. Records are opaque at this layer: callers
// encode/decode command payloads with their own paxos.Codec.
package storage

import "github.com/paxoslabs/go-mpaxos/pkg/paxos"

// PvalueRecord is the durable form of a paxos.Pvalue: the command is kept
// as the bytes the application's Codec produced, never interpreted here.
type PvalueRecord struct {
	Ballot  paxos.Ballot
	Slot    paxos.Slot
	Command []byte
}

// DecisionRecord is the durable form of a paxos.Decision.
type DecisionRecord struct {
	Slot    paxos.Slot
	Command []byte
}

// AcceptorStore persists an acceptor's ballot_num and accepted pvalue set.
// Implementations must make SetBallot and AppendAccepted durable — return
// only after the write is stable — because the acceptor awaits them
// before acknowledging a P1A/P2A.
type AcceptorStore interface {
	// LoadBallot returns the highest promised ballot, or paxos.Zero if none
	// was ever promised.
	LoadBallot() (paxos.Ballot, error)
	// SetBallot durably records the new highest promised ballot. Callers
	// must never call this with a ballot lower than the last loaded one.
	SetBallot(b paxos.Ballot) error
	// LoadAccepted replays the full accepted pvalue set recorded so far.
	LoadAccepted() ([]PvalueRecord, error)
	// AppendAccepted durably records one more accepted pvalue. Accepted
	// pvalues are never removed or rewritten, only appended.
	AppendAccepted(rec PvalueRecord) error
	Close() error
}

// DecisionStore persists a replica's decision log in the order decisions
// arrive (spec §4.4: the "replica.paxos" file), used to rebuild app_state
// on restart without contacting peers.
type DecisionStore interface {
	// LoadDecisions replays all decisions recorded so far, in the order they
	// were appended, which is not necessarily slot order.
	LoadDecisions() ([]DecisionRecord, error)
	// AppendDecision durably records one more decided slot.
	AppendDecision(rec DecisionRecord) error
	Close() error
}
