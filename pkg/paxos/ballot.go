// Package paxos defines the data model shared by the replica, leader and
// acceptor role-state-machines: ballots, slots, commands, proposals,
// decisions and pvalues, plus the contracts an application supplies to
// drive a deterministic state machine through them.
package paxos

import "fmt"

// Ballot is a totally ordered leader epoch (round, leader_id). Comparison is
// lexicographic on (Round, LeaderID).
type Ballot struct {
	Round    uint64
	LeaderID int
}

// Zero is the smallest possible ballot, held by an acceptor that has never
// promised anything.
var Zero = Ballot{}

// Less reports whether b is strictly ordered before o.
func (b Ballot) Less(o Ballot) bool {
	if b.Round != o.Round {
		return b.Round < o.Round
	}
	return b.LeaderID < o.LeaderID
}

// LessEqual reports whether b is ordered at or before o.
func (b Ballot) LessEqual(o Ballot) bool {
	return b == o || b.Less(o)
}

// Greater reports whether b is strictly ordered after o.
func (b Ballot) Greater(o Ballot) bool {
	return o.Less(b)
}

// Next returns the smallest ballot with a strictly greater round than b,
// owned by leaderID. Used when a leader is preempted and must start a new
// round of phase 1.
func (b Ballot) Next(leaderID int) Ballot {
	return Ballot{Round: b.Round + 1, LeaderID: leaderID}
}

func (b Ballot) String() string {
	return fmt.Sprintf("%d.%d", b.Round, b.LeaderID)
}

// Slot is a position in the replicated command log. Slot 0 is the first.
type Slot = uint64
