package node

import (
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/leader"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/replica"
)

// Status is a high-level, JSON-serializable snapshot of a node suitable
// for external status endpoints and tooling.
type Status struct {
	ID        int
	Ballot    string
	IsLeader  bool
	SlotIn    paxos.Slot
	SlotOut   paxos.Slot
	Pending   int
	Decided   int
	Proposals int
}

// Status queries the leader and replica goroutines for a point-in-time
// snapshot. Safe to call concurrently; it never touches owned state
// directly.
func (n *Node) Status() Status {
	var ls leader.Snapshot
	var rs replica.Snapshot
	if n.leader != nil {
		ls = n.leader.Status()
	}
	if n.replica != nil {
		rs = n.replica.Status()
	}
	return Status{
		ID:        n.opts.ID,
		Ballot:    ls.Ballot.String(),
		IsLeader:  ls.Active,
		SlotIn:    rs.SlotIn,
		SlotOut:   rs.SlotOut,
		Pending:   rs.Pending,
		Decided:   rs.Decided,
		Proposals: ls.Proposals,
	}
}
