package paxos

// Pvalue is the triple (Ballot, Slot, Command) an acceptor records on
// accepting a P2a: "this acceptor accepted Command for Slot under Ballot".
type Pvalue struct {
	Ballot  Ballot
	Slot    Slot
	Command Command
}

// Proposal is a (Slot, Command) pair a replica or leader wishes to get
// decided.
type Proposal struct {
	Slot    Slot
	Command Command
}

// Decision is a (Slot, Command) pair indicating consensus. Once recorded it
// is permanent and identical at every replica.
type Decision struct {
	Slot    Slot
	Command Command
}

// PmaxByCommand reduces a set of pvalues to, for each distinct slot, the
// command carried by the pvalue with the greatest ballot at that slot (the
// pick-max rule applied on leader adoption).
func PmaxByCommand(pvalues []Pvalue) map[Slot]Command {
	best := make(map[Slot]Ballot)
	out := make(map[Slot]Command)
	for _, pv := range pvalues {
		if cur, ok := best[pv.Slot]; !ok || cur.Less(pv.Ballot) {
			best[pv.Slot] = pv.Ballot
			out[pv.Slot] = pv.Command
		}
	}
	return out
}

// SameRequest reports whether a and b carry the same client request
// identity, treating a nil command as never equal to anything.
func SameRequest(a, b Command) bool {
	if a == nil || b == nil {
		return false
	}
	return a.RequestID() == b.RequestID()
}
