// Package boltlog backs paxos's durable acceptor and decision logs with
// hashicorp/raft-boltdb's BoltStore. BoltStore was built to be Raft's log
// and stable store; nothing here drives Raft's agreement protocol — it is
// repurposed purely as a durable, crash-safe append-only key/value and
// indexed-log store.
package boltlog

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/storage"
)

const ballotKey = "paxos/ballot_num"

// AcceptorStore is a storage.AcceptorStore backed by a bolt-boxed raft log
// store: SetBallot/LoadBallot use the StableStore half, AppendAccepted/
// LoadAccepted use the LogStore half.
type AcceptorStore struct {
	bolt *raftboltdb.BoltStore
}

// NewAcceptorStore opens (creating if absent) the bolt file at path as an
// acceptor's durable log.
func NewAcceptorStore(path string) (*AcceptorStore, error) {
	b, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("boltlog: open acceptor store: %w", err)
	}
	return &AcceptorStore{bolt: b}, nil
}

func (s *AcceptorStore) LoadBallot() (paxos.Ballot, error) {
	v, err := s.bolt.Get([]byte(ballotKey))
	if err != nil || len(v) == 0 {
		// raft-boltdb's Get returns an error for a missing key; a fresh
		// acceptor has never promised anything.
		return paxos.Zero, nil
	}
	var b paxos.Ballot
	if err := json.Unmarshal(v, &b); err != nil {
		return paxos.Zero, fmt.Errorf("boltlog: decode ballot: %w", err)
	}
	return b, nil
}

func (s *AcceptorStore) SetBallot(b paxos.Ballot) error {
	v, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := s.bolt.Set([]byte(ballotKey), v); err != nil {
		return fmt.Errorf("%w: %v", paxos.ErrDurabilityFailed, err)
	}
	return nil
}

type pvalueEnvelope struct {
	Ballot  paxos.Ballot
	Slot    paxos.Slot
	Command []byte
}

func (s *AcceptorStore) LoadAccepted() ([]storage.PvalueRecord, error) {
	first, err := s.bolt.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := s.bolt.LastIndex()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return nil, nil
	}
	if first == 0 {
		first = 1
	}
	out := make([]storage.PvalueRecord, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		var log raft.Log
		if err := s.bolt.GetLog(idx, &log); err != nil {
			return nil, fmt.Errorf("boltlog: read accepted log %d: %w", idx, err)
		}
		var env pvalueEnvelope
		if err := json.Unmarshal(log.Data, &env); err != nil {
			return nil, fmt.Errorf("boltlog: decode accepted log %d: %w", idx, err)
		}
		out = append(out, storage.PvalueRecord{Ballot: env.Ballot, Slot: env.Slot, Command: env.Command})
	}
	return out, nil
}

func (s *AcceptorStore) AppendAccepted(rec storage.PvalueRecord) error {
	data, err := json.Marshal(pvalueEnvelope{Ballot: rec.Ballot, Slot: rec.Slot, Command: rec.Command})
	if err != nil {
		return err
	}
	last, err := s.bolt.LastIndex()
	if err != nil {
		return err
	}
	entry := &raft.Log{Index: last + 1, Type: raft.LogCommand, Data: data}
	if err := s.bolt.StoreLog(entry); err != nil {
		return fmt.Errorf("%w: %v", paxos.ErrDurabilityFailed, err)
	}
	return nil
}

func (s *AcceptorStore) Close() error { return s.bolt.Close() }

// DecisionStore is a storage.DecisionStore backed by the same bolt log
// store shape, used for a replica's "replica.paxos" decision log.
type DecisionStore struct {
	bolt *raftboltdb.BoltStore
}

// NewDecisionStore opens (creating if absent) the bolt file at path as a
// replica's durable decision log.
func NewDecisionStore(path string) (*DecisionStore, error) {
	b, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("boltlog: open decision store: %w", err)
	}
	return &DecisionStore{bolt: b}, nil
}

type decisionEnvelope struct {
	Slot    paxos.Slot
	Command []byte
}

func (s *DecisionStore) LoadDecisions() ([]storage.DecisionRecord, error) {
	first, err := s.bolt.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := s.bolt.LastIndex()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return nil, nil
	}
	if first == 0 {
		first = 1
	}
	out := make([]storage.DecisionRecord, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		var log raft.Log
		if err := s.bolt.GetLog(idx, &log); err != nil {
			return nil, fmt.Errorf("boltlog: read decision log %d: %w", idx, err)
		}
		var env decisionEnvelope
		if err := json.Unmarshal(log.Data, &env); err != nil {
			return nil, fmt.Errorf("boltlog: decode decision log %d: %w", idx, err)
		}
		out = append(out, storage.DecisionRecord{Slot: env.Slot, Command: env.Command})
	}
	return out, nil
}

func (s *DecisionStore) AppendDecision(rec storage.DecisionRecord) error {
	data, err := json.Marshal(decisionEnvelope{Slot: rec.Slot, Command: rec.Command})
	if err != nil {
		return err
	}
	last, err := s.bolt.LastIndex()
	if err != nil {
		return err
	}
	entry := &raft.Log{Index: last + 1, Type: raft.LogCommand, Data: data}
	if err := s.bolt.StoreLog(entry); err != nil {
		return fmt.Errorf("%w: %v", paxos.ErrDurabilityFailed, err)
	}
	return nil
}

func (s *DecisionStore) Close() error { return s.bolt.Close() }

var (
	_ storage.AcceptorStore = (*AcceptorStore)(nil)
	_ storage.DecisionStore = (*DecisionStore)(nil)
)
