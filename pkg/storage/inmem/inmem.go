// Package inmem provides in-process storage.AcceptorStore/DecisionStore
// implementations for tests and demos: a slice/map behind a mutex, no
// disk, satisfying the same durable log contracts as boltlog.
package inmem

import (
	"sync"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/storage"
)

// AcceptorStore is a non-durable storage.AcceptorStore for tests.
type AcceptorStore struct {
	mu       sync.Mutex
	ballot   paxos.Ballot
	accepted []storage.PvalueRecord
}

func NewAcceptorStore() *AcceptorStore { return &AcceptorStore{} }

func (s *AcceptorStore) LoadBallot() (paxos.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ballot, nil
}

func (s *AcceptorStore) SetBallot(b paxos.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ballot = b
	return nil
}

func (s *AcceptorStore) LoadAccepted() ([]storage.PvalueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.PvalueRecord, len(s.accepted))
	copy(out, s.accepted)
	return out, nil
}

func (s *AcceptorStore) AppendAccepted(rec storage.PvalueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, rec)
	return nil
}

func (s *AcceptorStore) Close() error { return nil }

// DecisionStore is a non-durable storage.DecisionStore for tests.
type DecisionStore struct {
	mu        sync.Mutex
	decisions []storage.DecisionRecord
}

func NewDecisionStore() *DecisionStore { return &DecisionStore{} }

func (s *DecisionStore) LoadDecisions() ([]storage.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.DecisionRecord, len(s.decisions))
	copy(out, s.decisions)
	return out, nil
}

func (s *DecisionStore) AppendDecision(rec storage.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *DecisionStore) Close() error { return nil }

var (
	_ storage.AcceptorStore = (*AcceptorStore)(nil)
	_ storage.DecisionStore = (*DecisionStore)(nil)
)
