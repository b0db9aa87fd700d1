package replica

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
)

type testCommand struct {
	id  paxos.RequestID
	val string
}

func (c testCommand) RequestID() paxos.RequestID { return c.id }

type testCodec struct{}

func (testCodec) EncodeCommand(cmd paxos.Command) ([]byte, error) {
	tc := cmd.(testCommand)
	return []byte(tc.id.ClientID + "|" + tc.val), nil
}

func (testCodec) DecodeCommand(b []byte) (paxos.Command, error) {
	s := string(b)
	for i := range s {
		if s[i] == '|' {
			return testCommand{id: paxos.RequestID{ClientID: s[:i]}, val: s[i+1:]}, nil
		}
	}
	return testCommand{val: s}, nil
}

func (testCodec) EncodeResponse(r paxos.Response) ([]byte, error) { return nil, nil }
func (testCodec) DecodeResponse(b []byte) (paxos.Response, error) { return nil, nil }

type recordingSM struct {
	mu      sync.Mutex
	applied []string
}

func (sm *recordingSM) Execute(slot paxos.Slot, cmd paxos.Command) (paxos.Response, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.applied = append(sm.applied, cmd.(testCommand).val)
	return cmd.(testCommand).val, true
}

type captureLeader struct {
	mu       sync.Mutex
	proposed []paxos.Slot
}

func (l *captureLeader) Propose(slot paxos.Slot, cmd paxos.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proposed = append(l.proposed, slot)
}

func newTestReplica(t *testing.T, sm paxos.StateMachine, leaders ...LeaderHandle) *Replica {
	t.Helper()
	r, err := New(Config{StateMachine: sm, Codec: testCodec{}, Leaders: leaders, Store: inmem.NewDecisionStore()})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSubmitAssignsProposalAndPropose(t *testing.T) {
	leader := &captureLeader{}
	r := newTestReplica(t, &recordingSM{}, leader)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Submit(testCommand{id: paxos.RequestID{ClientID: "c1", LocalID: 1}, val: "a"})

	deadline := time.After(2 * time.Second)
	for {
		leader.mu.Lock()
		n := len(leader.proposed)
		leader.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for propose")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnDecisionAppliesContiguousPrefix(t *testing.T) {
	sm := &recordingSM{}
	r := newTestReplica(t, sm, &captureLeader{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Decide slot 1 before slot 0: nothing should apply yet.
	r.OnDecision(1, testCommand{id: paxos.RequestID{ClientID: "c", LocalID: 2}, val: "b"})
	time.Sleep(20 * time.Millisecond)
	sm.mu.Lock()
	if len(sm.applied) != 0 {
		t.Fatalf("expected nothing applied before slot 0 decided, got %v", sm.applied)
	}
	sm.mu.Unlock()

	r.OnDecision(0, testCommand{id: paxos.RequestID{ClientID: "c", LocalID: 1}, val: "a"})

	deadline := time.After(2 * time.Second)
	for {
		sm.mu.Lock()
		n := len(sm.applied)
		applied := append([]string(nil), sm.applied...)
		sm.mu.Unlock()
		if n == 2 {
			if applied[0] != "a" || applied[1] != "b" {
				t.Fatalf("applied out of order: %v", applied)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for contiguous apply, got %v", applied)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDisplacedProposalIsRequeued(t *testing.T) {
	leader := &captureLeader{}
	sm := &recordingSM{}
	r := newTestReplica(t, sm, leader)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	mine := testCommand{id: paxos.RequestID{ClientID: "c0", LocalID: 1}, val: "mine"}
	r.Submit(mine)
	time.Sleep(20 * time.Millisecond) // let it be proposed at slot 0

	other := testCommand{id: paxos.RequestID{ClientID: "c1", LocalID: 1}, val: "other"}
	r.OnDecision(0, other)

	deadline := time.After(2 * time.Second)
	for {
		sm.mu.Lock()
		applied := append([]string(nil), sm.applied...)
		sm.mu.Unlock()
		found := false
		for _, v := range applied {
			if v == "mine" {
				found = true
			}
		}
		if found {
			// "mine" was requeued and reproposed at a later slot, then decided.
			return
		}
		select {
		case <-deadline:
			t.Fatalf("displaced command %q was lost; applied=%v", mine.val, applied)
		case <-time.After(5 * time.Millisecond):
			leader.mu.Lock()
			n := len(leader.proposed)
			leader.mu.Unlock()
			if n >= 2 {
				// it has been reproposed at a later slot; decide it there too.
				r.OnDecision(1, mine)
			}
		}
	}
}
