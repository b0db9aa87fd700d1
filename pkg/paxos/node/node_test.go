package node_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/paxoslabs/go-mpaxos/internal/demoapp"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/node"
	"github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
	"github.com/paxoslabs/go-mpaxos/pkg/transport/inmemtransport"
)

func newCluster(t *testing.T, n int) ([]*node.Node, *inmemtransport.Registry) {
	t.Helper()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	quorum := n/2 + 1
	reg := inmemtransport.NewRegistry()
	logger := log.New(io.Discard, "", 0)

	nodes := make([]*node.Node, n)
	for _, id := range ids {
		nd, err := node.New(node.Options{
			ID:            id,
			Acceptors:     ids,
			Replicas:      ids,
			Quorum:        quorum,
			Transport:     inmemtransport.New(reg),
			Codec:         demoapp.Codec{},
			StateMachine:  demoapp.NewStore(),
			AcceptorStore: inmem.NewAcceptorStore(),
			DecisionStore: inmem.NewDecisionStore(),
			Logger:        logger,
		})
		if err != nil {
			t.Fatalf("node.New(%d): %v", id, err)
		}
		nodes[id] = nd
		reg.Register(id, nd)
	}
	return nodes, reg
}

func TestThreeNodeClusterAppliesSubmittedCommand(t *testing.T) {
	nodes, _ := newCluster(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, nd := range nodes {
		if err := nd.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	defer func() {
		for _, nd := range nodes {
			_ = nd.Stop(context.Background())
		}
	}()

	submitCtx, submitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer submitCancel()
	resp, err := nodes[0].Submit(submitCtx, demoapp.Command{
		ReqID: paxos.RequestID{ClientID: "c0", LocalID: 1},
		Op:    demoapp.OpPut,
		Key:   "a",
		Value: "1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	kv, ok := resp.(demoapp.Response)
	if !ok || kv.Value != "1" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestSubmitFromNonLeaderReplicaStillApplies(t *testing.T) {
	nodes, _ := newCluster(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, nd := range nodes {
		if err := nd.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	defer func() {
		for _, nd := range nodes {
			_ = nd.Stop(context.Background())
		}
	}()

	// Every command is submitted to replica 2; its proposals must still
	// reach whichever leader is active, since a replica proposes to all
	// leaders, not only a local one.
	submitCtx, submitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer submitCancel()
	_, err := nodes[2].Submit(submitCtx, demoapp.Command{
		ReqID: paxos.RequestID{ClientID: "c1", LocalID: 1},
		Op:    demoapp.OpPut,
		Key:   "b",
		Value: "2",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := nodes[2].Status()
	if st.SlotOut == 0 {
		t.Fatalf("expected at least one decided slot applied, got status %#v", st)
	}
}
