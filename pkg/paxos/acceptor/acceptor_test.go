package acceptor

import (
	"context"
	"testing"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
	"github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
)

func TestHandleP1APromisesHigherBallot(t *testing.T) {
	a, err := New(2, inmem.NewAcceptorStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := a.HandleP1A(context.Background(), wire.P1A{FromLeader: 0, Ballot: wire.Ballot{Round: 1, LeaderID: 0}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.BallotNum != (wire.Ballot{Round: 1, LeaderID: 0}) {
		t.Fatalf("expected promised ballot 1.0, got %+v", resp.BallotNum)
	}

	// A lower ballot's P1A must not move ballot_num backwards.
	resp2, err := a.HandleP1A(context.Background(), wire.P1A{FromLeader: 1, Ballot: wire.Ballot{Round: 0, LeaderID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if resp2.BallotNum != (wire.Ballot{Round: 1, LeaderID: 0}) {
		t.Fatalf("ballot_num must not decrease, got %+v", resp2.BallotNum)
	}
}

func TestHandleP2AAcceptsAtOrAboveBallot(t *testing.T) {
	a, err := New(0, inmem.NewAcceptorStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ballot := wire.Ballot{Round: 2, LeaderID: 0}
	if _, err := a.HandleP1A(context.Background(), wire.P1A{Ballot: ballot}); err != nil {
		t.Fatal(err)
	}

	resp, err := a.HandleP2A(context.Background(), wire.P2A{Pvalue: wire.Pvalue{Ballot: ballot, Slot: 5, Command: []byte("c0")}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.BallotNum != ballot {
		t.Fatalf("expected ballot_num %+v, got %+v", ballot, resp.BallotNum)
	}

	// Reject (ignore) a P2A below the promised ballot: must not overwrite
	// the accepted pvalue for that slot.
	stale := wire.Ballot{Round: 1, LeaderID: 5}
	if _, err := a.HandleP2A(context.Background(), wire.P2A{Pvalue: wire.Pvalue{Ballot: stale, Slot: 5, Command: []byte("stale")}}); err != nil {
		t.Fatal(err)
	}

	p1b, err := a.HandleP1A(context.Background(), wire.P1A{Ballot: ballot})
	if err != nil {
		t.Fatal(err)
	}
	if len(p1b.Accepted) != 1 || string(p1b.Accepted[0].Command) != "c0" {
		t.Fatalf("stale P2A must not displace the accepted pvalue: %+v", p1b.Accepted)
	}
}

func TestRecoveryReplaysAcceptedAndBallot(t *testing.T) {
	store := inmem.NewAcceptorStore()
	a, err := New(1, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	ballot := wire.Ballot{Round: 3, LeaderID: 1}
	if _, err := a.HandleP1A(context.Background(), wire.P1A{Ballot: ballot}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.HandleP2A(context.Background(), wire.P2A{Pvalue: wire.Pvalue{Ballot: ballot, Slot: 7, Command: []byte("p")}}); err != nil {
		t.Fatal(err)
	}

	restarted, err := New(1, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := restarted.HandleP1A(context.Background(), wire.P1A{Ballot: wire.Ballot{Round: 0, LeaderID: 9}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.BallotNum != ballot {
		t.Fatalf("ballot_num must survive restart, got %+v want %+v", resp.BallotNum, ballot)
	}
	if len(resp.Accepted) != 1 || resp.Accepted[0].Slot != 7 {
		t.Fatalf("accepted pvalues must survive restart, got %+v", resp.Accepted)
	}
}

func TestDecidedWatermarkPrunesAccepted(t *testing.T) {
	a, err := New(0, inmem.NewAcceptorStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ballot := wire.Ballot{Round: 1, LeaderID: 0}
	if _, err := a.HandleP1A(context.Background(), wire.P1A{Ballot: ballot}); err != nil {
		t.Fatal(err)
	}
	for slot := uint64(0); slot < 3; slot++ {
		if _, err := a.HandleP2A(context.Background(), wire.P2A{Pvalue: wire.Pvalue{Ballot: ballot, Slot: slot, Command: []byte("x")}}); err != nil {
			t.Fatal(err)
		}
	}
	decided := uint64(1)
	resp, err := a.HandleP1A(context.Background(), wire.P1A{Ballot: ballot, Decided: &decided})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Accepted) != 1 || resp.Accepted[0].Slot != 2 {
		t.Fatalf("expected only slot 2 above the decided watermark, got %+v", resp.Accepted)
	}
}
