package paxos

import (
	"context"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// Transport is the peer-to-peer collaborator the core consumes: one
// FIFO-per-connection, unreliable-across-connections channel to every
// other replica's acceptor and replica role. Scouts and commanders call
// SendP1A/SendP2A; commanders call SendDecision to broadcast a decided
// slot to every replica. Implementations own retry-free request/response
// semantics — timeout-driven re-send is the caller's (scout's or
// commander's) responsibility.
type Transport interface {
	SendP1A(ctx context.Context, peer int, req wire.P1A) (wire.P1B, error)
	SendP2A(ctx context.Context, peer int, req wire.P2A) (wire.P2B, error)
	SendDecision(ctx context.Context, peer int, dec wire.Decision) error

	// SendPropose forwards a replica's proposal to a remote leader: a
	// replica proposes to every leader, not only its local one.
	SendPropose(ctx context.Context, peer int, req wire.Propose) error
}
