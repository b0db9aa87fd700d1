package transport

import (
	"context"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on node/status types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// P1AFunc answers a remote scout's prepare request against the local
// acceptor.
type P1AFunc func(ctx context.Context, req wire.P1A) (wire.P1B, error)

// P2AFunc answers a remote commander's accept request against the local
// acceptor.
type P2AFunc func(ctx context.Context, req wire.P2A) (wire.P2B, error)

// DecisionFunc delivers a decided slot learned from a remote commander to
// the local replica and leader.
type DecisionFunc func(ctx context.Context, dec wire.Decision) error

// ProposeFunc forwards a remote replica's proposal to the local leader.
type ProposeFunc func(ctx context.Context, req wire.Propose) error

// ClientRequestFunc submits a client command to the local replica and
// waits for the application response.
type ClientRequestFunc func(ctx context.Context, req wire.ClientRequest) (wire.ClientResponse, error)

// RPCServer exposes the peer-to-peer Paxos endpoints plus the
// client-facing submit/status endpoints, over whichever wire protocol the
// implementation chooses (gRPC JSON codec, plain HTTP/JSON, ...).
type RPCServer interface {
	Start(ctx context.Context, status StatusFunc, p1a P1AFunc, p2a P2AFunc, decision DecisionFunc, propose ProposeFunc, clientReq ClientRequestFunc) error
	Addr() string
	Stop(ctx context.Context) error
}

// RPCClient performs the same calls against a remote peer's address.
type RPCClient interface {
	GetStatus(ctx context.Context, addr string) ([]byte, error)
	SendP1A(ctx context.Context, addr string, req wire.P1A) (wire.P1B, error)
	SendP2A(ctx context.Context, addr string, req wire.P2A) (wire.P2B, error)
	SendDecision(ctx context.Context, addr string, dec wire.Decision) error
	SendPropose(ctx context.Context, addr string, req wire.Propose) error
	SendClientRequest(ctx context.Context, addr string, req wire.ClientRequest) (wire.ClientResponse, error)
}
