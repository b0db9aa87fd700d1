// Package inmemtransport provides an in-process paxos.Transport for tests
// and single-process demos, wired up by hand in place of the gRPC transport
// (bootstrap never selects it). It dispatches directly into a peer's
// node.Node rather than crossing the network.
package inmemtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos/node"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// Registry maps peer IDs to the Node that should receive their traffic.
// A single Registry is shared by every Transport in a test or demo
// process.
type Registry struct {
	mu    sync.RWMutex
	nodes map[int]*node.Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[int]*node.Node)}
}

// Register associates a peer ID with the Node that owns it. Call before
// Start so that messages addressed to id have somewhere to land.
func (r *Registry) Register(id int, n *node.Node) {
	r.mu.Lock()
	r.nodes[id] = n
	r.mu.Unlock()
}

// Unregister removes a peer, so subsequent sends to it fail the way they
// would against a crashed or partitioned process.
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	delete(r.nodes, id)
	r.mu.Unlock()
}

func (r *Registry) lookup(peer int) (*node.Node, error) {
	r.mu.RLock()
	n, ok := r.nodes[peer]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmemtransport: unknown peer %d", peer)
	}
	return n, nil
}

// Transport implements paxos.Transport by dispatching directly into the
// registered Node's handlers, skipping serialization entirely.
type Transport struct {
	reg *Registry
}

func New(reg *Registry) *Transport {
	return &Transport{reg: reg}
}

func (t *Transport) SendP1A(ctx context.Context, peer int, req wire.P1A) (wire.P1B, error) {
	n, err := t.reg.lookup(peer)
	if err != nil {
		return wire.P1B{}, err
	}
	return n.HandleP1A(ctx, req)
}

func (t *Transport) SendP2A(ctx context.Context, peer int, req wire.P2A) (wire.P2B, error) {
	n, err := t.reg.lookup(peer)
	if err != nil {
		return wire.P2B{}, err
	}
	return n.HandleP2A(ctx, req)
}

func (t *Transport) SendDecision(ctx context.Context, peer int, dec wire.Decision) error {
	n, err := t.reg.lookup(peer)
	if err != nil {
		return err
	}
	return n.HandleDecision(ctx, dec)
}

func (t *Transport) SendPropose(ctx context.Context, peer int, req wire.Propose) error {
	n, err := t.reg.lookup(peer)
	if err != nil {
		return err
	}
	return n.HandlePropose(ctx, req)
}
