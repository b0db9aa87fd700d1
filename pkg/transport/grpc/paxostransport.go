package grpc

import (
	"context"
	"fmt"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// PeerResolver returns the dial address for a peer ID, typically backed by
// discovery's fixed roster.
type PeerResolver func(peer int) (string, bool)

// PaxosTransport adapts an address-keyed RPCClient plus a PeerResolver into
// paxos.Transport's peer-ID-keyed interface, so the leader's scout and
// commander never need to know how IDs map to addresses.
type PaxosTransport struct {
	client   *Client
	resolve  PeerResolver
}

func NewPaxosTransport(client *Client, resolve PeerResolver) *PaxosTransport {
	return &PaxosTransport{client: client, resolve: resolve}
}

func (t *PaxosTransport) addr(peer int) (string, error) {
	addr, ok := t.resolve(peer)
	if !ok {
		return "", fmt.Errorf("grpc: no address for peer %d", peer)
	}
	return addr, nil
}

func (t *PaxosTransport) SendP1A(ctx context.Context, peer int, req wire.P1A) (wire.P1B, error) {
	addr, err := t.addr(peer)
	if err != nil {
		return wire.P1B{}, err
	}
	return t.client.SendP1A(ctx, addr, req)
}

func (t *PaxosTransport) SendP2A(ctx context.Context, peer int, req wire.P2A) (wire.P2B, error) {
	addr, err := t.addr(peer)
	if err != nil {
		return wire.P2B{}, err
	}
	return t.client.SendP2A(ctx, addr, req)
}

func (t *PaxosTransport) SendDecision(ctx context.Context, peer int, dec wire.Decision) error {
	addr, err := t.addr(peer)
	if err != nil {
		return err
	}
	return t.client.SendDecision(ctx, addr, dec)
}

func (t *PaxosTransport) SendPropose(ctx context.Context, peer int, req wire.Propose) error {
	addr, err := t.addr(peer)
	if err != nil {
		return err
	}
	return t.client.SendPropose(ctx, addr, req)
}

var _ paxos.Transport = (*PaxosTransport)(nil)
