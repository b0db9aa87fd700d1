// Package node assembles one acceptor, one leader and one replica into a
// single runnable per-process participant, and exposes the small facade
// (Start/Stop/Submit/Status) that bootstrap and the transport servers
// drive. It is the only package that wires the three role-state-machines
// together with a concrete Transport and durable stores.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/internal/logutil"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/acceptor"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/leader"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/replica"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// Node is the concrete assembly of a replica's three cooperating roles. It
// wires membership, durable storage and the peer Transport together to
// provide an embeddable Multi-Paxos participant.
type Node struct {
	opts Options

	acceptor *acceptor.Acceptor
	leader   *leader.Leader
	replica  *replica.Replica

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	pendingMu sync.Mutex
	pending   map[paxos.RequestID]chan pendingResult

	fatalCh chan error

	eb eventBus
}

type pendingResult struct {
	resp   paxos.Response
	ok     bool
	closed bool
}

// New constructs a Node from validated options. It performs no network
// activity and replays durable storage for the acceptor and replica so
// recovery happens before Start is ever called.
func New(opts Options) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := &Node{opts: opts, pending: make(map[paxos.RequestID]chan pendingResult), fatalCh: make(chan error, 1)}

	acc, err := acceptor.New(opts.ID, opts.AcceptorStore, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("node: acceptor recovery: %w", err)
	}
	acc.OnFatal(n.abort)
	n.acceptor = acc

	n.leader = leader.New(leader.Config{
		ID:             opts.ID,
		Acceptors:      opts.Acceptors,
		Replicas:       opts.Replicas,
		Quorum:         opts.Quorum,
		Transport:      opts.Transport,
		Codec:          opts.Codec,
		Timeout:        opts.LeaderTimeout,
		Logger:         opts.Logger,
		OnActiveChange: n.onLeaderActiveChange,
	})

	leaders := make([]replica.LeaderHandle, 0, len(opts.Replicas))
	for _, peer := range opts.Replicas {
		leaders = append(leaders, n.leaderHandle(peer))
	}

	rep, err := replica.New(replica.Config{
		StateMachine: opts.StateMachine,
		Codec:        opts.Codec,
		Leaders:      leaders,
		Store:        opts.DecisionStore,
		Logger:       opts.Logger,
		OnResponse:   n.deliverResponse,
		OnFatal:      n.abort,
	})
	if err != nil {
		return nil, fmt.Errorf("node: replica recovery: %w", err)
	}
	n.replica = rep

	return n, nil
}

// leaderHandle returns a replica.LeaderHandle that proposes directly to
// the local leader when peer is this node's own ID, and forwards over
// Transport otherwise: a replica proposes to every leader, local or remote.
func (n *Node) leaderHandle(peer int) replica.LeaderHandle {
	if peer == n.opts.ID {
		return n.leader
	}
	return &remoteLeader{node: n, peer: peer}
}

type remoteLeader struct {
	node *Node
	peer int
}

func (r *remoteLeader) Propose(slot paxos.Slot, cmd paxos.Command) {
	encoded, err := r.node.opts.Codec.EncodeCommand(cmd)
	if err != nil {
		logutil.Errorf(r.node.opts.Logger, "node %d: cannot encode proposal for peer %d slot %d: %v", r.node.opts.ID, r.peer, slot, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.node.requestTimeout())
		defer cancel()
		if err := r.node.opts.Transport.SendPropose(ctx, r.peer, wire.Propose{Slot: slot, Command: encoded}); err != nil {
			logutil.Warnf(r.node.opts.Logger, "node %d: propose to peer %d slot %d failed: %v", r.node.opts.ID, r.peer, slot, err)
		}
	}()
}

// Start launches the leader's and replica's cooperative event loops. Safe
// to call once; a second call is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.leader.Run(runCtx)
	}()
	go func() {
		defer n.wg.Done()
		n.replica.Run(runCtx)
	}()
	logutil.Infof(n.opts.Logger, "node %d: started (acceptors=%v replicas=%v quorum=%d)", n.opts.ID, n.opts.Acceptors, n.opts.Replicas, n.opts.Quorum)
	return nil
}

// Fatal returns a channel that receives at most one error if a durable
// write failure forces this node to stop serving. A receive here means
// the local acceptor or replica log can no longer be trusted; the owning
// process must terminate after this (the CLI's run command does), rather
// than let it limp along retrying against a dead disk.
func (n *Node) Fatal() <-chan error {
	return n.fatalCh
}

// abort is installed as the acceptor's and replica's durability-failure
// hook. It withholds nothing itself — the caller already returned its own
// error without acking — but it stops this node's event loops so scouts
// and commanders quit retrying against a peer that will never ack again,
// and it surfaces the error on Fatal for the owning process to act on.
func (n *Node) abort(err error) {
	logutil.Errorf(n.opts.Logger, "node %d: aborting after durability failure: %v", n.opts.ID, err)
	n.eb.publish(Event{Type: EventDurabilityFail, At: time.Now()})
	select {
	case n.fatalCh <- err:
	default:
	}
	go func() { _ = n.Stop(context.Background()) }()
}

// onLeaderActiveChange is the leader's OnActiveChange hook, turning an
// adopt/preempt transition into an EventLeaderActive/EventLeaderStandby
// for embedders watching Subscribe.
func (n *Node) onLeaderActiveChange(active bool) {
	evType := EventLeaderStandby
	if active {
		evType = EventLeaderActive
	}
	n.eb.publish(Event{Type: evType, At: time.Now()})
}

// Stop cancels the leader and replica loops and waits for them to exit.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	if n.cancel != nil {
		n.cancel()
	}
	n.leader.Close()
	n.replica.Close()
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.failPending()
	return nil
}

// Submit hands a client command to the local replica and blocks until it
// has been applied (or ctx/RequestTimeout expires), returning the
// application-level response produced by StateMachine.Execute.
func (n *Node) Submit(ctx context.Context, cmd paxos.Command) (paxos.Response, error) {
	n.mu.Lock()
	started := n.cancel != nil
	closed := n.closed
	n.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if closed {
		return nil, paxos.ErrClosed
	}

	if pending := n.replica.Status().Pending; pending >= 2*replica.Window {
		return nil, fmt.Errorf("node: %w: %d requests already queued", paxos.ErrWindowFull, pending)
	}

	resp := make(chan pendingResult, 1)
	req := cmd.RequestID()
	n.pendingMu.Lock()
	n.pending[req] = resp
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, req)
		n.pendingMu.Unlock()
	}()

	n.replica.Submit(cmd)

	timeout := n.requestTimeout()
	select {
	case r := <-resp:
		if r.closed {
			return nil, paxos.ErrClosed
		}
		if !r.ok {
			return nil, fmt.Errorf("node: %w: command %v", paxos.ErrUnknownCommand, req)
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("node: %w after %s", ErrRequestGone, timeout)
	}
}

func (n *Node) deliverResponse(req paxos.RequestID, resp paxos.Response, ok bool) {
	n.eb.publish(Event{Type: EventSlotApplied, At: time.Now()})
	n.pendingMu.Lock()
	ch, found := n.pending[req]
	n.pendingMu.Unlock()
	if !found {
		return // no local caller waiting (e.g. decided elsewhere, or caller gave up)
	}
	select {
	case ch <- pendingResult{resp: resp, ok: ok}:
	default:
	}
}

func (n *Node) failPending() {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for req, ch := range n.pending {
		select {
		case ch <- pendingResult{closed: true}:
		default:
		}
		delete(n.pending, req)
	}
}

func (n *Node) requestTimeout() time.Duration {
	if n.opts.RequestTimeout > 0 {
		return n.opts.RequestTimeout
	}
	return 10 * time.Second
}

// HandleP1A delegates to the local acceptor; used by the transport server
// to answer a remote scout.
func (n *Node) HandleP1A(ctx context.Context, req wire.P1A) (wire.P1B, error) {
	return n.acceptor.HandleP1A(ctx, req)
}

// HandleP2A delegates to the local acceptor; used by the transport server
// to answer a remote commander.
func (n *Node) HandleP2A(ctx context.Context, req wire.P2A) (wire.P2B, error) {
	return n.acceptor.HandleP2A(ctx, req)
}

// HandleDecision applies a decision learned from a remote commander: the
// local replica advances its log, and the local leader prunes the slot
// from its proposals and advances its decided watermark.
func (n *Node) HandleDecision(ctx context.Context, dec wire.Decision) error {
	cmd, err := n.opts.Codec.DecodeCommand(dec.Command)
	if err != nil {
		return fmt.Errorf("node: decode decision at slot %d: %w", dec.Slot, err)
	}
	n.replica.OnDecision(dec.Slot, cmd)
	n.leader.NotifyDecided(dec.Slot, dec.Command)
	return nil
}

// HandlePropose delegates a remote replica's proposal to the local leader.
func (n *Node) HandlePropose(ctx context.Context, req wire.Propose) error {
	cmd, err := n.opts.Codec.DecodeCommand(req.Command)
	if err != nil {
		return fmt.Errorf("node: decode proposal at slot %d: %w", req.Slot, err)
	}
	n.leader.Propose(req.Slot, cmd)
	return nil
}

// HandleClientRequest decodes a client-submitted command, submits it
// locally and waits for the application response, for use by a
// client-facing transport (gRPC or HTTP).
func (n *Node) HandleClientRequest(ctx context.Context, req wire.ClientRequest) (wire.ClientResponse, error) {
	cmd, err := n.opts.Codec.DecodeCommand(req.Command)
	if err != nil {
		return wire.ClientResponse{Error: err.Error()}, nil
	}
	resp, err := n.Submit(ctx, cmd)
	if err != nil {
		return wire.ClientResponse{Error: err.Error()}, nil
	}
	encoded, err := n.opts.Codec.EncodeResponse(resp)
	if err != nil {
		return wire.ClientResponse{Error: err.Error()}, nil
	}
	return wire.ClientResponse{Response: encoded}, nil
}
