// Package replica implements the replica role-state-machine: the
// client-facing proposer and state-machine driver. It is the only
// component that touches application state.
package replica

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/paxoslabs/go-mpaxos/pkg/internal/logutil"
	obsmetrics "github.com/paxoslabs/go-mpaxos/pkg/observability/metrics"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/storage"
)

// Window bounds the count of outstanding (proposed but not yet applied)
// slots a replica maintains, to cap how far ahead of the applied watermark
// proposals are allowed to run (default 10).
const Window = 10

// LeaderHandle is the subset of leader.Leader the replica needs: propose a
// command at a slot.
type LeaderHandle interface {
	Propose(slot paxos.Slot, cmd paxos.Command)
}

// ResponseSink delivers an application response to the client that
// originally submitted the corresponding command.
type ResponseSink func(req paxos.RequestID, resp paxos.Response, ok bool)

// Config carries a replica's fixed-for-process-lifetime parameters.
type Config struct {
	StateMachine paxos.StateMachine
	Codec        paxos.Codec
	Leaders      []LeaderHandle // one per replica, including self
	Store        storage.DecisionStore
	Logger       *log.Logger
	OnResponse   ResponseSink

	// OnFatal is called when a decided command cannot be durably recorded.
	// Without the durable record, app_state rebuilt on restart (from the
	// decision log alone, with no peer catch-up) would silently diverge
	// from what was actually applied, so this is treated as unrecoverable
	// rather than logged and skipped.
	OnFatal func(error)
}

// Replica owns slot_in, slot_out, requests, proposals, decisions and the
// application state. All mutable state is touched only from the single
// goroutine running Run.
type Replica struct {
	cfg Config

	submitCh   chan paxos.Command
	decisionCh chan paxos.Decision
	closeCh    chan struct{}
	closeOnce  sync.Once

	slotIn    paxos.Slot
	slotOut   paxos.Slot
	requests  []paxos.Command
	proposals map[paxos.Slot]paxos.Command
	decisions map[paxos.Slot]paxos.Command

	statusCh chan statusQuery
}

// Snapshot is a point-in-time view of a Replica's state, produced by the
// Run goroutine so callers never race its owned state.
type Snapshot struct {
	SlotIn   paxos.Slot
	SlotOut  paxos.Slot
	Pending  int
	Decided  int
}

type statusQuery struct{ resp chan Snapshot }

// New creates a Replica and replays cfg.Store to rebuild decisions,
// slot_out and app_state from a prior run without contacting peers (spec
// §4.4 recovery).
func New(cfg Config) (*Replica, error) {
	r := &Replica{
		cfg:        cfg,
		submitCh:   make(chan paxos.Command, 1024),
		decisionCh: make(chan paxos.Decision, 1024),
		closeCh:    make(chan struct{}),
		proposals:  make(map[paxos.Slot]paxos.Command),
		decisions:  make(map[paxos.Slot]paxos.Command),
		statusCh:   make(chan statusQuery, 8),
	}
	recs, err := cfg.Store.LoadDecisions()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		cmd, err := cfg.Codec.DecodeCommand(rec.Command)
		if err != nil {
			return nil, err
		}
		r.decisions[rec.Slot] = cmd
	}
	r.replayApplied()
	return r, nil
}

// Submit enqueues a client command onto requests. Non-blocking (spec
// §4.1's submit operation).
func (r *Replica) Submit(cmd paxos.Command) {
	select {
	case r.submitCh <- cmd:
	case <-r.closeCh:
	}
}

// OnDecision records a decision from a commander (local or remote) and
// triggers application of any now-contiguous prefix.
func (r *Replica) OnDecision(slot paxos.Slot, cmd paxos.Command) {
	select {
	case r.decisionCh <- paxos.Decision{Slot: slot, Command: cmd}:
	case <-r.closeCh:
	}
}

func (r *Replica) Close() { r.closeOnce.Do(func() { close(r.closeCh) }) }

// Status returns a snapshot of the replica's slot progress, queried from
// the Run goroutine to avoid racing its owned state.
func (r *Replica) Status() Snapshot {
	resp := make(chan Snapshot, 1)
	select {
	case r.statusCh <- statusQuery{resp: resp}:
	case <-r.closeCh:
		return Snapshot{}
	}
	select {
	case s := <-resp:
		return s
	case <-r.closeCh:
		return Snapshot{}
	}
}

// Run is the replica's cooperative event loop.
func (r *Replica) Run(ctx context.Context) {
	for {
		r.propose()
		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		case cmd := <-r.submitCh:
			r.requests = append(r.requests, cmd)
			obsmetrics.PendingRequests.Set(float64(len(r.requests)))
		case d := <-r.decisionCh:
			r.onDecision(d.Slot, d.Command)
		case q := <-r.statusCh:
			q.resp <- Snapshot{SlotIn: r.slotIn, SlotOut: r.slotOut, Pending: len(r.requests), Decided: len(r.decisions)}
		}
	}
}

// propose drains requests while the window isn't full and slot_in isn't
// already decided: pop a command, record the proposal, and forward it to
// every leader.
func (r *Replica) propose() {
	for len(r.requests) > 0 && r.slotIn < r.slotOut+Window {
		if _, already := r.decisions[r.slotIn]; already {
			r.slotIn++
			continue
		}
		cmd := r.requests[0]
		r.requests = r.requests[1:]
		r.proposals[r.slotIn] = cmd
		for _, l := range r.cfg.Leaders {
			l.Propose(r.slotIn, cmd)
		}
		r.slotIn++
	}
	obsmetrics.SlotIn.Set(float64(r.slotIn))
	obsmetrics.PendingRequests.Set(float64(len(r.requests)))
}

// onDecision records a decided slot into decisions, then applies the
// contiguous prefix starting at slot_out, requeuing any displaced
// proposal that lost to a different command.
func (r *Replica) onDecision(slot paxos.Slot, cmd paxos.Command) {
	if _, exists := r.decisions[slot]; exists {
		return
	}
	r.decisions[slot] = cmd
	if encoded, err := r.cfg.Codec.EncodeCommand(cmd); err == nil {
		if err := r.cfg.Store.AppendDecision(storage.DecisionRecord{Slot: slot, Command: encoded}); err != nil {
			logutil.Errorf(r.cfg.Logger, "replica: durable decision write failed for slot %d: %v", slot, err)
			if r.cfg.OnFatal != nil {
				go r.cfg.OnFatal(fmt.Errorf("replica: durable decision write failed for slot %d: %w: %v", slot, paxos.ErrDurabilityFailed, err))
			}
		}
	} else {
		logutil.Errorf(r.cfg.Logger, "replica: cannot encode decided command at slot %d: %v", slot, err)
	}

	if proposed, ok := r.proposals[slot]; ok {
		delete(r.proposals, slot)
		if !paxos.SameRequest(proposed, cmd) {
			// Our proposal lost the race for this slot; it is not lost,
			// only displaced — requeue it to be proposed again later.
			r.requests = append([]paxos.Command{proposed}, r.requests...)
			obsmetrics.RequestsRequeued.Inc()
		}
	}

	for {
		next, ok := r.decisions[r.slotOut]
		if !ok {
			break
		}
		r.apply(r.slotOut, next)
		r.slotOut++
	}
	obsmetrics.SlotOut.Set(float64(r.slotOut))
}

// apply invokes the application state machine and delivers any response
// to the originating client.
func (r *Replica) apply(slot paxos.Slot, cmd paxos.Command) {
	resp, ok := r.cfg.StateMachine.Execute(slot, cmd)
	obsmetrics.DecisionsApplied.Inc()
	if r.cfg.OnResponse != nil {
		r.cfg.OnResponse(cmd.RequestID(), resp, ok)
	}
}

// replayApplied re-applies every decision already recorded, in slot order,
// to rebuild app_state deterministically on recovery.
func (r *Replica) replayApplied() {
	for {
		cmd, ok := r.decisions[r.slotOut]
		if !ok {
			break
		}
		r.apply(r.slotOut, cmd)
		r.slotOut++
	}
	obsmetrics.SlotOut.Set(float64(r.slotOut))
}
