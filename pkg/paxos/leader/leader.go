// Package leader implements the leader role-state-machine: ballot
// ownership, preemption/adoption handling, and the nested Scout (phase 1)
// and Commander (phase 2) subtasks spawned to drive a ballot or a slot to
// conclusion.
package leader

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/internal/clock"
	"github.com/paxoslabs/go-mpaxos/pkg/internal/logutil"
	obsmetrics "github.com/paxoslabs/go-mpaxos/pkg/observability/metrics"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
)

// Config carries a leader's fixed-for-process-lifetime parameters.
type Config struct {
	ID        int // this replica's id, also this leader's leader_id component of its ballots
	Acceptors []int
	Replicas  []int
	Quorum    int
	Transport paxos.Transport
	Codec     paxos.Codec
	Timeout   time.Duration
	Logger    *log.Logger

	// OnActiveChange, if set, is called with true when this leader becomes
	// active (scout adopted) and false when it is preempted back to
	// standby, for an embedder to surface leadership changes.
	OnActiveChange func(active bool)
}

// Leader owns a ballot and, once active, a proposals map driving a
// Commander per slot. All mutable state is touched only from the single
// goroutine running Run.
type Leader struct {
	cfg Config

	proposeCh chan proposeMsg
	decideCh  chan decidedMsg
	closeCh   chan struct{}
	closeOnce sync.Once

	// state below is owned exclusively by the Run goroutine
	ballot    paxos.Ballot
	active    bool
	proposals map[paxos.Slot]paxos.Command
	decided   map[paxos.Slot]bool

	// decidedPrefix is the count of slots decided contiguously from 0: slots
	// 0..decidedPrefix-1 are all known decided, decidedPrefix itself is not
	// (yet). Only this gapless prefix is safe to advertise as P1A.Decided —
	// decided's maximum key can sit well ahead of slots that are still
	// undecided here (this leader hasn't heard their Decision yet), and
	// pruning an acceptor's pvalues for an undecided gap slot would let a
	// re-scouting leader drive a second, possibly conflicting, value
	// through a slot that was already chosen.
	decidedPrefix uint64

	genCtx    context.Context
	genCancel context.CancelFunc
	adoptedCh chan adoptedMsg
	preemptCh chan paxos.Ballot
	restartCh chan paxos.Ballot
	statusCh  chan statusQuery
}

// Snapshot is a point-in-time view of a Leader's state, safe to read from
// any goroutine because it is produced by the Run goroutine itself.
type Snapshot struct {
	Ballot    paxos.Ballot
	Active    bool
	Proposals int
}

type statusQuery struct{ resp chan Snapshot }

type proposeMsg struct {
	Slot    paxos.Slot
	Command paxos.Command
}

// New creates a Leader at round 0, not yet active.
func New(cfg Config) *Leader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Leader{
		cfg:       cfg,
		proposeCh: make(chan proposeMsg, 256),
		decideCh:  make(chan decidedMsg, 256),
		closeCh:   make(chan struct{}),
		ballot:    paxos.Ballot{Round: 0, LeaderID: cfg.ID},
		proposals: make(map[paxos.Slot]paxos.Command),
		decided:   make(map[paxos.Slot]bool),
		adoptedCh: make(chan adoptedMsg, 4),
		preemptCh: make(chan paxos.Ballot, 16),
		restartCh: make(chan paxos.Ballot, 4),
		statusCh:  make(chan statusQuery, 8),
	}
}

// Status returns a snapshot of the leader's current ballot and activity,
// queried from the Run goroutine to avoid racing its owned state.
func (l *Leader) Status() Snapshot {
	resp := make(chan Snapshot, 1)
	select {
	case l.statusCh <- statusQuery{resp: resp}:
	case <-l.closeCh:
		return Snapshot{}
	}
	select {
	case s := <-resp:
		return s
	case <-l.closeCh:
		return Snapshot{}
	}
}

// Propose asks the leader to drive (slot, cmd) to a decision, should it
// become (or already be) active. Non-blocking.
func (l *Leader) Propose(slot paxos.Slot, cmd paxos.Command) {
	select {
	case l.proposeCh <- proposeMsg{Slot: slot, Command: cmd}:
	case <-l.closeCh:
	}
}

// NotifyDecided tells the leader a slot has been decided (by this leader's
// own commander, or observed via the replica's decision stream), so it can
// prune the slot from proposals and advance its P1A decided watermark.
func (l *Leader) NotifyDecided(slot paxos.Slot, command []byte) {
	select {
	case l.decideCh <- decidedMsg{Slot: slot, Command: command}:
	case <-l.closeCh:
	}
}

// Close stops the leader's event loop and any in-flight scout/commander.
func (l *Leader) Close() {
	l.closeOnce.Do(func() { close(l.closeCh) })
}

// Run is the leader's cooperative event loop; it owns all of the leader's
// mutable state and must be run on exactly one goroutine.
func (l *Leader) Run(ctx context.Context) {
	l.spawnScout(l.ballot)
	for {
		select {
		case <-ctx.Done():
			l.cancelGeneration()
			return
		case <-l.closeCh:
			l.cancelGeneration()
			return
		case p := <-l.proposeCh:
			l.handlePropose(p.Slot, p.Command)
		case a := <-l.adoptedCh:
			l.handleAdopted(a)
		case b := <-l.preemptCh:
			l.handlePreempted(b)
		case d := <-l.decideCh:
			l.handleDecided(d)
		case ballot := <-l.restartCh:
			if ballot == l.ballot {
				l.spawnScout(ballot)
			}
		case q := <-l.statusCh:
			q.resp <- Snapshot{Ballot: l.ballot, Active: l.active, Proposals: len(l.proposals)}
		}
	}
}

func (l *Leader) handlePropose(slot paxos.Slot, cmd paxos.Command) {
	if l.decided[slot] {
		return
	}
	if _, exists := l.proposals[slot]; exists {
		return
	}
	l.proposals[slot] = cmd
	if l.active {
		l.spawnCommander(slot, cmd)
	}
}

func (l *Leader) handleAdopted(a adoptedMsg) {
	if a.Ballot != l.ballot {
		return // stale scout from a ballot we've already moved past
	}
	decoded := make([]paxos.Pvalue, 0, len(a.Pvalues))
	for _, pv := range a.Pvalues {
		cmd, err := l.cfg.Codec.DecodeCommand(pv.Command)
		if err != nil {
			logutil.Warnf(l.cfg.Logger, "leader %d: dropping unparseable pvalue at slot %d: %v", l.cfg.ID, pv.Slot, err)
			continue
		}
		decoded = append(decoded, paxos.Pvalue{Ballot: fromWireBallot(pv.Ballot), Slot: pv.Slot, Command: cmd})
	}
	for slot, cmd := range paxos.PmaxByCommand(decoded) {
		l.proposals[slot] = cmd
	}
	l.active = true
	obsmetrics.IsActiveLeader.Set(1)
	if l.cfg.OnActiveChange != nil {
		l.cfg.OnActiveChange(true)
	}
	for slot, cmd := range l.proposals {
		if !l.decided[slot] {
			l.spawnCommander(slot, cmd)
		}
	}
}

func (l *Leader) handlePreempted(b paxos.Ballot) {
	if !b.Greater(l.ballot) {
		return // stale
	}
	obsmetrics.PreemptionsTotal.Inc()
	wasActive := l.active
	l.active = false
	obsmetrics.IsActiveLeader.Set(0)
	if wasActive && l.cfg.OnActiveChange != nil {
		l.cfg.OnActiveChange(false)
	}
	l.ballot = b.Next(l.cfg.ID)
	obsmetrics.LeaderBallotRound.Set(float64(l.ballot.Round))
	l.cancelGeneration()
	backoff := clock.Backoff(l.ballot.Round)
	logutil.Infof(l.cfg.Logger, "leader %d: preempted, restarting phase 1 at ballot %s after %s", l.cfg.ID, l.ballot, backoff)
	go func(ballot paxos.Ballot, delay time.Duration) {
		select {
		case <-time.After(delay):
		case <-l.closeCh:
			return
		}
		select {
		case l.restartCh <- ballot:
		case <-l.closeCh:
		}
	}(l.ballot, backoff)
}

func (l *Leader) handleDecided(d decidedMsg) {
	delete(l.proposals, d.Slot)
	l.decided[d.Slot] = true
	for l.decided[l.decidedPrefix] {
		l.decidedPrefix++
	}
}

func (l *Leader) spawnScout(ballot paxos.Ballot) {
	ctx := l.newGeneration()
	obsmetrics.ScoutsSpawned.Inc()
	obsmetrics.LeaderBallotRound.Set(float64(ballot.Round))
	s := &scout{
		leaderID:  l.cfg.ID,
		ballot:    ballot,
		peers:     l.cfg.Acceptors,
		quorum:    l.cfg.Quorum,
		transport: l.cfg.Transport,
		timeout:   l.cfg.Timeout,
		decided:   l.decidedWatermark(),
	}
	go func() {
		adopted := make(chan adoptedMsg, 1)
		preempted := make(chan paxos.Ballot, 1)
		s.run(ctx, adopted, preempted)
		select {
		case a := <-adopted:
			select {
			case l.adoptedCh <- a:
			case <-l.closeCh:
			}
		case b := <-preempted:
			select {
			case l.preemptCh <- b:
			case <-l.closeCh:
			}
		default:
		}
	}()
}

func (l *Leader) spawnCommander(slot paxos.Slot, cmd paxos.Command) {
	encoded, err := l.cfg.Codec.EncodeCommand(cmd)
	if err != nil {
		logutil.Errorf(l.cfg.Logger, "leader %d: cannot encode command for slot %d: %v", l.cfg.ID, slot, err)
		return
	}
	ctx := l.genContext()
	obsmetrics.CommandersSpawned.Inc()
	c := &commander{
		leaderID:  l.cfg.ID,
		pvalue:    wire.Pvalue{Ballot: toWireBallot(l.ballot), Slot: slot, Command: encoded},
		acceptors: l.cfg.Acceptors,
		replicas:  l.cfg.Replicas,
		quorum:    l.cfg.Quorum,
		transport: l.cfg.Transport,
		timeout:   l.cfg.Timeout,
	}
	go func() {
		decided := make(chan decidedMsg, 1)
		preempted := make(chan paxos.Ballot, 1)
		c.run(ctx, decided, preempted)
		select {
		case d := <-decided:
			select {
			case l.decideCh <- d:
			case <-l.closeCh:
			}
		case b := <-preempted:
			select {
			case l.preemptCh <- b:
			case <-l.closeCh:
			}
		default:
		}
	}()
}

func (l *Leader) newGeneration() context.Context {
	l.cancelGeneration()
	ctx, cancel := context.WithCancel(context.Background())
	l.genCtx, l.genCancel = ctx, cancel
	return ctx
}

// genContext returns the context scoped to the leader's current ballot
// generation; commanders spawned while active run under it so that a
// later preemption implicitly cancels them.
func (l *Leader) genContext() context.Context {
	if l.genCtx == nil {
		return l.newGeneration()
	}
	return l.genCtx
}

func (l *Leader) cancelGeneration() {
	if l.genCancel != nil {
		l.genCancel()
		l.genCancel = nil
		l.genCtx = nil
	}
}

// decidedWatermark returns the highest slot such that it and every slot
// below it are known decided here, or nil if even slot 0 isn't decided yet. Acceptors
// use it to prune pvalues at or below the watermark, so it must never
// advance past a gap — see decidedPrefix.
func (l *Leader) decidedWatermark() *uint64 {
	if l.decidedPrefix == 0 {
		return nil
	}
	v := l.decidedPrefix - 1
	return &v
}

func toWireBallot(b paxos.Ballot) wire.Ballot { return wire.Ballot{Round: b.Round, LeaderID: b.LeaderID} }
func fromWireBallot(b wire.Ballot) paxos.Ballot {
	return paxos.Ballot{Round: b.Round, LeaderID: b.LeaderID}
}
