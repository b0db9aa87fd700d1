package node

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
	"github.com/paxoslabs/go-mpaxos/pkg/storage"
)

// Options carries the dependency-injected components and runtime
// configuration used to assemble a Node. Instances are typically produced
// from bootstrap.Config.
type Options struct {
	// ID is this replica's identifier; it is also the LeaderID component
	// of every ballot this node's leader proposes.
	ID int

	// Acceptors and Replicas are the full, fixed membership of the
	// deployment (including this node's own ID in both).
	Acceptors []int
	Replicas  []int
	Quorum    int

	// Transport is the peer-to-peer collaborator shared by the leader's
	// scout/commander and the node's own propose forwarding.
	Transport paxos.Transport

	// Codec (en/de)codes application commands and responses at the
	// process boundary; the acceptor never uses it.
	Codec paxos.Codec

	// StateMachine is the application driven by decided commands.
	StateMachine paxos.StateMachine

	// AcceptorStore and DecisionStore back the acceptor's and replica's
	// durable logs, respectively.
	AcceptorStore storage.AcceptorStore
	DecisionStore storage.DecisionStore

	// LeaderTimeout bounds how long a scout/commander waits for a
	// quorum of responses before resending to stragglers.
	LeaderTimeout time.Duration

	// RequestTimeout bounds how long Submit waits for its command to be
	// applied before giving up on the caller's behalf.
	RequestTimeout time.Duration

	Logger *log.Logger
}

// Validate performs minimal validation of Options. It does not start any
// background activity and is safe to call before New.
func (o Options) Validate() error {
	if o.Transport == nil {
		return errors.New("node: nil Transport")
	}
	if o.Codec == nil {
		return errors.New("node: nil Codec")
	}
	if o.StateMachine == nil {
		return errors.New("node: nil StateMachine")
	}
	if o.AcceptorStore == nil {
		return errors.New("node: nil AcceptorStore")
	}
	if o.DecisionStore == nil {
		return errors.New("node: nil DecisionStore")
	}
	if o.Logger == nil {
		return errors.New("node: nil Logger")
	}
	if len(o.Acceptors) == 0 {
		return errors.New("node: empty Acceptors")
	}
	if len(o.Replicas) == 0 {
		return errors.New("node: empty Replicas")
	}
	if o.Quorum <= 0 {
		return errors.New("node: non-positive Quorum")
	}
	if o.Quorum > len(o.Acceptors) {
		return fmt.Errorf("node: %w: quorum %d exceeds %d acceptors", paxos.ErrNoQuorum, o.Quorum, len(o.Acceptors))
	}
	return nil
}
