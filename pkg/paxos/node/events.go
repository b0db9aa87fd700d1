package node

import (
	"context"
	"sync"
	"time"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
)

type EventType string

const (
	EventLeaderActive   EventType = "leader_active"
	EventLeaderStandby  EventType = "leader_standby"
	EventSlotApplied    EventType = "slot_applied"
	EventDurabilityFail EventType = "durability_failed"
)

// Event is an application-consumable event describing a node's state
// changes. Only Type and At are populated; Slot is left zero for every
// event type, including EventSlotApplied.
type Event struct {
	Type EventType
	At   time.Time
	Slot paxos.Slot
}

// Subscribe returns a channel of events. The returned channel is buffered
// and closed automatically when ctx is done. Events may be dropped if the
// consumer is too slow (best-effort delivery), to avoid back-pressuring
// internal state machines.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)
	n.eb.add(ch)
	go func() {
		<-ctx.Done()
		n.eb.remove(ch)
		close(ch)
	}()
	return ch
}

type eventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[chan Event]struct{})
	}
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
	e.mu.Lock()
	if e.subs != nil {
		delete(e.subs, ch)
	}
	e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
	e.mu.Lock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	e.mu.Unlock()
}
