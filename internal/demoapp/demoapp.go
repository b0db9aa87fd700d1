// Package demoapp is a minimal deterministic key-value store used by
// cmd/paxosd and the example binaries to exercise a running deployment.
// It is not part of the consensus core; it exists purely to give the CLI
// and integration tests something concrete to submit and observe.
package demoapp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos"
)

// Op names the key-value operation a Command carries.
type Op string

const (
	OpPut    Op = "put"
	OpGet    Op = "get"
	OpDelete Op = "delete"
)

// Command is the application command submitted by demoapp clients.
type Command struct {
	ReqID paxos.RequestID `json:"req_id"`
	Op    Op              `json:"op"`
	Key   string          `json:"key"`
	Value string          `json:"value,omitempty"`
}

func (c Command) RequestID() paxos.RequestID { return c.ReqID }

// Response is the result of executing a Command against the Store.
type Response struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// Codec (en/de)codes Command and Response as JSON, matching the wire
// encoding the rest of the stack uses for its own management payloads.
type Codec struct{}

func (Codec) EncodeCommand(cmd paxos.Command) ([]byte, error) {
	c, ok := cmd.(Command)
	if !ok {
		return nil, fmt.Errorf("demoapp: unexpected command type %T", cmd)
	}
	return json.Marshal(c)
}

func (Codec) DecodeCommand(b []byte) (paxos.Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (Codec) EncodeResponse(r paxos.Response) ([]byte, error) {
	resp, ok := r.(Response)
	if !ok {
		return nil, fmt.Errorf("demoapp: unexpected response type %T", r)
	}
	return json.Marshal(resp)
}

func (Codec) DecodeResponse(b []byte) (paxos.Response, error) {
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// Store is a deterministic, single-threaded-by-construction key-value
// state machine: every replica executes the same Commands in the same
// slot order and ends up with the same map contents.
type Store struct {
	mu   sync.Mutex
	data map[string]string
}

func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

// Execute applies cmd at slot and returns the application response (spec
// §4.1's apply operation). Get is side-effect free but still goes through
// consensus so that every replica observes the same read-after-write
// ordering relative to concurrent writers.
func (s *Store) Execute(slot paxos.Slot, cmd paxos.Command) (paxos.Response, bool) {
	c, ok := cmd.(Command)
	if !ok {
		return Response{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.Op {
	case OpPut:
		s.data[c.Key] = c.Value
		return Response{Value: c.Value, Found: true}, true
	case OpDelete:
		_, found := s.data[c.Key]
		delete(s.data, c.Key)
		return Response{Found: found}, true
	case OpGet:
		v, found := s.data[c.Key]
		return Response{Value: v, Found: found}, true
	default:
		return Response{}, false
	}
}

// Snapshot returns a copy of the current key-value contents, for status
// reporting; it never participates in consensus.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
