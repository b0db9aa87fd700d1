// Command memdemo runs a small single-process Multi-Paxos deployment over
// the in-memory transport, submits a handful of key-value commands, and
// prints the events observed at replica 0 and the final state of every
// replica. It exists
// to exercise the core without standing up real network listeners.
package main

import (
    "context"
    "flag"
    "fmt"
    "io"
    "log"
    "time"

    "github.com/paxoslabs/go-mpaxos/internal/demoapp"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos/node"
    "github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
    "github.com/paxoslabs/go-mpaxos/pkg/transport/inmemtransport"
)

func main() {
    n := flag.Int("n", 3, "number of replicas")
    flag.Parse()

    ids := make([]int, *n)
    for i := range ids {
        ids[i] = i
    }
    quorum := len(ids)/2 + 1

    reg := inmemtransport.NewRegistry()
    nodes := make([]*node.Node, 0, len(ids))
    stores := make([]*demoapp.Store, 0, len(ids))
    logger := log.New(io.Discard, "", 0)

    for _, id := range ids {
        store := demoapp.NewStore()
        stores = append(stores, store)
        nd, err := node.New(node.Options{
            ID:            id,
            Acceptors:     ids,
            Replicas:      ids,
            Quorum:        quorum,
            Transport:     inmemtransport.New(reg),
            Codec:         demoapp.Codec{},
            StateMachine:  store,
            AcceptorStore: inmem.NewAcceptorStore(),
            DecisionStore: inmem.NewDecisionStore(),
            Logger:        logger,
        })
        if err != nil {
            log.Fatal(err)
        }
        reg.Register(id, nd)
        nodes = append(nodes, nd)
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    for _, nd := range nodes {
        if err := nd.Start(ctx); err != nil {
            log.Fatal(err)
        }
    }
    defer func() {
        for _, nd := range nodes {
            _ = nd.Stop(context.Background())
        }
    }()

    go watchEvents(ctx, nodes[0])

    fmt.Printf("memdemo: submitting puts against replica 0 and a get against replica %d...\n", 2%len(nodes))
    submit(nodes[0], "alice", 1, demoapp.OpPut, "name", "ada")
    submit(nodes[0], "alice", 2, demoapp.OpPut, "lang", "go")
    submit(nodes[2%len(nodes)], "bob", 1, demoapp.OpGet, "name", "")

    time.Sleep(200 * time.Millisecond)
    for i, s := range stores {
        fmt.Printf("replica %d final state: %v\n", i, s.Snapshot())
    }
}

func submit(nd *node.Node, clientID string, localID uint64, op demoapp.Op, key, value string) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    cmd := demoapp.Command{ReqID: paxos.RequestID{ClientID: clientID, LocalID: localID}, Op: op, Key: key, Value: value}
    resp, err := nd.Submit(ctx, cmd)
    if err != nil {
        fmt.Printf("submit %s(%s) failed: %v\n", op, key, err)
        return
    }
    fmt.Printf("submit %s(%s)=%q -> %+v\n", op, key, value, resp)
}

func watchEvents(ctx context.Context, nd *node.Node) {
    for ev := range nd.Subscribe(ctx) {
        fmt.Printf("event: %-16s slot=%d at=%s\n", ev.Type, ev.Slot, ev.At.Format(time.RFC3339Nano))
    }
}
