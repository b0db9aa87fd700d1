// Package integration exercises a multi-node deployment end to end over
// the in-memory transport, covering the scenarios and invariants a real
// network deployment must also satisfy.
package integration

import (
    "context"
    "fmt"
    "io"
    "log"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/paxoslabs/go-mpaxos/internal/demoapp"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos/node"
    "github.com/paxoslabs/go-mpaxos/pkg/storage"
    "github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
    "github.com/paxoslabs/go-mpaxos/pkg/transport/inmemtransport"
)

type testCluster struct {
    ids       []int
    quorum    int
    reg       *inmemtransport.Registry
    logger    *log.Logger
    nodes     map[int]*node.Node
    stores    map[int]*demoapp.Store
    accStores map[int]storage.AcceptorStore
    decStores map[int]storage.DecisionStore
}

func newTestCluster(t *testing.T, n int) *testCluster {
    t.Helper()
    ids := make([]int, n)
    for i := range ids {
        ids[i] = i
    }
    c := &testCluster{
        ids:       ids,
        quorum:    n/2 + 1,
        reg:       inmemtransport.NewRegistry(),
        logger:    log.New(io.Discard, "", 0),
        nodes:     make(map[int]*node.Node),
        stores:    make(map[int]*demoapp.Store),
        accStores: make(map[int]storage.AcceptorStore),
        decStores: make(map[int]storage.DecisionStore),
    }
    for _, id := range ids {
        c.spawn(t, id)
    }
    return c
}

// spawn constructs and registers node id, reusing any durable stores left
// behind by a prior spawn of the same id (simulating a process restart
// that keeps its disk but loses its in-memory state).
func (c *testCluster) spawn(t *testing.T, id int) *node.Node {
    t.Helper()
    accStore, ok := c.accStores[id]
    if !ok {
        accStore = inmem.NewAcceptorStore()
        c.accStores[id] = accStore
    }
    decStore, ok := c.decStores[id]
    if !ok {
        decStore = inmem.NewDecisionStore()
        c.decStores[id] = decStore
    }
    store := demoapp.NewStore()
    c.stores[id] = store

    nd, err := node.New(node.Options{
        ID:            id,
        Acceptors:     c.ids,
        Replicas:      c.ids,
        Quorum:        c.quorum,
        Transport:     inmemtransport.New(c.reg),
        Codec:         demoapp.Codec{},
        StateMachine:  store,
        AcceptorStore: accStore,
        DecisionStore: decStore,
        Logger:        c.logger,
    })
    if err != nil {
        t.Fatalf("node.New(%d): %v", id, err)
    }
    c.nodes[id] = nd
    c.reg.Register(id, nd)
    return nd
}

func (c *testCluster) startAll(t *testing.T, ctx context.Context) {
    t.Helper()
    for _, nd := range c.nodes {
        if err := nd.Start(ctx); err != nil {
            t.Fatalf("Start: %v", err)
        }
    }
}

func (c *testCluster) stopAll() {
    for _, nd := range c.nodes {
        _ = nd.Stop(context.Background())
    }
}

// kill stops and unregisters id so sends addressed to it fail, like a
// crashed or partitioned process rather than a merely-idle one.
func (c *testCluster) kill(id int) {
    c.nodes[id].Stop(context.Background())
    c.reg.Unregister(id)
    delete(c.nodes, id)
}

// restart re-spawns id against its previous durable stores and starts it
// against the live ctx.
func (c *testCluster) restart(t *testing.T, ctx context.Context, id int) *node.Node {
    t.Helper()
    nd := c.spawn(t, id)
    if err := nd.Start(ctx); err != nil {
        t.Fatalf("restart Start(%d): %v", id, err)
    }
    return nd
}

// nextLocalID gives every submitted command its own RequestID.
var nextLocalID atomic.Uint64

func put(t *testing.T, ctx context.Context, nd *node.Node, clientID, key, value string) demoapp.Response {
    t.Helper()
    submitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    resp, err := nd.Submit(submitCtx, demoapp.Command{
        ReqID: paxos.RequestID{ClientID: clientID, LocalID: nextLocalID.Add(1)},
        Op:    demoapp.OpPut,
        Key:   key,
        Value: value,
    })
    if err != nil {
        t.Fatalf("submit put(%s=%s) via %v: %v", key, value, nd, err)
    }
    return resp.(demoapp.Response)
}

// TestThreeReplicaHappyPath covers the basic case: every command submitted
// to one replica eventually decides and applies identically everywhere.
func TestThreeReplicaHappyPath(t *testing.T) {
    c := newTestCluster(t, 3)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    c.startAll(t, ctx)
    defer c.stopAll()

    put(t, ctx, c.nodes[0], "client", "x", "a")
    put(t, ctx, c.nodes[0], "client", "y", "b")

    waitUntil(t, 3*time.Second, func() bool {
        for _, s := range c.stores {
            snap := s.Snapshot()
            if snap["x"] != "a" || snap["y"] != "b" {
                return false
            }
        }
        return true
    })
}

// TestLeaderCrashMidRunReassignsLeadership kills replica 0 after it has
// decided one command, then verifies the surviving majority keeps deciding
// commands submitted through a different replica.
func TestLeaderCrashMidRunReassignsLeadership(t *testing.T) {
    c := newTestCluster(t, 3)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    c.startAll(t, ctx)
    defer c.stopAll()

    put(t, ctx, c.nodes[0], "client", "x", "1")
    c.kill(0)

    put(t, ctx, c.nodes[1], "client", "y", "2")
    put(t, ctx, c.nodes[1], "client", "z", "3")

    waitUntil(t, 3*time.Second, func() bool {
        for id, s := range c.stores {
            if id == 0 {
                continue
            }
            snap := s.Snapshot()
            if snap["y"] != "2" || snap["z"] != "3" {
                return false
            }
        }
        return true
    })
}

// TestAcceptorRestartRecoversAcceptedPvalues kills replica 2 after a
// command has been accepted there, restarts it against the same durable
// acceptor store, and checks the accepted pvalue survived the restart and
// that the cluster continues making progress afterward.
func TestAcceptorRestartRecoversAcceptedPvalues(t *testing.T) {
    c := newTestCluster(t, 3)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    c.startAll(t, ctx)
    defer c.stopAll()

    put(t, ctx, c.nodes[0], "client", "p", "1")
    waitUntil(t, 3*time.Second, func() bool {
        return c.stores[2].Snapshot()["p"] == "1"
    })

    accStore := c.accStores[2]
    before, err := accStore.LoadAccepted()
    if err != nil {
        t.Fatalf("LoadAccepted: %v", err)
    }
    if len(before) == 0 {
        t.Fatalf("expected acceptor 2 to have recorded at least one accepted pvalue before restart")
    }

    c.kill(2)
    c.restart(t, ctx, 2)

    after, err := c.accStores[2].LoadAccepted()
    if err != nil {
        t.Fatalf("LoadAccepted after restart: %v", err)
    }
    if len(after) < len(before) {
        t.Fatalf("accepted pvalues lost across restart: had %d, now %d", len(before), len(after))
    }

    put(t, ctx, c.nodes[0], "client", "q", "2")
    waitUntil(t, 3*time.Second, func() bool {
        return c.stores[0].Snapshot()["q"] == "2" && c.stores[2].Snapshot()["q"] == "2"
    })
}

// TestConcurrentWritersAllDecidedExactlyOnce submits three distinct
// commands from three different replicas at once and checks every replica
// ends up with exactly those three keys and their values.
func TestConcurrentWritersAllDecidedExactlyOnce(t *testing.T) {
    c := newTestCluster(t, 3)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    c.startAll(t, ctx)
    defer c.stopAll()

    var wg sync.WaitGroup
    for i := 0; i < 3; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            put(t, ctx, c.nodes[i], fmt.Sprintf("client-%d", i), fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
        }(i)
    }
    wg.Wait()

    waitUntil(t, 3*time.Second, func() bool {
        for _, s := range c.stores {
            snap := s.Snapshot()
            for i := 0; i < 3; i++ {
                if snap[fmt.Sprintf("k%d", i)] != fmt.Sprintf("v%d", i) {
                    return false
                }
            }
        }
        return true
    })

    for _, s := range c.stores {
        if len(s.Snapshot()) != 3 {
            t.Fatalf("expected exactly 3 keys applied, got %v", s.Snapshot())
        }
    }
}

// TestSimultaneousStartConvergesToProgress starts every replica at once —
// every node's leader begins as a round-0 candidate simultaneously, the
// natural dueling-leaders case — and checks the cluster still converges to
// a single active leader and makes progress rather than livelocking.
func TestSimultaneousStartConvergesToProgress(t *testing.T) {
    c := newTestCluster(t, 3)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    c.startAll(t, ctx)
    defer c.stopAll()

    put(t, ctx, c.nodes[0], "client", "k", "v")

    waitUntil(t, 3*time.Second, func() bool {
        active := 0
        for _, nd := range c.nodes {
            if nd.Status().IsLeader {
                active++
            }
        }
        return active == 1
    })
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for {
        if cond() {
            return
        }
        if time.Now().After(deadline) {
            t.Fatalf("condition not met within %s", timeout)
        }
        time.Sleep(5 * time.Millisecond)
    }
}
